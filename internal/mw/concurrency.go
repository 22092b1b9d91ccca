package mw

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// InFlightLimit bounds how many requests are served at once. A nil or
// zero-capacity limit admits everything.
type InFlightLimit struct {
	sem   *semaphore.Weighted
	max   int
	inUse atomic.Int64
}

func NewInFlightLimit(maxInFlight int) *InFlightLimit {
	if maxInFlight <= 0 {
		return &InFlightLimit{}
	}
	return &InFlightLimit{sem: semaphore.NewWeighted(int64(maxInFlight)), max: maxInFlight}
}

func (l *InFlightLimit) Enabled() bool { return l != nil && l.sem != nil }

func (l *InFlightLimit) Cap() int {
	if !l.Enabled() {
		return 0
	}
	return l.max
}

func (l *InFlightLimit) InUse() int {
	if !l.Enabled() {
		return 0
	}
	return int(l.inUse.Load())
}

func (l *InFlightLimit) tryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inUse.Add(1)
	return true
}

func (l *InFlightLimit) release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// ConcurrencyLimit answers 503 too_busy once the limit is reached.
// Requests parked on a configured delay still hold their slot.
func ConcurrencyLimit(l *InFlightLimit, next http.Handler) http.Handler {
	if !l.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.tryAcquire() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":         "too_busy",
				"message":       "server is at max concurrency",
				"max_in_flight": l.Cap(),
			})
			return
		}
		defer l.release()
		next.ServeHTTP(w, r)
	})
}
