package mw

import (
	"context"
	"net/http"
)

type ctxKey string

const requestIDKey ctxKey = "rid"

// ridSlot holds the id chosen further down the chain so outer middleware
// (access log, recover) can report it once the handler returns.
type ridSlot struct {
	id string
}

// RequestID installs an empty request-id slot in the request context.
// It does not generate ids itself; the echo handler fills the slot with
// SetRID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), requestIDKey, &ridSlot{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetRID records id in the slot installed by RequestID. Without a slot it
// is a no-op.
func SetRID(ctx context.Context, id string) {
	if s, ok := ctx.Value(requestIDKey).(*ridSlot); ok {
		s.id = id
	}
}

func RID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(*ridSlot)
	if s == nil {
		return ""
	}
	return s.id
}
