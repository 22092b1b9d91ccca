package mw

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/3xpluto/go-upstream/internal/httpx"
)

// Recover turns a handler panic into a 500 when nothing has been sent yet.
// Once the response has started, the connection is aborted instead so the
// client never sees a truncated response that looks complete.
func Recover(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &httpx.StatusWriter{ResponseWriter: w}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error("panic serving request",
				slog.String("rid", RID(r.Context())),
				slog.String("panic", fmt.Sprint(rec)),
				slog.Bool("response_started", sw.Started()),
			)
			if sw.Started() {
				panic(http.ErrAbortHandler)
			}

			h := w.Header()
			for k := range h {
				delete(h, k)
			}
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": "internal_error",
			})
		}()
		next.ServeHTTP(sw, r)
	})
}
