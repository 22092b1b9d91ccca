// Package echo answers every request with a small JSON document whose
// latency and size follow the configured echo settings.
package echo

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/3xpluto/go-upstream/internal/config"
	"github.com/3xpluto/go-upstream/internal/mw"
	"github.com/3xpluto/go-upstream/internal/rid"
	"github.com/3xpluto/go-upstream/internal/trace"
)

type Handler struct {
	ids      rid.Generator
	trace    *trace.Printer
	composer *Composer
	log      *slog.Logger
}

// NewHandler wires the handler. printer may be nil; it is ignored when
// cfg.Quiet is set.
func NewHandler(cfg config.EchoConfig, ids rid.Generator, printer *trace.Printer, log *slog.Logger) *Handler {
	if cfg.Quiet {
		printer = nil
	}
	return &Handler{
		ids:      ids,
		trace:    printer,
		composer: NewComposer(cfg),
		log:      log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := h.ids.Generate()
	mw.SetRID(r.Context(), id)

	if h.trace != nil {
		h.trace.Print(id, r)
	}

	resp, err := h.composer.Compose(r.Context(), id)
	if err != nil {
		h.log.Debug("client gone before headers", slog.String("rid", id), slog.String("error", err.Error()))
		return
	}

	hdr := w.Header()
	for k, v := range resp.Header {
		hdr[k] = v
	}
	w.WriteHeader(http.StatusOK)

	// Headers go out now; the body may still be delayed.
	if err := http.NewResponseController(w).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.log.Debug("flush headers failed", slog.String("rid", id), slog.String("error", err.Error()))
	}

	if _, err := resp.Body.WriteTo(r.Context(), w); err != nil {
		h.log.Debug("client gone before body", slog.String("rid", id), slog.String("error", err.Error()))
	}
}
