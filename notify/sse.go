package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c0deZ3R0/docsync/errors"
)

// SSEHandler streams the same events as Handler over Server-Sent Events,
// for clients that cannot open a WebSocket. Each event is sent with its ID
// and type; idle connections get a comment line every PingInterval.
func (h *Hub) SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		c := h.register(r.URL.Query().Get("document"))
		defer h.unregister(c)

		ticker := time.NewTicker(h.config.PingInterval)
		defer ticker.Stop()
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.done:
				return
			case e := <-c.ch:
				b, err := json.Marshal(e)
				if err != nil {
					h.logger.LogError(ctx, errors.E(errors.Op("notify.SSEHandler"), errors.Component("notify"), errors.KindInternal, err),
						"failed to encode event")
					continue
				}
				if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, b); err != nil {
					h.logger.Debug("sse write failed, dropping client", slog.String("client", c.id), slog.Any("error", err))
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
