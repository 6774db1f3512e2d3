package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/birdnest/apiserver/internal/apperr"
)

// Pinger reports whether a dependency is reachable. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Healthz answers 200 when every pinger responds within a second, and 503
// otherwise.
func Healthz(logger *slog.Logger, pingers ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		for _, p := range pingers {
			if err := p.PingContext(ctx); err != nil {
				if logger != nil {
					logger.Warn("health check failed", "error", err)
				}
				apperr.WriteJSON(w, http.StatusServiceUnavailable, apperr.Response{
					Message: http.StatusText(http.StatusServiceUnavailable),
				})
				return
			}
		}
		apperr.WriteJSON(w, http.StatusOK, apperr.Response{Message: "ok"})
	}
}
