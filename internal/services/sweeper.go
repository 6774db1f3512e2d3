package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/birdnest/apiserver/internal/store"
)

// RefreshTokenSweeper periodically deletes expired refresh tokens. Reads
// already ignore expired rows; the sweep only reclaims space.
type RefreshTokenSweeper struct {
	tx       Transactor
	stores   store.Manager
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewRefreshTokenSweeper(tx Transactor, stores store.Manager, interval time.Duration, logger *slog.Logger) *RefreshTokenSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshTokenSweeper{
		tx:       tx,
		stores:   stores,
		interval: interval,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sweep deletes every token expired as of now.
func (s *RefreshTokenSweeper) Sweep(ctx context.Context) (int64, error) {
	return s.stores.RefreshTokens(s.tx.Conn()).DeleteExpired(ctx, s.now())
}

// Run sweeps once per interval until ctx is done.
func (s *RefreshTokenSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				s.logger.Error("sweep refresh tokens", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("swept refresh tokens", "deleted", n)
			}
		}
	}
}
