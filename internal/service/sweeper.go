package service

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper purges abandoned PENDING payment records in the background.
// Records older than the TTL already stopped reserving slots; the sweep
// only removes the rows.
type Sweeper struct {
	payments PaymentLedger
	ttl      time.Duration
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(payments PaymentLedger, ttl, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{payments: payments, ttl: ttl, interval: interval, log: log}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := s.payments.PurgeAbandoned(ctx, s.ttl)
			if err != nil {
				s.log.Error("payment sweep failed", "error", err)
				continue
			}
			if purged > 0 {
				s.log.Info("purged abandoned payments", "count", purged)
			}
		}
	}
}
