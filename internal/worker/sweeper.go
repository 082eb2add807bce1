package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"creditledger/internal/repository"
)

// TopicStaleOrders carries orders that have sat in pending past the sweep
// age. The excluded bot/checkout layer listens here to re-query the
// provider; whatever outcome comes back re-enters through Reconcile, which
// is safe because completion is idempotent.
const TopicStaleOrders = "reconciliation.stale"

const sweepBatchSize = 100

// Sweeper periodically scans for orders stuck in pending. It never decides
// an outcome itself — a stuck order means the provider's notification was
// lost or its transaction rolled back, and only the provider knows which.
type Sweeper struct {
	store    repository.Store
	bus      repository.MessageBus
	interval time.Duration
	maxAge   time.Duration
}

func NewSweeper(store repository.Store, bus repository.MessageBus, interval, maxAge time.Duration) *Sweeper {
	return &Sweeper{store: store, bus: bus, interval: interval, maxAge: maxAge}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("reconciliation sweeper is running", "interval", s.interval, "max_age", s.maxAge)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper received shutdown signal")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) Stop(ctx context.Context) error {
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.maxAge)
	orders, err := s.store.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		slog.Error("sweeper: failed to list stale pending orders", "error", err)
		return
	}

	for _, order := range orders {
		slog.Warn("order stuck in pending past sweep age",
			"order_id", order.OrderID,
			"account_id", order.AccountID,
			"age", time.Since(order.CreatedAt),
		)
		data, err := json.Marshal(order)
		if err != nil {
			slog.Error("sweeper: failed to marshal order", "order_id", order.OrderID, "error", err)
			continue
		}
		if err := s.bus.Publish(TopicStaleOrders, data); err != nil {
			slog.Error("sweeper: failed to publish stale order", "order_id", order.OrderID, "error", err)
		}
	}
}
