package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"
)

// Handler is the bus-facing notification gateway: it subscribes to the
// provider callback topic and delegates to the reconciliation engine.
// The sweeper republishes stale pending orders to the same topic, so a
// message here may be a first delivery, a provider retry, or an internal
// re-delivery; Reconcile absorbs all three.
type Handler struct {
	svc  service.ReconcileService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.ReconcileService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to the callback topic and blocks until ctx is cancelled.
func (h *Handler) Start(ctx context.Context) error {
	// QueueSubscribe: with several instances running, each callback is
	// delivered to exactly one member of the group.
	sub, err := h.nc.QueueSubscribe(service.TopicPaymentCallbacks, "reconciler_group", func(m *nats.Msg) {
		var req model.ReconcileRequest
		if err := json.Unmarshal(m.Data, &req); err != nil {
			slog.Error("nats: failed to unmarshal payment callback", "error", err)
			return
		}

		res, err := h.svc.Reconcile(ctx, req)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				// Already alerted by the engine; nothing to retry here.
				return
			}
			// Transient storage fault: the order stays pending and the
			// provider or the sweeper will redeliver.
			slog.Error("nats: reconcile failed", "order_id", req.OrderID, "error", err)
			return
		}

		slog.Info("nats: callback reconciled",
			"order_id", res.OrderID,
			"status", res.Status,
			"balance_delta", res.BalanceDelta,
		)
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS callback gateway is running")

	<-ctx.Done()
	slog.Info("NATS callback gateway shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
