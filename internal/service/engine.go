package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"creditledger/internal/model"
	"creditledger/internal/repository"
)

// Engine is the reconciliation engine. It owns the order state machine and
// is the only writer of account balances, via the store's atomic
// complete-and-credit. Audit events go out on the bus best-effort; losing
// one never rolls back a committed reconciliation.
type Engine struct {
	store repository.Store
	bus   repository.MessageBus
}

func NewEngine(store repository.Store, bus repository.MessageBus) *Engine {
	return &Engine{store: store, bus: bus}
}

func (e *Engine) CreateAccount(ctx context.Context, accountID, externalID string) (*model.Account, error) {
	return e.store.CreateAccount(ctx, accountID, externalID)
}

func (e *Engine) GetBalance(ctx context.Context, accountID string) (int64, error) {
	return e.store.GetBalance(ctx, accountID)
}

func (e *Engine) FindOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return e.store.FindOrder(ctx, orderID)
}

// CreatePending records the payment attempt. Checkout retries hit
// ErrDuplicateOrder in the store; the order already exists from a prior
// attempt, so the retry resolves to the existing record, not an error.
func (e *Engine) CreatePending(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error) {
	if req.OrderID == "" {
		return nil, repository.ErrInvalidOrderID
	}
	if req.Amount <= 0 {
		return nil, repository.ErrInvalidAmount
	}

	order, err := e.store.CreatePending(ctx, req.OrderID, req.AccountID, req.Amount, req.Metadata)
	if errors.Is(err, repository.ErrDuplicateOrder) {
		slog.Info("order already exists, returning existing record", "order_id", req.OrderID)
		return e.store.FindOrder(ctx, req.OrderID)
	}
	return order, err
}

// Reconcile applies a provider outcome notification to an order.
//
// The provider delivers at least once and possibly out of order, so every
// path here resolves a repeat delivery to the order's terminal state with a
// zero balance delta. Only storage faults and callbacks for orders that
// were never created escalate as errors.
func (e *Engine) Reconcile(ctx context.Context, req model.ReconcileRequest) (*model.ReconcileResult, error) {
	order, err := e.store.FindOrder(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			// Either a lost write or a forged callback. Operator alert.
			slog.Error("callback for unknown order", "order_id", req.OrderID, "outcome", req.Outcome)
		}
		return nil, err
	}

	prev := order.Status
	if prev.Terminal() {
		return e.resolveTerminal(ctx, order, prev)
	}

	if req.Outcome == model.OutcomeSuccess {
		return e.applyCredit(ctx, order, prev)
	}
	return e.applyFailure(ctx, order, prev, req.Outcome)
}

// resolveTerminal handles re-delivery to an already terminal order.
func (e *Engine) resolveTerminal(ctx context.Context, order *model.Order, prev model.OrderStatus) (*model.ReconcileResult, error) {
	balance, err := e.store.GetBalance(ctx, order.AccountID)
	if err != nil {
		return nil, err
	}
	e.emitAudit(order.OrderID, prev, order.Status, 0)
	return &model.ReconcileResult{
		OrderID:    order.OrderID,
		Status:     order.Status,
		NewBalance: balance,
	}, nil
}

func (e *Engine) applyCredit(ctx context.Context, order *model.Order, prev model.OrderStatus) (*model.ReconcileResult, error) {
	completed, newBalance, applied, err := e.store.CompleteAndCredit(ctx, order.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			// Lost a race against a failure transition. The order is
			// terminal now; report its state, credit nothing.
			return e.resolveTerminal(ctx, completed, prev)
		}
		// Storage fault mid-transaction: everything rolled back, the order
		// is still pending and the provider's next retry can complete it.
		slog.Error("credit transaction failed, order left pending",
			"order_id", order.OrderID, "error", err)
		return nil, err
	}

	var delta int64
	if applied {
		delta = completed.Amount
	}
	e.emitAudit(completed.OrderID, prev, completed.Status, delta)
	return &model.ReconcileResult{
		OrderID:      completed.OrderID,
		Status:       completed.Status,
		NewBalance:   newBalance,
		BalanceDelta: delta,
		Applied:      applied,
	}, nil
}

// applyFailure covers both provider-reported failures and malformed
// outcomes: pending -> failed, never a balance change.
func (e *Engine) applyFailure(ctx context.Context, order *model.Order, prev model.OrderStatus, outcome string) (*model.ReconcileResult, error) {
	reason := "provider reported failure"
	if outcome != model.OutcomeFailure {
		reason = fmt.Sprintf("unrecognized provider outcome %q", outcome)
	}

	failed, err := e.store.MarkFailed(ctx, order.OrderID, reason)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return e.resolveTerminal(ctx, failed, prev)
		}
		slog.Error("failure transition failed, order left pending",
			"order_id", order.OrderID, "error", err)
		return nil, err
	}

	e.emitAudit(failed.OrderID, prev, failed.Status, 0)
	return &model.ReconcileResult{
		OrderID: failed.OrderID,
		Status:  failed.Status,
	}, nil
}

// emitAudit publishes the per-call audit event. Best-effort: the
// reconciliation already committed, so a bus failure is logged, not
// propagated.
func (e *Engine) emitAudit(orderID string, prev, next model.OrderStatus, delta int64) {
	event := model.AuditEvent{
		EventID:        uuid.NewString(),
		OrderID:        orderID,
		PreviousStatus: prev,
		NewStatus:      next,
		BalanceDelta:   delta,
		Timestamp:      time.Now().UTC(),
	}
	slog.Info("reconciliation resolved",
		"order_id", orderID,
		"previous_status", prev,
		"new_status", next,
		"balance_delta", delta,
	)
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal audit event", "order_id", orderID, "error", err)
		return
	}
	if err := e.bus.Publish(TopicAuditEvents, data); err != nil {
		slog.Warn("failed to publish audit event", "order_id", orderID, "error", err)
	}
}
