package service

import (
	"context"

	"creditledger/internal/model"
)

// Bus topics shared by the transports and the sweeper.
const (
	// TopicPaymentCallbacks carries inbound provider notifications and
	// sweeper re-deliveries. At-least-once; handlers must be idempotent.
	TopicPaymentCallbacks = "payments.callback"
	// TopicAuditEvents carries one AuditEvent per reconcile call.
	TopicAuditEvents = "reconciliation.events"
)

// ReconcileService defines the business operations of the credit ledger.
// All transport layers (HTTP, NATS) and the sweeper depend on this
// interface, not on the concrete engine.
type ReconcileService interface {
	// CreateAccount registers an account with a zero balance.
	CreateAccount(ctx context.Context, accountID, externalID string) (*model.Account, error)
	// GetBalance returns the account's current credit balance.
	GetBalance(ctx context.Context, accountID string) (int64, error)
	// CreatePending records a payment attempt before the provider is
	// invoked. A retried creation for an existing order id succeeds and
	// returns the existing order.
	CreatePending(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error)
	// FindOrder looks up a single order by its provider-issued id.
	FindOrder(ctx context.Context, orderID string) (*model.Order, error)
	// Reconcile applies a provider outcome to an order. Safe to call any
	// number of times with the same arguments.
	Reconcile(ctx context.Context, req model.ReconcileRequest) (*model.ReconcileResult, error)
}
