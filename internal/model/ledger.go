package model

import "time"

// OrderStatus is the lifecycle state of a payment order.
// Transitions are pending -> completed or pending -> failed; both terminal.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusCompleted OrderStatus = "completed"
	StatusFailed    OrderStatus = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Known provider outcome values. The provider payload itself is opaque;
// anything other than OutcomeSuccess is handled as a failure outcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Account holds a user's credit balance. The balance only moves through
// the reconciliation engine's atomic credit; nothing else writes it.
type Account struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Balance    int64     `json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
}

// Order is a single payment attempt, keyed by the provider-issued order id.
// Completed orders are immutable; rows are never deleted (audit trail).
type Order struct {
	OrderID       string      `json:"order_id"`
	AccountID     string      `json:"account_id"`
	Amount        int64       `json:"amount"`
	Status        OrderStatus `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	RawMetadata   []byte      `json:"raw_metadata,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

type CreateOrderRequest struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Metadata  []byte `json:"metadata,omitempty"`
}

type ReconcileRequest struct {
	OrderID  string `json:"order_id"`
	Outcome  string `json:"outcome"`
	Metadata []byte `json:"metadata,omitempty"`
}

// ReconcileResult is what a reconcile call resolves to. BalanceDelta is the
// amount actually credited by this call: the order amount for the one call
// that wins the completion, zero for every re-delivery.
type ReconcileResult struct {
	OrderID      string      `json:"order_id"`
	Status       OrderStatus `json:"status"`
	NewBalance   int64       `json:"new_balance"`
	BalanceDelta int64       `json:"balance_delta"`
	Applied      bool        `json:"applied"`
}

// AuditEvent is emitted once per reconcile call, no-ops included.
type AuditEvent struct {
	EventID        string      `json:"event_id"`
	OrderID        string      `json:"order_id"`
	PreviousStatus OrderStatus `json:"previous_status"`
	NewStatus      OrderStatus `json:"new_status"`
	BalanceDelta   int64       `json:"balance_delta"`
	Timestamp      time.Time   `json:"timestamp"`
}
