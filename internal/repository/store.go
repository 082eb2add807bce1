package repository

import (
	"context"
	"time"

	"creditledger/internal/model"
)

// Store is the persistence boundary for accounts and the order ledger.
// Postgres backs it in production; the in-memory store backs tests.
//
// CompleteAndCredit is the idempotency guard: the pending -> completed
// transition and the balance increment happen in one atomic unit, and only
// the caller that wins the transition credits the account.
type Store interface {
	// CreateAccount registers an account with a zero balance. The excluded
	// bot layer is the real creator; this exists for seeding and tests.
	CreateAccount(ctx context.Context, accountID, externalID string) (*model.Account, error)
	GetBalance(ctx context.Context, accountID string) (int64, error)

	// CreatePending records a payment attempt before the provider is
	// invoked. Fails with ErrDuplicateOrder if the order id is taken and
	// with ErrInvalidAmount if amount <= 0.
	CreatePending(ctx context.Context, orderID, accountID string, amount int64, metadata []byte) (*model.Order, error)
	FindOrder(ctx context.Context, orderID string) (*model.Order, error)

	// CompleteAndCredit atomically transitions the order pending ->
	// completed and increments the owning account's balance by the order
	// amount. If the order is already completed it returns the existing
	// record with applied=false and no balance change. A failed order
	// returns ErrInvalidTransition.
	CompleteAndCredit(ctx context.Context, orderID string) (order *model.Order, newBalance int64, applied bool, err error)

	// MarkFailed transitions pending -> failed. Terminal orders return
	// ErrInvalidTransition alongside the current record.
	MarkFailed(ctx context.Context, orderID, reason string) (*model.Order, error)

	// ListStalePending returns pending orders created before cutoff, for
	// the reconciliation sweeper.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error)
}
