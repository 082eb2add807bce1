package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"creditledger/internal/model"
)

// PostgresStore persists accounts and orders in Postgres and keeps a hot
// balance cache in Redis. The idempotency guard is a row lock on the order:
// SELECT ... FOR UPDATE serializes concurrent reconciliations for one order,
// and the conditional transition plus balance increment commit together.
type PostgresStore struct {
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
}

func NewPostgresStore(db *pgxpool.Pool, rdb *redis.Client) *PostgresStore {
	return &PostgresStore{
		dbPool:      db,
		redisClient: rdb,
	}
}

func balanceKey(accountID string) string {
	return fmt.Sprintf("balance:%s", accountID)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, accountID, externalID string) (*model.Account, error) {
	tag, err := s.dbPool.Exec(ctx,
		`INSERT INTO accounts (id, external_id) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		accountID, externalID)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicateAccount
	}
	return &model.Account{ID: accountID, ExternalID: externalID, Balance: 0, CreatedAt: time.Now()}, nil
}

// GetBalance reads the Redis cache first. On a miss it fetches from
// Postgres and warms the cache, no TTL — this is the primary cache and is
// refreshed by every committed credit.
func (s *PostgresStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	cached, err := s.redisClient.Get(ctx, balanceKey(accountID)).Int64()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		slog.Warn("redis balance read failed, falling back to postgres", "account_id", accountID, "error", err)
	}
	return s.warmUpCache(ctx, accountID)
}

// warmUpCache fetches the balance from Postgres and puts it into Redis.
func (s *PostgresStore) warmUpCache(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.dbPool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	if err := s.redisClient.Set(ctx, balanceKey(accountID), balance, 0).Err(); err != nil {
		slog.Warn("failed to warm balance cache", "account_id", accountID, "error", err)
	}
	return balance, nil
}

func (s *PostgresStore) CreatePending(ctx context.Context, orderID, accountID string, amount int64, metadata []byte) (*model.Order, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var exists bool
	err := s.dbPool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check account: %w", err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	var createdAt time.Time
	err = s.dbPool.QueryRow(ctx, `
		INSERT INTO orders (order_id, account_id, amount, status, raw_metadata)
		VALUES ($1, $2, $3, 'pending', $4)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING created_at`,
		orderID, accountID, amount, nullableBytes(metadata)).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDuplicateOrder
		}
		return nil, fmt.Errorf("insert order: %w", err)
	}

	return &model.Order{
		OrderID:     orderID,
		AccountID:   accountID,
		Amount:      amount,
		Status:      model.StatusPending,
		RawMetadata: metadata,
		CreatedAt:   createdAt,
	}, nil
}

func (s *PostgresStore) FindOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return scanOrder(s.dbPool.QueryRow(ctx, orderQuery+` WHERE order_id = $1`, orderID))
}

// CompleteAndCredit runs the whole guard in one transaction: lock the order
// row, transition it if still pending, bump the account balance, commit.
// Losing callers observe the committed terminal state and do no work.
func (s *PostgresStore) CompleteAndCredit(ctx context.Context, orderID string) (*model.Order, int64, bool, error) {
	tx, err := s.dbPool.Begin(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := scanOrder(tx.QueryRow(ctx, orderQuery+` WHERE order_id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, 0, false, err
	}

	switch order.Status {
	case model.StatusCompleted:
		// Re-delivery: report the balance as-is, nothing to apply.
		var balance int64
		if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, order.AccountID).Scan(&balance); err != nil {
			return nil, 0, false, fmt.Errorf("select balance: %w", err)
		}
		return order, balance, false, nil
	case model.StatusFailed:
		return order, 0, false, ErrInvalidTransition
	}

	completedAt := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'completed', completed_at = $2
		WHERE order_id = $1 AND status = 'pending'`, orderID, completedAt); err != nil {
		return nil, 0, false, fmt.Errorf("complete order: %w", err)
	}

	var newBalance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance = balance + $1
		WHERE id = $2 RETURNING balance`, order.Amount, order.AccountID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, false, ErrAccountNotFound
		}
		return nil, 0, false, fmt.Errorf("credit account: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, false, fmt.Errorf("commit: %w", err)
	}

	// Cache refresh after commit only. A failed refresh just means the next
	// GetBalance warms from Postgres again.
	if err := s.redisClient.Set(ctx, balanceKey(order.AccountID), newBalance, 0).Err(); err != nil {
		slog.Warn("failed to refresh balance cache", "account_id", order.AccountID, "error", err)
	}

	order.Status = model.StatusCompleted
	order.CompletedAt = &completedAt
	return order, newBalance, true, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, orderID, reason string) (*model.Order, error) {
	tx, err := s.dbPool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := scanOrder(tx.QueryRow(ctx, orderQuery+` WHERE order_id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return order, ErrInvalidTransition
	}

	completedAt := time.Now()
	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status = 'failed', failure_reason = $2, completed_at = $3
		WHERE order_id = $1 AND status = 'pending'`, orderID, reason, completedAt); err != nil {
		return nil, fmt.Errorf("fail order: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	order.Status = model.StatusFailed
	order.FailureReason = reason
	order.CompletedAt = &completedAt
	return order, nil
}

func (s *PostgresStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error) {
	rows, err := s.dbPool.Query(ctx,
		orderQuery+` WHERE status = 'pending' AND created_at < $1 ORDER BY created_at LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

const orderQuery = `
	SELECT order_id, account_id, amount, status,
	       COALESCE(failure_reason, ''), raw_metadata, created_at, completed_at
	FROM orders`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.OrderID, &o.AccountID, &o.Amount, &o.Status,
		&o.FailureReason, &o.RawMetadata, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
