package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditledger/internal/model"
)

func newStoreWithAccount(t *testing.T, accountID string) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	_, err := store.CreateAccount(context.Background(), accountID, "tg-"+accountID)
	require.NoError(t, err)
	return store
}

func TestCreateAccount_Duplicate(t *testing.T) {
	store := newStoreWithAccount(t, "acc-1")

	_, err := store.CreateAccount(context.Background(), "acc-1", "tg-other")
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestGetBalance_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetBalance(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCreatePending(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithAccount(t, "acc-1")

	order, err := store.CreatePending(ctx, "ORD-1", "acc-1", 100, []byte(`{"provider":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, order.Status)
	assert.Equal(t, int64(100), order.Amount)

	_, err = store.CreatePending(ctx, "ORD-1", "acc-1", 100, nil)
	assert.ErrorIs(t, err, ErrDuplicateOrder)

	_, err = store.CreatePending(ctx, "ORD-2", "acc-1", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = store.CreatePending(ctx, "ORD-3", "ghost", 100, nil)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCompleteAndCredit(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithAccount(t, "acc-1")
	_, err := store.CreatePending(ctx, "ORD-1", "acc-1", 100, nil)
	require.NoError(t, err)

	order, balance, applied, err := store.CompleteAndCredit(ctx, "ORD-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(100), balance)
	assert.Equal(t, model.StatusCompleted, order.Status)
	require.NotNil(t, order.CompletedAt)

	// Second application is a no-op, not an error.
	order, balance, applied, err = store.CompleteAndCredit(ctx, "ORD-1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(100), balance)
	assert.Equal(t, model.StatusCompleted, order.Status)
}

func TestCompleteAndCredit_UnknownOrder(t *testing.T) {
	store := newStoreWithAccount(t, "acc-1")

	_, _, _, err := store.CompleteAndCredit(context.Background(), "ORD-404")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCompleteAndCredit_FailedOrder(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithAccount(t, "acc-1")
	_, err := store.CreatePending(ctx, "ORD-1", "acc-1", 100, nil)
	require.NoError(t, err)
	_, err = store.MarkFailed(ctx, "ORD-1", "declined")
	require.NoError(t, err)

	order, _, applied, err := store.CompleteAndCredit(ctx, "ORD-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, applied)
	require.NotNil(t, order)
	assert.Equal(t, model.StatusFailed, order.Status)

	balance, err := store.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestMarkFailed_Transitions(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithAccount(t, "acc-1")
	_, err := store.CreatePending(ctx, "ORD-1", "acc-1", 100, nil)
	require.NoError(t, err)

	order, err := store.MarkFailed(ctx, "ORD-1", "declined")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, order.Status)
	assert.Equal(t, "declined", order.FailureReason)

	// Terminal orders never move again.
	order, err = store.MarkFailed(ctx, "ORD-1", "declined again")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "declined", order.FailureReason)

	_, err = store.MarkFailed(ctx, "ORD-404", "whatever")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

// Concurrent completions of the same order: exactly one wins.
func TestCompleteAndCredit_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithAccount(t, "acc-1")
	_, err := store.CreatePending(ctx, "ORD-1", "acc-1", 50, nil)
	require.NoError(t, err)

	const n = 32
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, applied, err := store.CompleteAndCredit(ctx, "ORD-1")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if applied {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
	balance, err := store.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)
}

// Distinct orders against one account credit independently and sum up.
func TestCompleteAndCredit_ManyOrdersOneAccount(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithAccount(t, "acc-1")

	const n = 20
	amounts := make([]int64, n)
	var want int64
	for i := 0; i < n; i++ {
		amounts[i] = int64(10 + i)
		want += amounts[i]
		_, err := store.CreatePending(ctx, orderID(i), "acc-1", amounts[i], nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, _, err := store.CompleteAndCredit(ctx, orderID(i)); err != nil {
				t.Errorf("order %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	balance, err := store.GetBalance(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, want, balance)
}

func TestListStalePending(t *testing.T) {
	ctx := context.Background()
	store := newStoreWithAccount(t, "acc-1")

	_, err := store.CreatePending(ctx, "ORD-1", "acc-1", 100, nil)
	require.NoError(t, err)
	_, err = store.CreatePending(ctx, "ORD-2", "acc-1", 100, nil)
	require.NoError(t, err)
	_, _, _, err = store.CompleteAndCredit(ctx, "ORD-2")
	require.NoError(t, err)

	stale, err := store.ListStalePending(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "ORD-1", stale[0].OrderID)

	none, err := store.ListStalePending(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func orderID(i int) string {
	return "ORD-" + string(rune('A'+i))
}
