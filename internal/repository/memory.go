package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"creditledger/internal/model"
)

// MemoryStore is the Store used by tests and local development. It mirrors
// the Postgres store's serialization: a per-order mutex (acquired first)
// plays the role of the row lock, a per-account mutex serializes balance
// increments. Lock order is always order then account.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	orders   map[string]*model.Order

	orderLocks   sync.Map // order id -> *sync.Mutex
	accountLocks sync.Map // account id -> *sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		orders:   make(map[string]*model.Order),
	}
}

func (s *MemoryStore) lockFor(m *sync.Map, key string) *sync.Mutex {
	v, _ := m.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *MemoryStore) CreateAccount(ctx context.Context, accountID, externalID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; ok {
		return nil, ErrDuplicateAccount
	}
	acc := &model.Account{ID: accountID, ExternalID: externalID, Balance: 0, CreatedAt: time.Now()}
	s.accounts[accountID] = acc
	cp := *acc
	return &cp, nil
}

func (s *MemoryStore) GetBalance(ctx context.Context, accountID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acc.Balance, nil
}

func (s *MemoryStore) CreatePending(ctx context.Context, orderID, accountID string, amount int64, metadata []byte) (*model.Order, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	if _, ok := s.orders[orderID]; ok {
		return nil, ErrDuplicateOrder
	}
	order := &model.Order{
		OrderID:     orderID,
		AccountID:   accountID,
		Amount:      amount,
		Status:      model.StatusPending,
		RawMetadata: metadata,
		CreatedAt:   time.Now(),
	}
	s.orders[orderID] = order
	cp := *order
	return &cp, nil
}

func (s *MemoryStore) FindOrder(ctx context.Context, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *MemoryStore) CompleteAndCredit(ctx context.Context, orderID string) (*model.Order, int64, bool, error) {
	orderMu := s.lockFor(&s.orderLocks, orderID)
	orderMu.Lock()
	defer orderMu.Unlock()

	s.mu.RLock()
	order, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return nil, 0, false, ErrOrderNotFound
	}

	accountMu := s.lockFor(&s.accountLocks, order.AccountID)

	switch order.Status {
	case model.StatusCompleted:
		balance, err := s.GetBalance(ctx, order.AccountID)
		if err != nil {
			return nil, 0, false, err
		}
		cp := *order
		return &cp, balance, false, nil
	case model.StatusFailed:
		cp := *order
		return &cp, 0, false, ErrInvalidTransition
	}

	accountMu.Lock()
	defer accountMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[order.AccountID]
	if !ok {
		return nil, 0, false, ErrAccountNotFound
	}
	if acc.Balance > math.MaxInt64-order.Amount {
		return nil, 0, false, ErrAmountOverflow
	}

	completedAt := time.Now()
	order.Status = model.StatusCompleted
	order.CompletedAt = &completedAt
	acc.Balance += order.Amount

	cp := *order
	return &cp, acc.Balance, true, nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, orderID, reason string) (*model.Order, error) {
	orderMu := s.lockFor(&s.orderLocks, orderID)
	orderMu.Lock()
	defer orderMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if order.Status.Terminal() {
		cp := *order
		return &cp, ErrInvalidTransition
	}

	completedAt := time.Now()
	order.Status = model.StatusFailed
	order.FailureReason = reason
	order.CompletedAt = &completedAt
	cp := *order
	return &cp, nil
}

func (s *MemoryStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []*model.Order
	for _, order := range s.orders {
		if order.Status == model.StatusPending && order.CreatedAt.Before(cutoff) {
			cp := *order
			orders = append(orders, &cp)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
