package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"creditledger/internal/model"
	"creditledger/internal/repository"
)

type mockBus struct {
	topics   []string
	payloads [][]byte
}

func (m *mockBus) Publish(topic string, data []byte) error {
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, data)
	return nil
}

func TestSweep_PublishesOnlyStalePending(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	bus := &mockBus{}

	_, err := store.CreateAccount(ctx, "A", "tg-A")
	require.NoError(t, err)
	_, err = store.CreatePending(ctx, "ORD-STUCK", "A", 100, nil)
	require.NoError(t, err)
	_, err = store.CreatePending(ctx, "ORD-DONE", "A", 50, nil)
	require.NoError(t, err)
	_, _, _, err = store.CompleteAndCredit(ctx, "ORD-DONE")
	require.NoError(t, err)

	// maxAge in the past turns every pending order stale immediately.
	s := NewSweeper(store, bus, time.Minute, -time.Second)
	s.sweep(ctx)

	require.Len(t, bus.topics, 1)
	assert.Equal(t, TopicStaleOrders, bus.topics[0])

	var order model.Order
	require.NoError(t, json.Unmarshal(bus.payloads[0], &order))
	assert.Equal(t, "ORD-STUCK", order.OrderID)
	assert.Equal(t, model.StatusPending, order.Status)
}

func TestSweep_NothingStale(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	bus := &mockBus{}

	_, err := store.CreateAccount(ctx, "A", "tg-A")
	require.NoError(t, err)
	_, err = store.CreatePending(ctx, "ORD-FRESH", "A", 100, nil)
	require.NoError(t, err)

	s := NewSweeper(store, bus, time.Minute, time.Hour)
	s.sweep(ctx)

	assert.Empty(t, bus.topics)
}

func TestSweeper_StopsOnCancel(t *testing.T) {
	store := repository.NewMemoryStore()
	s := NewSweeper(store, &mockBus{}, 10*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancel")
	}
}
