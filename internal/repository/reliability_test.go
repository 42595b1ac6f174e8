package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pluginguard/internal/domain"
	"go.uber.org/zap"
)

type flakySaver struct {
	mu        sync.Mutex
	calls     int
	failFirst int // сколько первых вызовов падает; -1 — падают все
	err       error
}

func (s *flakySaver) Save(_ context.Context, _ domain.PluginSecurityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failFirst < 0 || s.calls <= s.failFirst {
		return s.err
	}
	return nil
}

func (s *flakySaver) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testState() domain.PluginSecurityState {
	return domain.PluginSecurityState{PluginID: "p1", State: domain.StateActive}
}

func TestReliableStateStore_TransientFailureRetried(t *testing.T) {
	saver := &flakySaver{failFirst: 2, err: errors.New("connection reset")}
	store := NewReliableStateStore(saver, 3, zap.NewNop())

	// Два транзиентных сбоя: третья попытка проходит, ошибки наружу нет
	require.NoError(t, store.Save(context.Background(), testState()))
	assert.Equal(t, 3, saver.callCount())
}

func TestReliableStateStore_PersistentFailureSurfaces(t *testing.T) {
	saver := &flakySaver{failFirst: -1, err: errors.New("connection refused")}
	store := NewReliableStateStore(saver, 2, zap.NewNop())

	err := store.Save(context.Background(), testState())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state persistence failed")
	assert.Equal(t, 2, saver.callCount())
}

func TestReliableStateStore_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	saver := &flakySaver{failFirst: -1, err: errors.New("connection refused")}
	store := NewReliableStateStore(saver, 1, zap.NewNop())
	ctx := context.Background()

	// Шесть подряд неудачных записей открывают предохранитель
	for i := 0; i < 6; i++ {
		require.Error(t, store.Save(ctx, testState()))
	}
	require.Equal(t, 6, saver.callCount())

	// Седьмая отбивается сразу, до хранилища не доходит
	err := store.Save(ctx, testState())
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 6, saver.callCount())
}
