package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/rail"
)

func TestSweeper_SettlesOnlyDueTransactions(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())
	sw := NewSweeper(orch, store, time.Minute, testLogger())

	due := newTx("tx_due", escrow.StatusPending)
	due.AutoSettleAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, due))

	future := newTx("tx_future", escrow.StatusPending)
	future.AutoSettleAt = time.Now().Add(time.Hour)
	require.NoError(t, store.Create(ctx, future))

	disputed := newTx("tx_disputed", escrow.StatusRefundRequested)
	disputed.AutoSettleAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, disputed))

	report := sw.Sweep(ctx)
	assert.Equal(t, 1, report.Eligible)
	assert.Equal(t, 1, report.Settled)
	assert.Equal(t, 0, report.Errors)

	got, err := store.Get(ctx, "tx_due")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSettled, got.Status)

	got, err = store.Get(ctx, "tx_future")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPending, got.Status, "a transaction before its deadline is untouched")

	got, err = store.Get(ctx, "tx_disputed")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefundRequested, got.Status, "disputed transactions are never auto-settled")
}

func TestSweeper_PayoutFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{
		internalErr: &rail.Error{Code: rail.CodeUnavailable, Route: "internal", Message: "rail down"},
	}
	orch := NewOrchestrator(store, fr, testLogger())
	sw := NewSweeper(orch, store, time.Minute, testLogger())

	due := newTx("tx_due", escrow.StatusPending)
	due.AutoSettleAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, due))

	report := sw.Sweep(ctx)
	assert.Equal(t, 1, report.Eligible)
	assert.Equal(t, 0, report.Settled)
	assert.Equal(t, 1, report.Errors)

	got, err := store.Get(ctx, "tx_due")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusPending, got.Status, "payout failure must leave the transaction eligible for retry")

	// The rail recovers; the next tick picks the transaction up again.
	fr.mu.Lock()
	fr.internalErr = nil
	fr.mu.Unlock()

	report = sw.Sweep(ctx)
	assert.Equal(t, 1, report.Settled)

	got, err = store.Get(ctx, "tx_due")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSettled, got.Status)
}

// staleListStore returns a fixed ListDue result, simulating a transaction
// that gets finalized by another caller between the listing and the settle.
type staleListStore struct {
	escrow.Store
	due []*escrow.Transaction
}

func (s *staleListStore) ListDue(ctx context.Context, before time.Time, limit int) ([]*escrow.Transaction, error) {
	return s.due, nil
}

func TestSweeper_LostRaceIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	var due []*escrow.Transaction
	for _, id := range []string{"tx_a", "tx_b", "tx_c"} {
		tx := newTx(id, escrow.StatusPending)
		tx.AutoSettleAt = time.Now().Add(-time.Minute)
		require.NoError(t, store.Create(ctx, tx))
		due = append(due, tx)
	}

	// tx_b is finalized elsewhere after the listing snapshot was taken.
	_, err := orch.Settle(ctx, "tx_b")
	require.NoError(t, err)

	sw := NewSweeper(orch, &staleListStore{Store: store, due: due}, time.Minute, testLogger())
	report := sw.Sweep(ctx)
	assert.Equal(t, 3, report.Eligible)
	assert.Equal(t, 2, report.Settled)
	assert.Equal(t, 0, report.Errors, "losing the settle race is not a sweep error")
}

func TestSweeper_StartStop(t *testing.T) {
	store := escrow.NewMemoryStore()
	orch := NewOrchestrator(store, &fakeRail{}, testLogger())
	sw := NewSweeper(orch, store, 10*time.Millisecond, testLogger())

	go sw.Start(context.Background())

	require.Eventually(t, sw.Running, time.Second, time.Millisecond)

	sw.Stop()
	assert.False(t, sw.Running(), "Stop returns only after the loop has exited")

	// A second Stop is a no-op rather than a panic.
	sw.Stop()
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	store := escrow.NewMemoryStore()
	orch := NewOrchestrator(store, &fakeRail{}, testLogger())

	sw := NewSweeper(orch, store, 0, testLogger())
	assert.Equal(t, time.Minute, sw.interval)
}
