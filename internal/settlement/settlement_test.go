package settlement

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/rail"
)

// fakeRail records transfers and returns scripted errors per route.
type fakeRail struct {
	mu          sync.Mutex
	internalErr error
	externalErr error
	internal    []rail.Transfer
	external    []rail.Transfer
}

func (f *fakeRail) TransferInternal(ctx context.Context, t rail.Transfer) (*rail.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.internal = append(f.internal, t)
	if f.internalErr != nil {
		return nil, f.internalErr
	}
	return &rail.Receipt{TransferID: "int_" + t.Reference, Route: "internal"}, nil
}

func (f *fakeRail) TransferExternal(ctx context.Context, t rail.Transfer) (*rail.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.external = append(f.external, t)
	if f.externalErr != nil {
		return nil, f.externalErr
	}
	return &rail.Receipt{TransferID: "ext_" + t.Reference, Route: "external"}, nil
}

func (f *fakeRail) transfers() (internal, external []rail.Transfer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rail.Transfer(nil), f.internal...), append([]rail.Transfer(nil), f.external...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTx(id string, status escrow.Status) *escrow.Transaction {
	now := time.Now()
	return &escrow.Transaction{
		ID:             id,
		ReceiptCode:    "RCP-TEST-" + id,
		MerchantWallet: "0x1111111111111111111111111111111111111111",
		ResourceID:     "res_1",
		AgentWallet:    "0x2222222222222222222222222222222222222222",
		Amount:         "0.05",
		Network:        "base",
		Token:          "USDC",
		Status:         status,
		AutoSettleAt:   now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestOrchestrator_Settle(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusPending)))

	updated, err := orch.Settle(ctx, "tx_1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSettled, updated.Status)
	assert.Equal(t, "internal", updated.PayoutRoute)
	assert.Equal(t, "int_tx_1", updated.PayoutRef)
	require.NotNil(t, updated.ResolvedAt)

	internal, external := fr.transfers()
	require.Len(t, internal, 1)
	assert.Empty(t, external)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", internal[0].To)
	assert.Equal(t, "0.05", internal[0].Amount)
	assert.Equal(t, "tx_1", internal[0].Reference)
}

func TestOrchestrator_SettleWrongStateNoPayout(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusSettled)))

	_, err := orch.Settle(ctx, "tx_1")
	assert.ErrorIs(t, err, escrow.ErrInvalidStateTransition)

	internal, external := fr.transfers()
	assert.Empty(t, internal, "no funds may move for a transaction in the wrong state")
	assert.Empty(t, external)
}

func TestOrchestrator_SettleNotFound(t *testing.T) {
	store := escrow.NewMemoryStore()
	orch := NewOrchestrator(store, &fakeRail{}, testLogger())

	_, err := orch.Settle(context.Background(), "tx_missing")
	assert.ErrorIs(t, err, escrow.ErrTransactionNotFound)
}

func TestOrchestrator_SettleIdempotent(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusPending)))

	_, err := orch.Settle(ctx, "tx_1")
	require.NoError(t, err)

	_, err = orch.Settle(ctx, "tx_1")
	assert.ErrorIs(t, err, escrow.ErrInvalidStateTransition)

	internal, _ := fr.transfers()
	assert.Len(t, internal, 1, "exactly one payout for repeated settle calls")
}

func TestOrchestrator_FallbackOnRecipientNotFound(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{
		internalErr: &rail.Error{Code: rail.CodeRecipientNotFound, Route: "internal", Message: "unknown account"},
	}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusPending)))

	updated, err := orch.Settle(ctx, "tx_1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSettled, updated.Status)
	assert.Equal(t, "external", updated.PayoutRoute)
	assert.Equal(t, "ext_tx_1", updated.PayoutRef)

	internal, external := fr.transfers()
	assert.Len(t, internal, 1)
	assert.Len(t, external, 1)
}

func TestOrchestrator_NoFallbackOnOtherRailErrors(t *testing.T) {
	for _, code := range []rail.Code{rail.CodeTimeout, rail.CodeUnavailable, rail.CodeRejected} {
		t.Run(string(code), func(t *testing.T) {
			ctx := context.Background()
			store := escrow.NewMemoryStore()
			fr := &fakeRail{
				internalErr: &rail.Error{Code: code, Route: "internal", Message: "boom"},
			}
			orch := NewOrchestrator(store, fr, testLogger())

			require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusPending)))

			_, err := orch.Settle(ctx, "tx_1")
			assert.ErrorIs(t, err, ErrPayoutFailed)

			internal, external := fr.transfers()
			assert.Len(t, internal, 1)
			assert.Empty(t, external, "fallback is reserved for recipient_not_found")

			got, gerr := store.Get(ctx, "tx_1")
			require.NoError(t, gerr)
			assert.Equal(t, escrow.StatusPending, got.Status, "failed payout must not change state")
		})
	}
}

func TestOrchestrator_BothRoutesFail(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{
		internalErr: &rail.Error{Code: rail.CodeRecipientNotFound, Route: "internal", Message: "unknown account"},
		externalErr: &rail.Error{Code: rail.CodeRecipientNotFound, Route: "external", Message: "unknown wallet"},
	}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusPending)))

	_, err := orch.Settle(ctx, "tx_1")
	assert.ErrorIs(t, err, ErrPayoutFailed)

	got, gerr := store.Get(ctx, "tx_1")
	require.NoError(t, gerr)
	assert.Equal(t, escrow.StatusPending, got.Status)
}

func TestOrchestrator_ResolveDisputeApprove(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusRefundRequested)))

	updated, err := orch.ResolveDispute(ctx, "tx_1", true)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, updated.Status)

	internal, _ := fr.transfers()
	require.Len(t, internal, 1)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", internal[0].To,
		"an approved refund pays the buyer")
}

func TestOrchestrator_ResolveDisputeReject(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusRefundRequested)))

	updated, err := orch.ResolveDispute(ctx, "tx_1", false)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSettled, updated.Status)

	internal, _ := fr.transfers()
	require.Len(t, internal, 1)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", internal[0].To,
		"a rejected dispute pays the merchant")
}

func TestOrchestrator_ResolveDisputeRequiresRefundRequested(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusPending)))

	_, err := orch.ResolveDispute(ctx, "tx_1", true)
	assert.ErrorIs(t, err, escrow.ErrInvalidStateTransition)

	internal, external := fr.transfers()
	assert.Empty(t, internal)
	assert.Empty(t, external)
}

func TestOrchestrator_ConcurrentSettleSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := escrow.NewMemoryStore()
	fr := &fakeRail{}
	orch := NewOrchestrator(store, fr, testLogger())

	require.NoError(t, store.Create(ctx, newTx("tx_1", escrow.StatusPending)))

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := orch.Settle(ctx, "tx_1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins int
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, escrow.ErrInvalidStateTransition)
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent settle succeeds")

	got, err := store.Get(ctx, "tx_1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSettled, got.Status)
}
