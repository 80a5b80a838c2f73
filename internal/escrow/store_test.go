package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestTx(id string) *Transaction {
	now := time.Now()
	return &Transaction{
		ID:             id,
		ReceiptCode:    "RCP-TEST-" + id,
		MerchantWallet: "0xmerchant",
		ResourceID:     "res_1",
		AgentWallet:    "0xagent",
		Amount:         "0.01",
		Network:        "base-sepolia",
		Token:          "USDC",
		Status:         StatusPending,
		PaymentHeader:  `{"scheme":"exact"}`,
		AutoSettleAt:   now.Add(time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestStatus_Terminal(t *testing.T) {
	if StatusPending.Terminal() || StatusRefundRequested.Terminal() {
		t.Error("PENDING and REFUND_REQUESTED are not terminal")
	}
	if !StatusSettled.Terminal() || !StatusRefunded.Terminal() {
		t.Error("SETTLED and REFUNDED are terminal")
	}
}

func TestStatus_Edges(t *testing.T) {
	valid := map[[2]Status]bool{
		{StatusPending, StatusSettled}:          true,
		{StatusPending, StatusRefundRequested}:  true,
		{StatusRefundRequested, StatusRefunded}: true,
		{StatusRefundRequested, StatusSettled}:  true,
	}
	all := []Status{StatusPending, StatusRefundRequested, StatusSettled, StatusRefunded}
	for _, from := range all {
		for _, to := range all {
			want := valid[[2]Status{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s → %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tx := newTestTx("tx_1")
	if err := store.Create(ctx, tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, "tx_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ReceiptCode != tx.ReceiptCode || got.Status != StatusPending {
		t.Errorf("unexpected transaction: %+v", got)
	}

	byReceipt, err := store.GetByReceipt(ctx, tx.ReceiptCode)
	if err != nil {
		t.Fatalf("GetByReceipt failed: %v", err)
	}
	if byReceipt.ID != "tx_1" {
		t.Errorf("receipt lookup returned %s", byReceipt.ID)
	}

	if _, err := store.Get(ctx, "tx_missing"); !errors.Is(err, ErrTransactionNotFound) {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestMemoryStore_Transition(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTestTx("tx_1"))

	updated, err := store.Transition(ctx, "tx_1", StatusPending, func(tx *Transaction) error {
		tx.Status = StatusSettled
		tx.PayoutRoute = "internal"
		return nil
	})
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if updated.Status != StatusSettled || updated.PayoutRoute != "internal" {
		t.Errorf("unexpected result: %+v", updated)
	}

	// Stale precondition loses.
	_, err = store.Transition(ctx, "tx_1", StatusPending, func(tx *Transaction) error {
		tx.Status = StatusSettled
		return nil
	})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Errorf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestMemoryStore_TransitionRejectsIllegalEdge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTestTx("tx_1"))

	_, err := store.Transition(ctx, "tx_1", StatusPending, func(tx *Transaction) error {
		tx.Status = StatusRefunded // PENDING → REFUNDED is not an edge
		return nil
	})
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}

	// The failed mutate must not have leaked.
	got, _ := store.Get(ctx, "tx_1")
	if got.Status != StatusPending {
		t.Errorf("transaction mutated despite rejected edge: %s", got.Status)
	}
}

func TestMemoryStore_TransitionConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, newTestTx("tx_1"))

	const attempts = 16
	var wg sync.WaitGroup
	successes := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Transition(ctx, "tx_1", StatusPending, func(tx *Transaction) error {
				tx.Status = StatusSettled
				return nil
			})
			if err == nil {
				successes <- struct{}{}
			} else if !errors.Is(err, ErrInvalidStateTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(successes)

	count := 0
	for range successes {
		count++
	}
	if count != 1 {
		t.Errorf("exactly one concurrent transition must win, got %d", count)
	}
}

func TestMemoryStore_ListDue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	due := newTestTx("tx_due")
	due.AutoSettleAt = now.Add(-time.Minute)
	_ = store.Create(ctx, due)

	future := newTestTx("tx_future")
	future.AutoSettleAt = now.Add(time.Hour)
	_ = store.Create(ctx, future)

	settled := newTestTx("tx_settled")
	settled.AutoSettleAt = now.Add(-time.Minute)
	settled.Status = StatusSettled
	_ = store.Create(ctx, settled)

	list, err := store.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "tx_due" {
		t.Errorf("expected only tx_due, got %+v", list)
	}
}

func TestMemoryStore_ListDueLimitKeepsOldest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	// Created out of deadline order on purpose.
	for i, id := range []string{"tx_c", "tx_a", "tx_e", "tx_b", "tx_d"} {
		tx := newTestTx(id)
		tx.AutoSettleAt = now.Add(-time.Duration(int(id[3])-'a'+1) * time.Minute)
		tx.CreatedAt = now.Add(time.Duration(i) * time.Second)
		_ = store.Create(ctx, tx)
	}

	list, err := store.ListDue(ctx, now, 2)
	if err != nil {
		t.Fatalf("ListDue failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(list))
	}
	if list[0].ID != "tx_e" || list[1].ID != "tx_d" {
		t.Errorf("expected the two oldest deadlines [tx_e tx_d], got [%s %s]", list[0].ID, list[1].ID)
	}
}

func TestMemoryStore_Aggregate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	mk := func(id string, status Status, amount string) {
		tx := newTestTx(id)
		tx.Status = status
		tx.Amount = amount
		_ = store.Create(ctx, tx)
	}
	mk("tx_1", StatusSettled, "1.50")
	mk("tx_2", StatusSettled, "0.50")
	mk("tx_3", StatusRefunded, "3.00")
	mk("tx_4", StatusRefundRequested, "0.25")
	mk("tx_5", StatusPending, "0.10")

	agg, err := store.AggregateForMerchant(ctx, "0xmerchant")
	if err != nil {
		t.Fatalf("AggregateForMerchant failed: %v", err)
	}
	if agg.AccessCount != 5 || agg.SettledCount != 2 || agg.RefundedCount != 1 || agg.OpenDisputes != 1 {
		t.Errorf("unexpected aggregate: %+v", agg)
	}
	if agg.TotalEarnings != 2.0 {
		t.Errorf("expected earnings 2.0, got %v", agg.TotalEarnings)
	}
}
