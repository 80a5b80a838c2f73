package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpayne7/escrowd/internal/escrow"
	"github.com/dpayne7/escrowd/internal/metrics"
)

// sweepBatchSize bounds how many due transactions one tick processes.
const sweepBatchSize = 100

// Report summarizes one auto-settle sweep.
type Report struct {
	Eligible int
	Settled  int
	Errors   int
}

// Sweeper periodically force-settles transactions past their hold deadline.
//
// A payout failure for one transaction is logged and counted but does not
// abort the sweep, and the transaction stays PENDING so the next tick
// retries it. Shutdown via Stop waits for an in-flight tick to finish.
type Sweeper struct {
	orch     *Orchestrator
	store    escrow.Store
	interval time.Duration
	logger   *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates an auto-settle sweeper.
func NewSweeper(orch *Orchestrator, store escrow.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		orch:     orch,
		store:    store,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		close(s.done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the loop to stop and waits for any in-flight sweep.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in auto-settle sweep", "panic", fmt.Sprint(r))
		}
	}()
	s.Sweep(ctx)
}

// Sweep runs one pass over due transactions and reports the results.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	var report Report

	due, err := s.store.ListDue(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		s.logger.Warn("failed to list due transactions", "error", err)
		return report
	}
	report.Eligible = len(due)

	for _, tx := range due {
		if _, err := s.orch.Settle(ctx, tx.ID); err != nil {
			if errors.Is(err, escrow.ErrInvalidStateTransition) {
				// A buyer settle or dispute won the race; nothing to do.
				s.logger.Debug("due transaction already finalized elsewhere",
					"transactionId", tx.ID)
				continue
			}
			report.Errors++
			metrics.SweepRuns.WithLabelValues("failed").Inc()
			s.logger.Warn("auto-settle payout failed, will retry next tick",
				"transactionId", tx.ID, "error", err)
			continue
		}
		report.Settled++
		metrics.SweepRuns.WithLabelValues("settled").Inc()
		s.logger.Info("auto-settled transaction past hold deadline",
			"transactionId", tx.ID, "merchant", tx.MerchantWallet, "amount", tx.Amount)
	}

	if report.Eligible > 0 {
		s.logger.Info("auto-settle sweep complete",
			"eligible", report.Eligible, "settled", report.Settled, "errors", report.Errors)
	}
	return report
}
