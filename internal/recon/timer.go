package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps open payments into a reconciliation session, so
// feed-posted remittances get matched without an operator kicking off a run.
type Timer struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates an auto-reconciliation timer.
func NewTimer(manager *Manager, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Timer{
		manager:  manager,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic reconciliation loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation timer", "panic", fmt.Sprint(r))
		}
	}()

	session, err := t.manager.Run(ctx, nil)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoOpenPayments):
			// Quiet ledger; nothing to do this tick.
		case errors.Is(err, ErrSessionConflict):
			t.logger.Debug("auto reconciliation skipped, session in progress")
		default:
			t.logger.Warn("auto reconciliation failed", "error", err)
		}
		return
	}
	t.logger.Info("auto reconciliation session committed",
		"session_id", session.ID,
		"payments", session.PaymentsTotal,
		"unmatched", session.Unmatched)
}
