// Package watch waits for the real-world effect of an accepted command to
// become visible: a transaction appearing after Start, or ending after Stop.
package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"voltlink/internal/models"
)

// TransactionReader is the polling side of convergence.
type TransactionReader interface {
	ActiveTransaction(ctx context.Context, chargeBoxID string) (*models.Transaction, error)
	Transaction(ctx context.Context, transactionID int64) (*models.Transaction, error)
}

// EventSource is the push side. The returned channel closes when ctx is
// canceled or the stream ends.
type EventSource interface {
	Subscribe(ctx context.Context, chargeBoxID string, eventTypes ...string) (<-chan models.SessionEvent, error)
}

// Config tunes the polling cadence.
type Config struct {
	// StartPollInterval is the fixed interval for awaiting a new transaction.
	StartPollInterval time.Duration
	// EndPollInterval is the initial interval when awaiting a transaction
	// end; it doubles per round up to EndPollCap.
	EndPollInterval time.Duration
	EndPollCap      time.Duration
}

func (c *Config) applyDefaults() {
	if c.StartPollInterval <= 0 {
		c.StartPollInterval = 2 * time.Second
	}
	if c.EndPollInterval <= 0 {
		c.EndPollInterval = time.Second
	}
	if c.EndPollCap <= 0 {
		c.EndPollCap = 5 * time.Second
	}
}

// Watcher races the push channel against polling, bounded by a timeout.
// It owns no shared state; every wait is fully torn down on return.
type Watcher struct {
	reader TransactionReader
	events EventSource
	logger *zap.Logger
	cfg    Config
}

// NewWatcher builds a watcher. events may be nil, in which case only the
// polling path is used.
func NewWatcher(reader TransactionReader, events EventSource, logger *zap.Logger, cfg Config) *Watcher {
	cfg.applyDefaults()
	return &Watcher{
		reader: reader,
		events: events,
		logger: logger,
		cfg:    cfg,
	}
}

// AwaitTransactionStart polls for the charge box's active transaction at a
// fixed interval and returns it as soon as one appears, or nil when the
// timeout elapses or ctx is canceled.
func (w *Watcher) AwaitTransactionStart(ctx context.Context, chargeBoxID string, timeout time.Duration) *models.Transaction {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(w.cfg.StartPollInterval)
	defer ticker.Stop()

	for {
		tx, err := w.reader.ActiveTransaction(ctx, chargeBoxID)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Debug("active transaction poll failed", zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		} else if tx != nil && !tx.Finished() {
			return tx
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// AwaitTransactionEnd waits until the transaction's end is observed, racing
// the push channel against a backoff poll. The first resolution wins; the
// losing path is canceled through the shared derived context. Returns false
// on timeout or cancellation.
func (w *Watcher) AwaitTransactionEnd(ctx context.Context, chargeBoxID string, transactionID int64, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so both paths can report without blocking past resolution.
	done := make(chan struct{}, 2)

	if w.events != nil {
		go w.watchPush(ctx, chargeBoxID, transactionID, done)
	}
	go w.pollEnd(ctx, transactionID, done)

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) watchPush(ctx context.Context, chargeBoxID string, transactionID int64, done chan<- struct{}) {
	ch, err := w.events.Subscribe(ctx, chargeBoxID, models.EventSessionEnd)
	if err != nil {
		// Polling still covers the wait.
		w.logger.Debug("push subscribe failed, relying on polling",
			zap.String("charge_box_id", chargeBoxID), zap.Error(err))
		return
	}
	for ev := range ch {
		if ev.TransactionID == 0 || ev.TransactionID == transactionID {
			done <- struct{}{}
			return
		}
	}
}

func (w *Watcher) pollEnd(ctx context.Context, transactionID int64, done chan<- struct{}) {
	interval := w.cfg.EndPollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		tx, err := w.reader.Transaction(ctx, transactionID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("transaction poll failed", zap.Int64("transaction_id", transactionID), zap.Error(err))
		} else if tx == nil || tx.Finished() {
			// A vanished record after a stop counts as ended.
			done <- struct{}{}
			return
		}

		interval *= 2
		if interval > w.cfg.EndPollCap {
			interval = w.cfg.EndPollCap
		}
		timer.Reset(interval)
	}
}
