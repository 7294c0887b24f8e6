// Package control owns the charging state machine the UI interacts with. One
// orchestrator is instantiated per charge box; its state is mutated only
// through its own methods.
package control

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"voltlink/internal/client/api"
	"voltlink/internal/models"
)

// Result is the closed set of values an action resolves to. Callers never
// inspect raw errors for normal-flow handling.
type Result string

const (
	ResultSent                Result = "sent"
	ResultIdempotentDuplicate Result = "idempotentDuplicate"
	ResultPending             Result = "pending"
	ResultConfirmed           Result = "confirmed"
	ResultError               Result = "error"
)

// CommandGateway submits remote commands.
type CommandGateway interface {
	SubmitStart(ctx context.Context, req api.StartRequest) models.CommandOutcome
	SubmitStop(ctx context.Context, transactionID int64) models.CommandOutcome
}

// SessionDirectory resolves transactions and charge-point liveness.
type SessionDirectory interface {
	ActiveTransaction(ctx context.Context, chargeBoxID string) (*models.Transaction, error)
	LastTransaction(ctx context.Context, chargeBoxID string) (*models.Transaction, error)
	ChargePointStatus(ctx context.Context, chargeBoxID string) (*models.ChargePointStatus, error)
}

// ConvergenceWatcher awaits the observable effect of an accepted command.
type ConvergenceWatcher interface {
	AwaitTransactionStart(ctx context.Context, chargeBoxID string, timeout time.Duration) *models.Transaction
	AwaitTransactionEnd(ctx context.Context, chargeBoxID string, transactionID int64, timeout time.Duration) bool
}

const (
	defaultIDTagEnv      = "VOLTLINK_ID_TAG"
	fallbackIDTag        = "VOLTLINK-APP"
	heartbeatStaleWindow = 2 * time.Minute
)

// Config tunes one orchestrator instance. The debounce window and the
// convergence timeouts are deliberately configurable, not fixed behavior.
type Config struct {
	ChargeBoxID string
	// DefaultIDTag is the per-screen default, consulted after an explicit
	// override and before the VOLTLINK_ID_TAG environment default.
	DefaultIDTag      string
	DebounceWindow    time.Duration
	StartTimeout      time.Duration
	StopTimeout       time.Duration
	ReconcileInterval time.Duration
	// PrecheckStatus enables the advisory charge-point liveness check before
	// a start. It never blocks submission; the backend's 409 is authoritative.
	PrecheckStatus bool
}

func (c *Config) applyDefaults() {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 800 * time.Millisecond
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 15 * time.Second
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 30 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 5 * time.Second
	}
}

// StartOptions carries per-action overrides.
type StartOptions struct {
	IDTag       string
	ConnectorID int
	Force       bool
}

// Snapshot is the read-only view handed to subscribers.
type Snapshot struct {
	Phase               models.Phase
	ActiveTransactionID int64
	StatusMessage       string
	Starting            bool
	Stopping            bool
}

type actionKind int

const (
	actionStart actionKind = iota
	actionStop
)

// Orchestrator sequences the command gateway and the convergence watcher and
// owns the phase machine. Safe for concurrent use; the background reconcile
// loop and an in-flight action may run at the same time.
type Orchestrator struct {
	cfg       Config
	gateway   CommandGateway
	directory SessionDirectory
	watcher   ConvergenceWatcher
	logger    *zap.Logger

	now func() time.Time

	mu                  sync.Mutex
	phase               models.Phase
	activeTransactionID int64
	statusMessage       string
	starting            bool
	stopping            bool
	lastAccepted        time.Time
	subscribers         map[int]func(Snapshot)
	nextSubID           int
}

// New builds an orchestrator for one charge box, starting in IDLE.
func New(cfg Config, gateway CommandGateway, directory SessionDirectory, watcher ConvergenceWatcher, logger *zap.Logger) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:         cfg,
		gateway:     gateway,
		directory:   directory,
		watcher:     watcher,
		logger:      logger,
		now:         time.Now,
		phase:       models.PhaseIdle,
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		Phase:               o.phase,
		ActiveTransactionID: o.activeTransactionID,
		StatusMessage:       o.statusMessage,
		Starting:            o.starting,
		Stopping:            o.stopping,
	}
}

// Subscribe registers a state listener and returns its unsubscribe func.
func (o *Orchestrator) Subscribe(fn func(Snapshot)) func() {
	o.mu.Lock()
	id := o.nextSubID
	o.nextSubID++
	o.subscribers[id] = fn
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.subscribers, id)
		o.mu.Unlock()
	}
}

// update applies fn under the lock and notifies subscribers when the
// observable state changed. Subscribers are called without the lock held.
func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	before := o.snapshotLocked()
	fn()
	after := o.snapshotLocked()
	if after == before {
		o.mu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(o.subscribers))
	for _, fn := range o.subscribers {
		subs = append(subs, fn)
	}
	o.mu.Unlock()

	for _, fn := range subs {
		fn(after)
	}
}

// Start submits a remote start. A second invocation while one action is in
// flight, or within the debounce window, is rejected, not queued.
//
// On an accepted command Start blocks up to StartTimeout waiting for the
// transaction id; the phase moves to CHARGING before that wait, so reactive
// callers run Start on its own goroutine and observe progress via Subscribe.
// The returned Result is then the final classification for the whole action.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) Result {
	if !o.begin(actionStart) {
		return ResultError
	}
	defer o.finish(actionStart)

	idTag := o.resolveIDTag(opts.IDTag)

	if o.cfg.PrecheckStatus {
		o.precheck(ctx)
	}

	outcome := o.gateway.SubmitStart(ctx, api.StartRequest{
		ChargeBoxID: o.cfg.ChargeBoxID,
		IDTag:       idTag,
		ConnectorID: opts.ConnectorID,
		Force:       opts.Force,
	})

	switch outcome.Kind {
	case models.OutcomeSent, models.OutcomeIdempotentDuplicate:
		// Optimistic: the command outcome itself is favorable. Transaction
		// details are filled in as convergence is observed.
		o.update(func() {
			o.phase = models.PhaseCharging
			o.statusMessage = "start accepted, awaiting transaction"
		})
		if tx := o.watcher.AwaitTransactionStart(ctx, o.cfg.ChargeBoxID, o.cfg.StartTimeout); tx != nil {
			o.update(func() {
				o.activeTransactionID = tx.TransactionID
				o.statusMessage = "charging"
			})
		} else {
			o.logger.Info("start accepted but transaction not yet visible",
				zap.String("charge_box_id", o.cfg.ChargeBoxID))
			o.update(func() { o.statusMessage = "charging, transaction details pending" })
		}
		if outcome.Kind == models.OutcomeIdempotentDuplicate {
			return ResultIdempotentDuplicate
		}
		return ResultSent

	case models.OutcomePending:
		// Charge point offline; the backend queued the intent. Stay in
		// STARTING and let reconciliation observe the transaction later.
		o.update(func() { o.statusMessage = "charge point offline, start queued for delivery" })
		return ResultPending

	default:
		o.update(func() {
			o.phase = models.PhaseIdle
			o.statusMessage = outcome.Message
		})
		return ResultError
	}
}

// Stop submits a remote stop for the resolved transaction. It only reports
// 'confirmed' once the end of the session was actually observed; an accepted
// but unconfirmed stop leaves the phase at CHARGING.
func (o *Orchestrator) Stop(ctx context.Context) Result {
	if !o.begin(actionStop) {
		return ResultError
	}
	defer o.finish(actionStop)

	transactionID := o.resolveTransactionID(ctx)
	if transactionID == 0 {
		o.update(func() {
			o.phase = models.PhaseCharging
			o.statusMessage = "no active session found"
		})
		return ResultError
	}

	outcome := o.gateway.SubmitStop(ctx, transactionID)

	switch outcome.Kind {
	case models.OutcomeSent, models.OutcomeIdempotentDuplicate:
		if o.watcher.AwaitTransactionEnd(ctx, o.cfg.ChargeBoxID, transactionID, o.cfg.StopTimeout) {
			o.update(func() {
				o.phase = models.PhaseIdle
				o.activeTransactionID = 0
				o.statusMessage = "charging stopped"
			})
			return ResultConfirmed
		}
		// Do not declare the session stopped without proof.
		o.update(func() {
			o.phase = models.PhaseCharging
			o.activeTransactionID = transactionID
			o.statusMessage = "stop accepted, awaiting confirmation"
		})
		return ResultSent

	case models.OutcomePending:
		o.update(func() { o.statusMessage = "charge point offline, stop queued for delivery" })
		return ResultPending

	default:
		o.update(func() {
			o.phase = models.PhaseCharging
			o.statusMessage = outcome.Message
		})
		return ResultError
	}
}

// RunReconcile periodically asks the backend for an active transaction and
// realigns phase and transaction id. This is what recovers correct state
// after an app restart, an ambiguous command result, or a backend-initiated
// change. Blocks until ctx is canceled.
func (o *Orchestrator) RunReconcile(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()

	o.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reconcile(ctx)
		}
	}
}

func (o *Orchestrator) reconcile(ctx context.Context) {
	o.mu.Lock()
	busy := o.starting || o.stopping
	o.mu.Unlock()
	if busy {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, o.cfg.ReconcileInterval)
	defer cancel()

	tx, err := o.directory.ActiveTransaction(lookupCtx, o.cfg.ChargeBoxID)
	if err != nil {
		o.logger.Debug("reconcile lookup failed", zap.String("charge_box_id", o.cfg.ChargeBoxID), zap.Error(err))
		return
	}

	o.update(func() {
		// An action may have started while the lookup ran; its result is
		// more authoritative than this poll.
		if o.starting || o.stopping {
			return
		}
		if tx != nil && !tx.Finished() {
			o.activeTransactionID = tx.TransactionID
			if o.phase != models.PhaseCharging {
				o.phase = models.PhaseCharging
				o.statusMessage = "charging session in progress"
			}
		} else if o.phase == models.PhaseCharging {
			o.phase = models.PhaseIdle
			o.activeTransactionID = 0
			o.statusMessage = "no active session"
		}
	})
}

func (o *Orchestrator) begin(kind actionKind) bool {
	rejected := false
	o.update(func() {
		now := o.now()
		if o.starting || o.stopping {
			o.statusMessage = "another action is in flight"
			rejected = true
			return
		}
		if !o.lastAccepted.IsZero() && now.Sub(o.lastAccepted) < o.cfg.DebounceWindow {
			o.statusMessage = "action ignored, too soon after the previous one"
			rejected = true
			return
		}
		o.lastAccepted = now
		if kind == actionStart {
			o.starting = true
			o.phase = models.PhaseStarting
			o.statusMessage = "starting"
		} else {
			o.stopping = true
			o.phase = models.PhaseStopping
			o.statusMessage = "stopping"
		}
	})
	return !rejected
}

func (o *Orchestrator) finish(kind actionKind) {
	o.update(func() {
		if kind == actionStart {
			o.starting = false
		} else {
			o.stopping = false
		}
	})
}

// resolveIDTag picks the authorization token by priority: explicit override,
// per-screen default, environment default, hardcoded fallback. The gateway is
// never called with an empty idTag.
func (o *Orchestrator) resolveIDTag(override string) string {
	for _, candidate := range []string{override, o.cfg.DefaultIDTag, os.Getenv(defaultIDTagEnv)} {
		if tag := strings.TrimSpace(candidate); tag != "" {
			return tag
		}
	}
	return fallbackIDTag
}

// resolveTransactionID prefers the known active transaction, then the active
// session endpoint, then the debug last-transaction endpoint. Zero means no
// id could be resolved.
func (o *Orchestrator) resolveTransactionID(ctx context.Context) int64 {
	o.mu.Lock()
	known := o.activeTransactionID
	o.mu.Unlock()
	if known != 0 {
		return known
	}

	if tx, err := o.directory.ActiveTransaction(ctx, o.cfg.ChargeBoxID); err == nil && tx != nil && !tx.Finished() {
		return tx.TransactionID
	} else if err != nil {
		o.logger.Warn("active session lookup failed", zap.String("charge_box_id", o.cfg.ChargeBoxID), zap.Error(err))
	}

	if tx, err := o.directory.LastTransaction(ctx, o.cfg.ChargeBoxID); err == nil && tx != nil && !tx.Finished() {
		return tx.TransactionID
	} else if err != nil {
		o.logger.Warn("last transaction lookup failed", zap.String("charge_box_id", o.cfg.ChargeBoxID), zap.Error(err))
	}

	return 0
}

// precheck surfaces an advisory message when the charge point looks offline.
// It never blocks submission.
func (o *Orchestrator) precheck(ctx context.Context) {
	status, err := o.directory.ChargePointStatus(ctx, o.cfg.ChargeBoxID)
	if err != nil {
		o.logger.Debug("liveness pre-check failed", zap.String("charge_box_id", o.cfg.ChargeBoxID), zap.Error(err))
		return
	}
	if status == nil {
		return
	}
	if !status.Online && !status.RecentlySeen(heartbeatStaleWindow) {
		o.update(func() { o.statusMessage = "charge point appears offline, trying anyway" })
	}
}
