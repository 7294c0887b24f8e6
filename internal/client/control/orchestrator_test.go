package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"voltlink/internal/client/api"
	"voltlink/internal/models"
)

type fakeGateway struct {
	mu         sync.Mutex
	startCalls int
	stopCalls  int
	startReq   api.StartRequest
	stopTxID   int64
	startKind  models.OutcomeKind
	stopKind   models.OutcomeKind
	message    string
}

func (f *fakeGateway) SubmitStart(ctx context.Context, req api.StartRequest) models.CommandOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.startReq = req
	return models.CommandOutcome{Kind: f.startKind, Message: f.message}
}

func (f *fakeGateway) SubmitStop(ctx context.Context, transactionID int64) models.CommandOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.stopTxID = transactionID
	return models.CommandOutcome{Kind: f.stopKind, Message: f.message}
}

func (f *fakeGateway) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

type fakeDirectory struct {
	mu          sync.Mutex
	active      *models.Transaction
	last        *models.Transaction
	cpStatus    *models.ChargePointStatus
	activeCalls int
}

func (f *fakeDirectory) ActiveTransaction(ctx context.Context, chargeBoxID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activeCalls++
	return f.active, nil
}

func (f *fakeDirectory) setActive(tx *models.Transaction) {
	f.mu.Lock()
	f.active = tx
	f.mu.Unlock()
}

func (f *fakeDirectory) activeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeCalls
}

func (f *fakeDirectory) LastTransaction(ctx context.Context, chargeBoxID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeDirectory) ChargePointStatus(ctx context.Context, chargeBoxID string) (*models.ChargePointStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cpStatus, nil
}

type fakeWatcher struct {
	startTx *models.Transaction
	endOK   bool
}

func (f *fakeWatcher) AwaitTransactionStart(ctx context.Context, chargeBoxID string, timeout time.Duration) *models.Transaction {
	return f.startTx
}

func (f *fakeWatcher) AwaitTransactionEnd(ctx context.Context, chargeBoxID string, transactionID int64, timeout time.Duration) bool {
	return f.endOK
}

func testConfig() Config {
	return Config{
		ChargeBoxID:    "CP-001",
		DefaultIDTag:   "SCREEN-TAG",
		DebounceWindow: 800 * time.Millisecond,
		StartTimeout:   time.Second,
		StopTimeout:    time.Second,
	}
}

func newTestOrchestrator(gw *fakeGateway, dir *fakeDirectory, w *fakeWatcher) *Orchestrator {
	return New(testConfig(), gw, dir, w, zap.NewNop())
}

func TestStartHappyPath(t *testing.T) {
	gw := &fakeGateway{startKind: models.OutcomeSent}
	w := &fakeWatcher{startTx: &models.Transaction{TransactionID: 42, ChargeBoxID: "CP-001", Status: "charging"}}
	o := newTestOrchestrator(gw, &fakeDirectory{}, w)

	result := o.Start(context.Background(), StartOptions{})
	if result != ResultSent {
		t.Fatalf("expected sent, got %s", result)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseCharging {
		t.Fatalf("expected CHARGING, got %s", snap.Phase)
	}
	if snap.ActiveTransactionID != 42 {
		t.Fatalf("expected transaction 42, got %d", snap.ActiveTransactionID)
	}
	if gw.startReq.IDTag != "SCREEN-TAG" {
		t.Fatalf("expected screen default idTag, got %q", gw.startReq.IDTag)
	}
}

func TestStartOfflinePending(t *testing.T) {
	gw := &fakeGateway{startKind: models.OutcomePending}
	o := newTestOrchestrator(gw, &fakeDirectory{}, &fakeWatcher{})

	result := o.Start(context.Background(), StartOptions{})
	if result != ResultPending {
		t.Fatalf("expected pending, got %s", result)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseStarting {
		t.Fatalf("expected STARTING, got %s", snap.Phase)
	}
	if snap.StatusMessage == "" || snap.StatusMessage == "starting" {
		t.Fatalf("expected an offline/queued status message, got %q", snap.StatusMessage)
	}
}

func TestStartIdempotentDuplicateBehavesAsSuccess(t *testing.T) {
	gw := &fakeGateway{startKind: models.OutcomeIdempotentDuplicate}
	w := &fakeWatcher{startTx: &models.Transaction{TransactionID: 42, Status: "charging"}}
	o := newTestOrchestrator(gw, &fakeDirectory{}, w)

	result := o.Start(context.Background(), StartOptions{})
	if result != ResultIdempotentDuplicate {
		t.Fatalf("expected idempotentDuplicate, got %s", result)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseCharging {
		t.Fatalf("duplicate should converge to CHARGING, got %s", snap.Phase)
	}
	if snap.ActiveTransactionID != 42 {
		t.Fatalf("expected transaction 42, got %d", snap.ActiveTransactionID)
	}
}

func TestStartErrorRevertsToIdle(t *testing.T) {
	gw := &fakeGateway{startKind: models.OutcomeError, message: "charger rejected idTag"}
	o := newTestOrchestrator(gw, &fakeDirectory{}, &fakeWatcher{})

	result := o.Start(context.Background(), StartOptions{})
	if result != ResultError {
		t.Fatalf("expected error, got %s", result)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Fatalf("expected IDLE after rejection, got %s", snap.Phase)
	}
	if snap.StatusMessage != "charger rejected idTag" {
		t.Fatalf("expected backend message, got %q", snap.StatusMessage)
	}
}

func TestDebounceRejectsRapidTaps(t *testing.T) {
	gw := &fakeGateway{startKind: models.OutcomeSent}
	w := &fakeWatcher{startTx: &models.Transaction{TransactionID: 42, Status: "charging"}}
	o := newTestOrchestrator(gw, &fakeDirectory{}, w)

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return base }

	if result := o.Start(context.Background(), StartOptions{}); result != ResultSent {
		t.Fatalf("first start should pass, got %s", result)
	}

	o.now = func() time.Time { return base.Add(300 * time.Millisecond) }
	if result := o.Start(context.Background(), StartOptions{}); result != ResultError {
		t.Fatalf("second start inside window should be rejected, got %s", result)
	}
	if result := o.Stop(context.Background()); result != ResultError {
		t.Fatalf("stop inside window should be rejected, got %s", result)
	}

	startCalls, stopCalls := gw.counts()
	if startCalls != 1 || stopCalls != 0 {
		t.Fatalf("debounced calls must not reach the gateway: starts=%d stops=%d", startCalls, stopCalls)
	}

	o.now = func() time.Time { return base.Add(time.Second) }
	if result := o.Start(context.Background(), StartOptions{}); result != ResultSent {
		t.Fatalf("start after window should pass, got %s", result)
	}
}

func TestStopHappyPath(t *testing.T) {
	gw := &fakeGateway{startKind: models.OutcomeSent, stopKind: models.OutcomeSent}
	w := &fakeWatcher{startTx: &models.Transaction{TransactionID: 42, Status: "charging"}, endOK: true}
	o := newTestOrchestrator(gw, &fakeDirectory{}, w)

	o.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC) }
	o.Start(context.Background(), StartOptions{})
	o.now = func() time.Time { return time.Date(2026, 8, 29, 12, 0, 10, 0, time.UTC) }

	result := o.Stop(context.Background())
	if result != ResultConfirmed {
		t.Fatalf("expected confirmed, got %s", result)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Fatalf("expected IDLE after confirmed stop, got %s", snap.Phase)
	}
	if snap.ActiveTransactionID != 0 {
		t.Fatalf("expected cleared transaction id, got %d", snap.ActiveTransactionID)
	}
	if gw.stopTxID != 42 {
		t.Fatalf("expected stop for transaction 42, got %d", gw.stopTxID)
	}
}

func TestStopConservativeOnTimeout(t *testing.T) {
	gw := &fakeGateway{stopKind: models.OutcomeSent}
	dir := &fakeDirectory{active: &models.Transaction{TransactionID: 42, Status: "charging"}}
	w := &fakeWatcher{endOK: false}
	o := newTestOrchestrator(gw, dir, w)

	result := o.Stop(context.Background())
	if result != ResultSent {
		t.Fatalf("expected sent on unconfirmed stop, got %s", result)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseCharging {
		t.Fatalf("unconfirmed stop must leave CHARGING, got %s", snap.Phase)
	}
	if snap.StatusMessage != "stop accepted, awaiting confirmation" {
		t.Fatalf("expected awaiting-confirmation message, got %q", snap.StatusMessage)
	}
}

func TestStopResolvesViaLastTransactionFallback(t *testing.T) {
	gw := &fakeGateway{stopKind: models.OutcomeSent}
	dir := &fakeDirectory{last: &models.Transaction{TransactionID: 7, Status: "charging"}}
	w := &fakeWatcher{endOK: true}
	o := newTestOrchestrator(gw, dir, w)

	result := o.Stop(context.Background())
	if result != ResultConfirmed {
		t.Fatalf("expected confirmed, got %s", result)
	}
	if gw.stopTxID != 7 {
		t.Fatalf("expected fallback transaction 7, got %d", gw.stopTxID)
	}
}

func TestStopWithNoResolvableTransaction(t *testing.T) {
	gw := &fakeGateway{stopKind: models.OutcomeSent}
	o := newTestOrchestrator(gw, &fakeDirectory{}, &fakeWatcher{})

	result := o.Stop(context.Background())
	if result != ResultError {
		t.Fatalf("expected error, got %s", result)
	}
	if _, stopCalls := gw.counts(); stopCalls != 0 {
		t.Fatalf("stop must not be submitted without a transaction id, got %d calls", stopCalls)
	}
	snap := o.Snapshot()
	if snap.Phase != models.PhaseCharging {
		t.Fatalf("expected CHARGING after resolution failure, got %s", snap.Phase)
	}
	if snap.StatusMessage != "no active session found" {
		t.Fatalf("unexpected message %q", snap.StatusMessage)
	}
}

func TestStopErrorRevertsToCharging(t *testing.T) {
	gw := &fakeGateway{stopKind: models.OutcomeError, message: "HTTP 500"}
	dir := &fakeDirectory{active: &models.Transaction{TransactionID: 42, Status: "charging"}}
	o := newTestOrchestrator(gw, dir, &fakeWatcher{})

	result := o.Stop(context.Background())
	if result != ResultError {
		t.Fatalf("expected error, got %s", result)
	}
	if snap := o.Snapshot(); snap.Phase != models.PhaseCharging {
		t.Fatalf("expected CHARGING after failed stop, got %s", snap.Phase)
	}
}

func TestReconcileDiscoversSession(t *testing.T) {
	dir := &fakeDirectory{active: &models.Transaction{TransactionID: 42, Status: "charging"}}
	o := newTestOrchestrator(&fakeGateway{}, dir, &fakeWatcher{})

	o.reconcile(context.Background())

	snap := o.Snapshot()
	if snap.Phase != models.PhaseCharging {
		t.Fatalf("expected CHARGING after reconcile, got %s", snap.Phase)
	}
	if snap.ActiveTransactionID != 42 {
		t.Fatalf("expected transaction 42, got %d", snap.ActiveTransactionID)
	}
}

func TestReconcileClearsEndedSession(t *testing.T) {
	dir := &fakeDirectory{active: &models.Transaction{TransactionID: 42, Status: "charging"}}
	o := newTestOrchestrator(&fakeGateway{}, dir, &fakeWatcher{})

	o.reconcile(context.Background())

	dir.mu.Lock()
	dir.active = nil
	dir.mu.Unlock()
	o.reconcile(context.Background())

	snap := o.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Fatalf("expected IDLE after session ended, got %s", snap.Phase)
	}
	if snap.ActiveTransactionID != 0 {
		t.Fatalf("expected cleared transaction id, got %d", snap.ActiveTransactionID)
	}
}

func TestRunReconcileLoopObservesSessionAndStopsOnCancel(t *testing.T) {
	dir := &fakeDirectory{}
	cfg := testConfig()
	cfg.ReconcileInterval = 10 * time.Millisecond
	o := New(cfg, &fakeGateway{}, dir, &fakeWatcher{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		o.RunReconcile(ctx)
	}()

	waitFor(t, time.Second, func() bool { return dir.activeCallCount() >= 3 })

	dir.setActive(&models.Transaction{TransactionID: 7, ChargeBoxID: "CP-001", Status: "charging"})
	waitFor(t, time.Second, func() bool { return o.Snapshot().Phase == models.PhaseCharging })
	if got := o.Snapshot().ActiveTransactionID; got != 7 {
		t.Fatalf("expected transaction 7 discovered by the loop, got %d", got)
	}

	cancel()
	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("reconcile loop did not return on cancel")
	}

	calls := dir.activeCallCount()
	time.Sleep(50 * time.Millisecond)
	if got := dir.activeCallCount(); got != calls {
		t.Fatalf("reconcile kept polling after cancel: %d then %d", calls, got)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubscribeReceivesPhaseChanges(t *testing.T) {
	gw := &fakeGateway{startKind: models.OutcomeSent}
	w := &fakeWatcher{startTx: &models.Transaction{TransactionID: 42, Status: "charging"}}
	o := newTestOrchestrator(gw, &fakeDirectory{}, w)

	var mu sync.Mutex
	var phases []models.Phase
	unsubscribe := o.Subscribe(func(s Snapshot) {
		mu.Lock()
		phases = append(phases, s.Phase)
		mu.Unlock()
	})
	defer unsubscribe()

	o.Start(context.Background(), StartOptions{})

	mu.Lock()
	defer mu.Unlock()
	if len(phases) == 0 {
		t.Fatal("expected subscriber notifications")
	}
	sawStarting := false
	for _, p := range phases {
		if p == models.PhaseStarting {
			sawStarting = true
		}
	}
	if !sawStarting {
		t.Fatalf("expected STARTING among notified phases, got %v", phases)
	}
	if phases[len(phases)-1] != models.PhaseCharging {
		t.Fatalf("expected final notification CHARGING, got %v", phases)
	}
}

func TestResolveIDTagPriority(t *testing.T) {
	o := newTestOrchestrator(&fakeGateway{}, &fakeDirectory{}, &fakeWatcher{})

	if tag := o.resolveIDTag("OVERRIDE"); tag != "OVERRIDE" {
		t.Fatalf("override should win, got %q", tag)
	}
	if tag := o.resolveIDTag(""); tag != "SCREEN-TAG" {
		t.Fatalf("screen default should win, got %q", tag)
	}

	o.cfg.DefaultIDTag = ""
	t.Setenv("VOLTLINK_ID_TAG", "ENV-TAG")
	if tag := o.resolveIDTag(""); tag != "ENV-TAG" {
		t.Fatalf("env default should win, got %q", tag)
	}

	t.Setenv("VOLTLINK_ID_TAG", "")
	if tag := o.resolveIDTag(" "); tag != fallbackIDTag {
		t.Fatalf("expected hardcoded fallback, got %q", tag)
	}
}
