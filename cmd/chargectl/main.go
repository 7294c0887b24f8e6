package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"voltlink/internal/client/api"
	clientconfig "voltlink/internal/client/config"
	"voltlink/internal/client/control"
	"voltlink/internal/client/stream"
	"voltlink/internal/client/watch"
	"voltlink/internal/models"
	"voltlink/libs/logging"
)

const usage = `chargectl <command> [flags]

Commands:
  start    start a charging session and wait for it to begin
  stop     stop the active session and wait for confirmation
  status   print the active session for a charge box
  watch    follow session events for a charge box
  billing  list billing transactions for the current device
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := clientconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.NewCLILogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	var exit int
	switch os.Args[1] {
	case "start":
		exit = runStart(ctx, cfg, logger, os.Args[2:])
	case "stop":
		exit = runStop(ctx, cfg, logger, os.Args[2:])
	case "status":
		exit = runStatus(ctx, cfg, logger, os.Args[2:])
	case "watch":
		exit = runWatch(ctx, cfg, logger, os.Args[2:])
	case "billing":
		exit = runBilling(ctx, cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		exit = 2
	}
	os.Exit(exit)
}

func newOrchestrator(cfg *clientconfig.Config, logger *zap.Logger, chargeBoxID string) *control.Orchestrator {
	httpClient := api.NewDefaultHTTPClient(cfg.HTTPTimeout())
	commands := api.NewCommandsClient(cfg.Relay.BaseURL, cfg.Relay.Token, httpClient, logger)
	sessions := api.NewSessionsClient(cfg.Relay.BaseURL, cfg.Relay.Token, httpClient, logger)
	watcher := watch.NewWatcher(sessions, newEventSource(cfg, logger), logger, cfg.WatchConfig())
	return control.New(cfg.ControlConfig(chargeBoxID), commands, sessions, watcher, logger)
}

func newEventSource(cfg *clientconfig.Config, logger *zap.Logger) watch.EventSource {
	header := http.Header{}
	if cfg.Relay.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Relay.Token)
	}
	switch cfg.Stream {
	case clientconfig.StreamNDJSON:
		return stream.NewNDJSONSource(cfg.Relay.BaseURL, header, logger)
	case clientconfig.StreamWS:
		return stream.NewWSSource(cfg.Relay.BaseURL, header, logger)
	default:
		return stream.NewSSESource(cfg.Relay.BaseURL, header, logger)
	}
}

func runStart(ctx context.Context, cfg *clientconfig.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	box := fs.String("box", "", "charge box id (required)")
	idTag := fs.String("idtag", "", "authorization tag, overrides configured defaults")
	connector := fs.Int("connector", 0, "connector id, 0 lets the box choose")
	force := fs.Bool("force", false, "ask the backend to preempt a stale session")
	fs.Parse(args)
	if *box == "" {
		fmt.Fprintln(os.Stderr, "start: -box is required")
		return 2
	}

	orch := newOrchestrator(cfg, logger, *box)
	printTransitions(orch)

	reconcileCtx, stopReconcile := context.WithCancel(ctx)
	defer stopReconcile()
	go orch.RunReconcile(reconcileCtx)

	result := orch.Start(ctx, control.StartOptions{
		IDTag:       *idTag,
		ConnectorID: *connector,
		Force:       *force,
	})
	if result == control.ResultPending {
		fmt.Println("charge point offline; waiting for the queued start to take effect (interrupt to give up)")
		awaitPhase(ctx, orch, models.PhaseCharging)
	}
	return reportResult(orch, result)
}

func runStop(ctx context.Context, cfg *clientconfig.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	box := fs.String("box", "", "charge box id (required)")
	fs.Parse(args)
	if *box == "" {
		fmt.Fprintln(os.Stderr, "stop: -box is required")
		return 2
	}

	orch := newOrchestrator(cfg, logger, *box)
	printTransitions(orch)

	reconcileCtx, stopReconcile := context.WithCancel(ctx)
	defer stopReconcile()
	go orch.RunReconcile(reconcileCtx)

	result := orch.Stop(ctx)
	if result == control.ResultPending {
		fmt.Println("charge point offline; waiting for the queued stop to take effect (interrupt to give up)")
		awaitPhase(ctx, orch, models.PhaseIdle)
	}
	return reportResult(orch, result)
}

// awaitPhase blocks until reconciliation moves the orchestrator into the
// wanted phase or ctx is canceled.
func awaitPhase(ctx context.Context, orch *control.Orchestrator, want models.Phase) {
	reached := make(chan struct{}, 1)
	unsubscribe := orch.Subscribe(func(s control.Snapshot) {
		if s.Phase == want {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if orch.Snapshot().Phase == want {
		return
	}
	select {
	case <-reached:
	case <-ctx.Done():
	}
}

func printTransitions(orch *control.Orchestrator) {
	orch.Subscribe(func(s control.Snapshot) {
		line := string(s.Phase)
		if s.ActiveTransactionID != 0 {
			line = fmt.Sprintf("%s tx=%d", line, s.ActiveTransactionID)
		}
		if s.StatusMessage != "" {
			line = fmt.Sprintf("%s (%s)", line, s.StatusMessage)
		}
		fmt.Println(line)
	})
}

func reportResult(orch *control.Orchestrator, result control.Result) int {
	snap := orch.Snapshot()
	fmt.Printf("result=%s phase=%s", result, snap.Phase)
	if snap.ActiveTransactionID != 0 {
		fmt.Printf(" tx=%d", snap.ActiveTransactionID)
	}
	fmt.Println()
	if result == control.ResultError {
		return 1
	}
	return 0
}

func runStatus(ctx context.Context, cfg *clientconfig.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	box := fs.String("box", "", "charge box id (required)")
	fs.Parse(args)
	if *box == "" {
		fmt.Fprintln(os.Stderr, "status: -box is required")
		return 2
	}

	httpClient := api.NewDefaultHTTPClient(cfg.HTTPTimeout())
	sessions := api.NewSessionsClient(cfg.Relay.BaseURL, cfg.Relay.Token, httpClient, logger)

	tx, err := sessions.ActiveTransaction(ctx, *box)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if tx == nil {
		fmt.Println("no active session")
	} else {
		fmt.Printf("tx=%d connector=%d idTag=%s status=%s started=%s\n",
			tx.TransactionID, tx.ConnectorID, tx.IDTag, tx.Status, tx.StartedAt.Format(time.RFC3339))
	}

	if status, err := sessions.ChargePointStatus(ctx, *box); err == nil && status != nil {
		fmt.Printf("chargebox online=%t lastHeartbeat=%s\n", status.Online, status.LastHeartbeat.Format(time.RFC3339))
	}
	return 0
}

func runWatch(ctx context.Context, cfg *clientconfig.Config, logger *zap.Logger, args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	box := fs.String("box", "", "charge box id (required)")
	fs.Parse(args)
	if *box == "" {
		fmt.Fprintln(os.Stderr, "watch: -box is required")
		return 2
	}

	events, err := newEventSource(cfg, logger).Subscribe(ctx, *box)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for ev := range events {
		fmt.Printf("%s %s tx=%d at=%s\n", ev.Type, ev.ChargeBoxID, ev.TransactionID, ev.OccurredAt.Format(time.RFC3339))
	}
	return 0
}

func runBilling(ctx context.Context, cfg *clientconfig.Config, logger *zap.Logger) int {
	httpClient := api.NewDefaultHTTPClient(cfg.HTTPTimeout())
	billing := api.NewBillingClient(cfg.Relay.BaseURL, cfg.Relay.Token, httpClient, logger)

	transactions, err := billing.TransactionsMe(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(transactions) == 0 {
		fmt.Println("no billing transactions")
		return 0
	}
	for _, t := range transactions {
		fmt.Printf("#%d session=%d box=%s energy=%.3fkWh amount=%.2f status=%s\n",
			t.ID, t.SessionID, t.ChargeBoxID, t.EnergyKWh, t.Amount, t.Status)
	}
	return 0
}
