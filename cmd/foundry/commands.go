package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/kingrea/foundry/internal/config"
	"github.com/kingrea/foundry/internal/eventbridge"
	"github.com/kingrea/foundry/internal/pipeline"
	"github.com/kingrea/foundry/internal/store"
	"github.com/kingrea/foundry/internal/tui"
	"github.com/kingrea/foundry/internal/watcher"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runInit(args []string) error {
	fs, project := newFlagSet("init")
	fs.Parse(args)
	dir, err := resolveProject(*project)
	if err != nil {
		return err
	}
	if err := config.InitDir(dir); err != nil {
		return err
	}
	fmt.Printf("Initialized %s in %s\n", config.Dir, dir)
	return nil
}

func runIngest(args []string) error {
	fs, project := newFlagSet("ingest")
	id := fs.String("id", "", "signal id (generated when empty)")
	title := fs.String("title", "", "signal title")
	body := fs.String("body", "", "signal body; '-' reads stdin")
	source := fs.String("source", "cli", "signal source label")
	url := fs.String("url", "", "signal url")
	fs.Parse(args)

	text := *body
	if text == "-" {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(raw)
	}
	req := eventbridge.SignalRequest{ID: *id, Source: *source, Title: *title, Body: text, URL: *url}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return err
	}

	rt, err := openRuntime(*project, nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	taskID, err := rt.queue.CreateTask(store.AgentAnalyzer, store.AnalyzePayload{Signal: req.Signal(rt.queue.Now())})
	if err != nil {
		return err
	}
	fmt.Printf("signal %s queued as %s\n", req.ID, taskID)
	return nil
}

func runWorker(args []string) error {
	fs, project := newFlagSet("worker")
	agent := fs.String("agent", "", "agent type: analyzer, visualizer, writer or reviewer")
	workerID := fs.String("id", "", "worker id (defaults to <agent>-<host>-<pid>)")
	poll := fs.Duration("poll", 0, "poll interval (defaults to queue.poll_interval)")
	timeout := fs.Duration("timeout", 0, "per-task command timeout (0 = none)")
	noNotify := fs.Bool("no-notify", false, "disable filesystem notifications and rely on polling")
	fs.Parse(args)

	argv := fs.Args()
	if len(argv) == 0 {
		return errors.New("a handler command is required after --")
	}
	handler, err := watcher.NewExecHandler(argv)
	if err != nil {
		return err
	}
	handler.Timeout = *timeout

	rt, err := openRuntime(*project, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	handler.Dir = rt.cfg.ProjectDir

	agentType := store.AgentType(strings.ToLower(strings.TrimSpace(*agent)))
	id := *workerID
	if id == "" {
		host, _ := os.Hostname()
		id = fmt.Sprintf("%s-%s-%d", agentType, host, os.Getpid())
	}
	interval := *poll
	if interval <= 0 {
		interval = rt.cfg.Project.Queue.PollInterval
	}
	opts := []watcher.Option{
		watcher.WithPollInterval(interval),
		watcher.WithNotify(!*noNotify),
		watcher.WithLogger(rt.log.Logger),
		watcher.WithMetrics(rt.metrics),
	}
	if lease := rt.cfg.Project.Queue.LeaseDuration; lease > 0 {
		opts = append(opts, watcher.WithHeartbeat(lease/3))
	}
	w, err := watcher.New(rt.queue, agentType, id, handler, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	rt.log.Info("worker started", "agent", agentType, "worker_id", id, "command", argv[0])
	err = w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runOrchestrate(args []string) error {
	fs, project := newFlagSet("orchestrate")
	once := fs.Bool("once", false, "run a single sweep and exit")
	noBridge := fs.Bool("no-bridge", false, "do not start the HTTP bridge")
	fs.Parse(args)

	rt, err := openRuntime(*project, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	orch, err := rt.orchestrator()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *once {
		report, err := orch.Sweep(ctx)
		orch.Wait()
		printReport(report)
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx, rt.cfg.Project.Pipeline.SweepInterval)
	})
	if rt.cfg.Project.Queue.LeaseDuration > 0 {
		g.Go(func() error {
			return reapLoop(ctx, rt, rt.cfg.Project.Queue.PollInterval)
		})
	}
	if !*noBridge {
		server := rt.bridge()
		g.Go(func() error {
			return server.Run(ctx)
		})
	}
	rt.log.Info("orchestrator started", "mode", orch.Mode(), "sweep_interval", rt.cfg.Project.Pipeline.SweepInterval)
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func reapLoop(ctx context.Context, rt *runtime, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := rt.queue.Reap()
			if err != nil {
				rt.log.Warn("reap failed", "err", err)
				continue
			}
			if len(report.Requeued)+len(report.Failed) > 0 {
				rt.log.Info("reaped expired leases", "requeued", len(report.Requeued), "failed", len(report.Failed))
			}
		}
	}
}

func printReport(r pipeline.SweepReport) {
	fmt.Printf("examined=%d dispatched=%d retried=%d skipped=%d published=%d filed=%d failed=%d ripe=%d\n",
		r.Examined, r.Dispatched, r.Retried, r.Skipped, r.Published, r.Filed, r.Failed, r.Ripe)
}

func runServe(args []string) error {
	fs, project := newFlagSet("serve")
	fs.Parse(args)
	rt, err := openRuntime(*project, os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()
	server := rt.bridge()
	ctx, cancel := signalContext()
	defer cancel()
	if err := server.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("bridge listening on %s\n", server.BaseURL())
	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return server.Shutdown(shutdownCtx)
}

func runStatus(args []string) error {
	fs, project := newFlagSet("status")
	plain := fs.Bool("plain", false, "print a plain snapshot instead of the dashboard")
	fs.Parse(args)
	rt, err := openRuntime(*project, nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	src := tui.Sources{
		Queue:   rt.queue,
		Corpus:  rt.corpus,
		Journal: rt.journal,
		Mode:    rt.cfg.Project.Pipeline.Mode,
	}
	if *plain || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Print(tui.Plain(tui.TakeSnapshot(src, time.Now())))
		return nil
	}
	return tui.Run(src)
}

func runClusters(args []string) error {
	fs, project := newFlagSet("clusters")
	ripeOnly := fs.Bool("ripe", false, "only list ripe clusters")
	fs.Parse(args)
	rt, err := openRuntime(*project, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	clusters, err := rt.corpus.Clusters()
	if *ripeOnly {
		clusters, err = rt.corpus.GetRipeClusters()
	}
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "THEME\tENTRIES\tMATURITY\tQUALITY\tFIRST SEEN\tARTIFACT")
	for _, c := range clusters {
		artifact := "-"
		if c.PublishedArtifactID != nil {
			artifact = *c.PublishedArtifactID
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f\t%s\t%s\n",
			c.Theme, len(c.EntryIDs), c.Maturity, c.Quality, c.FirstSeen.Format(time.RFC3339), artifact)
	}
	return tw.Flush()
}

func runTasks(args []string) error {
	fs, project := newFlagSet("tasks")
	status := fs.String("status", "pending", "pending, processing, completed or failed")
	agent := fs.String("agent", "", "only list tasks for this agent type")
	fs.Parse(args)
	rt, err := openRuntime(*project, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	want := store.Status(strings.ToLower(*status))
	var tasks []store.Task
	switch want {
	case store.StatusPending:
		tasks, err = rt.queue.ListPending(store.AgentType(*agent))
	case store.StatusProcessing:
		tasks, err = rt.queue.ListProcessing()
	case store.StatusCompleted, store.StatusFailed:
		tasks, err = rt.queue.ListCompleted()
	default:
		return fmt.Errorf("unknown status %q", *status)
	}
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tAGENT\tTYPE\tSTATUS\tCLAIMED BY\tDETAIL")
	for _, t := range tasks {
		if t.Status != want || (*agent != "" && string(t.AgentType) != *agent) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.AgentType, t.TaskType, t.Status, dash(t.ClaimedBy), dash(oneLine(t.Error)))
	}
	return tw.Flush()
}

func runReap(args []string) error {
	fs, project := newFlagSet("reap")
	fs.Parse(args)
	rt, err := openRuntime(*project, nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	report, err := rt.queue.Reap()
	if err != nil {
		return err
	}
	fmt.Printf("requeued=%d failed=%d\n", len(report.Requeued), len(report.Failed))
	for _, id := range report.Requeued {
		fmt.Printf("  requeued %s\n", id)
	}
	for _, id := range report.Failed {
		fmt.Printf("  failed   %s\n", id)
	}
	return nil
}

func runMode(args []string) error {
	fs, project := newFlagSet("mode")
	fs.Parse(args)
	rt, err := openRuntime(*project, nil)
	if err != nil {
		return err
	}
	defer rt.Close()
	if fs.NArg() == 0 {
		fmt.Println(rt.cfg.Project.Pipeline.Mode)
		return nil
	}
	mode, err := pipeline.ParseMode(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := rt.cfg.SetPipelineMode(string(mode)); err != nil {
		return err
	}
	fmt.Printf("pipeline mode set to %s; restart the orchestrator to apply\n", mode)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 72 {
		return s[:71] + "…"
	}
	return s
}
