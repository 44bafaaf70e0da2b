package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/kingrea/foundry/internal/config"
	"github.com/kingrea/foundry/internal/corpus"
	"github.com/kingrea/foundry/internal/eventbridge"
	"github.com/kingrea/foundry/internal/logbook"
	"github.com/kingrea/foundry/internal/logging"
	"github.com/kingrea/foundry/internal/metrics"
	"github.com/kingrea/foundry/internal/pipeline"
	"github.com/kingrea/foundry/internal/queue"
	"github.com/kingrea/foundry/internal/store"
	"github.com/kingrea/foundry/plugins"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// runtime bundles the components every long-running subcommand shares.
type runtime struct {
	cfg      *config.Config
	layout   store.Layout
	log      *logging.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	queue    *queue.Manager
	corpus   *corpus.Accumulator
	journal  *logbook.Logbook
}

func resolveProject(flagValue string) (string, error) {
	project := flagValue
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		project = cwd
	}
	return filepath.Abs(project)
}

// openRuntime initializes .foundry if needed, loads config and wires the
// queue and corpus. console, when non-nil, mirrors log output.
func openRuntime(projectFlag string, console io.Writer) (*runtime, error) {
	project, err := resolveProject(projectFlag)
	if err != nil {
		return nil, err
	}
	if err := config.InitDir(project); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.Dir, err)
	}
	cfg, err := config.Load(project)
	if err != nil {
		return nil, err
	}
	lg, err := logging.New(project, logging.ParseLevel(cfg.Project.Logging.Level), console)
	if err != nil {
		return nil, err
	}
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		lg.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	layout := store.NewLayout(cfg.FoundryDir)
	if err := layout.Ensure(); err != nil {
		lg.Close()
		return nil, err
	}
	q := queue.New(layout,
		queue.WithLogger(lg.Logger),
		queue.WithMetrics(m),
		queue.WithLease(cfg.Project.Queue.LeaseDuration, cfg.Project.Queue.MaxClaimAttempts),
	)
	acc := corpus.New(layout,
		corpus.WithLogger(lg.Logger),
		corpus.WithThresholds(cfg.Project.Corpus.MinEntries, cfg.Project.Corpus.MinAge),
		corpus.WithMaxThemes(cfg.Project.Corpus.MaxThemes),
	)
	return &runtime{
		cfg:      cfg,
		layout:   layout,
		log:      lg,
		registry: registry,
		metrics:  m,
		queue:    q,
		corpus:   acc,
		journal:  journal,
	}, nil
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	r.log.Close()
}

func (r *runtime) publisher() pipeline.Publisher {
	pc := r.cfg.Project.Publisher
	if pc.Kind == config.PublisherExec {
		return pipeline.ExecPublisher{Command: pc.Command, Dir: r.cfg.ProjectDir}
	}
	return pipeline.OutboxPublisher{Dir: r.layout.Outbox, Markdown: pc.Markdown}
}

func (r *runtime) orchestrator() (*pipeline.Orchestrator, error) {
	pc := r.cfg.Project.Pipeline
	mode, err := pipeline.ParseMode(pc.Mode)
	if err != nil {
		return nil, err
	}
	opts := []pipeline.Option{
		pipeline.WithMode(mode),
		pipeline.WithMinRelevance(pc.MinRelevance),
		pipeline.WithQualityGate(pc.PassScore, r.cfg.MaxRetries()),
		pipeline.WithPublisher(r.publisher()),
		pipeline.WithJournal(r.journal),
		pipeline.WithLogger(r.log.Logger),
		pipeline.WithMetrics(r.metrics),
	}
	if path := r.cfg.ScorerScriptPath(); path != "" {
		scorer, err := plugins.LoadScriptScorer(path)
		if err != nil {
			return nil, fmt.Errorf("load scorer script: %w", err)
		}
		r.log.Info("using scorer script", "path", scorer.Path())
		opts = append(opts, pipeline.WithScorer(scorer))
	}
	return pipeline.New(r.queue, r.corpus, opts...)
}

func (r *runtime) bridge() *eventbridge.Server {
	settings := eventbridge.SettingsFromConfig(r.cfg)
	return eventbridge.NewServer(settings,
		eventbridge.WithIngester(eventbridge.NewQueueIngester(r.queue, settings.DedupeWindow, r.metrics)),
		eventbridge.WithEventSource(r.queue),
		eventbridge.WithGatherer(r.registry),
		eventbridge.WithLogger(r.log),
	)
}
