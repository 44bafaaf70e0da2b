package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/foundry/internal/corpus"
	"github.com/kingrea/foundry/internal/logbook"
	"github.com/kingrea/foundry/internal/metrics"
	"github.com/kingrea/foundry/internal/queue"
	"github.com/kingrea/foundry/internal/store"
)

// OrchestratorID is the agent id stamped on events the orchestrator emits.
const OrchestratorID = "orchestrator"

var errLedgerSave = errors.New("pipeline: ledger save failed")

// SweepReport counts what one sweep did.
type SweepReport struct {
	Examined   int
	Dispatched int
	Retried    int
	Skipped    int
	Published  int
	Filed      int
	Failed     int
	Ripe       int
}

// Orchestrator advances completed tasks through the pipeline. Only one
// orchestrator should sweep a given .foundry tree at a time.
type Orchestrator struct {
	queue  *queue.Manager
	corpus *corpus.Accumulator

	mode           Mode
	scorer         Scorer
	fallback       Scorer
	publisher      Publisher
	minRelevance   float64
	passScore      int
	maxRetries     int
	publishTimeout time.Duration

	journal *logbook.Logbook
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	sweepMu   sync.Mutex
	publishes sync.WaitGroup
}

// New wires an orchestrator over the queue and the corpus.
func New(q *queue.Manager, acc *corpus.Accumulator, opts ...Option) (*Orchestrator, error) {
	if q == nil || acc == nil {
		return nil, errors.New("pipeline: queue manager and corpus accumulator are required")
	}
	o := &Orchestrator{
		queue:          q,
		corpus:         acc,
		mode:           ModeCorpus,
		scorer:         HeuristicScorer{},
		fallback:       HeuristicScorer{},
		minRelevance:   DefaultMinRelevance,
		passScore:      DefaultPassScore,
		maxRetries:     DefaultMaxRetries,
		publishTimeout: DefaultPublishTimeout,
		logger:         slog.Default(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if _, err := ParseMode(string(o.mode)); err != nil {
		return nil, err
	}
	return o, nil
}

// Mode reports the active production mode.
func (o *Orchestrator) Mode() Mode {
	return o.mode
}

// Ledger loads the current ledger from disk.
func (o *Orchestrator) Ledger() (*Ledger, error) {
	return LoadLedger(o.queue.Layout().LedgerPath(), o.logger, o.now())
}

// Run sweeps every interval until ctx is cancelled, then waits for
// in-flight publishes.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("pipeline: sweep interval must be positive")
	}
	defer o.Wait()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := o.Sweep(ctx)
		if err != nil {
			o.logger.Error("sweep failed", "err", err)
		} else if report.changed() {
			o.logger.Info("sweep", "examined", report.Examined, "dispatched", report.Dispatched,
				"retried", report.Retried, "skipped", report.Skipped, "published", report.Published, "ripe", report.Ripe)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Wait blocks until every fire-and-forget publish has returned.
func (o *Orchestrator) Wait() {
	o.publishes.Wait()
}

func (r SweepReport) changed() bool {
	return r.Dispatched+r.Retried+r.Skipped+r.Published+r.Filed > 0
}

// Sweep examines every terminal task not yet in the ledger and, in corpus
// mode, every ripe cluster. Running it repeatedly over the same state
// creates nothing new.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepReport, error) {
	o.sweepMu.Lock()
	defer o.sweepMu.Unlock()
	started := time.Now()
	defer func() { o.metrics.ObserveSweep(time.Since(started)) }()

	var report SweepReport
	ledger, err := o.Ledger()
	if err != nil {
		return report, err
	}
	done, err := o.queue.ListCompleted()
	if err != nil {
		return report, err
	}
	for _, task := range done {
		if ctx.Err() != nil {
			return report, nil
		}
		if ledger.Has(task.ID) {
			continue
		}
		if task.Status == store.StatusFailed {
			// Hard failures stay put for operator inspection.
			report.Failed++
			continue
		}
		report.Examined++
		if err := o.advance(ctx, ledger, task, &report); err != nil {
			if errors.Is(err, errLedgerSave) {
				return report, err
			}
			o.logger.Warn("advance task", "task_id", task.ID, "task_type", task.TaskType, "err", err)
		}
	}
	if o.mode == ModeCorpus && ctx.Err() == nil {
		if err := o.dispatchRipe(ledger, &report); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (o *Orchestrator) advance(ctx context.Context, ledger *Ledger, task store.Task, report *SweepReport) error {
	switch task.TaskType {
	case store.TaskAnalyzeSignal:
		return o.advanceAnalysis(ledger, task, report)
	case store.TaskDesignVisual, store.TaskWriteArtifact:
		return o.advanceProduction(ctx, ledger, task, report)
	case store.TaskReviewArtifact:
		return o.advanceReview(ctx, ledger, task, report)
	default:
		return fmt.Errorf("unhandled task type %q", task.TaskType)
	}
}

func (o *Orchestrator) advanceAnalysis(ledger *Ledger, task store.Task, report *SweepReport) error {
	payload, ok := task.Payload.(store.AnalyzePayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", task.Payload)
	}
	var analysis corpus.Analysis
	if err := decodeResult(task.Result, &analysis); err != nil {
		report.Skipped++
		return o.record(ledger, task.ID, LedgerEntry{State: StateSkipped, Reason: ReasonInvalidResult}, "skip", err.Error())
	}
	entryID, err := o.corpus.AddEntry(payload.Signal.ID, analysis, payload.Signal)
	if err != nil {
		return err
	}

	if o.mode == ModeCorpus {
		report.Filed++
		return o.record(ledger, task.ID, LedgerEntry{State: StateDispatched, Next: NextCorpus}, "corpus",
			fmt.Sprintf("entry=%s themes=%s", entryID, strings.Join(o.corpus.ThemesOf(entryID), ",")))
	}

	if analysis.RelevanceScore < o.minRelevance {
		report.Skipped++
		return o.record(ledger, task.ID, LedgerEntry{State: StateSkipped, Reason: ReasonLowScore}, "skip",
			fmt.Sprintf("relevance=%.2f", analysis.RelevanceScore))
	}
	brief := store.Brief{
		Key:            payload.Signal.ID,
		SignalID:       payload.Signal.ID,
		EntryIDs:       []string{entryID},
		Summary:        analysis.Summary,
		Insights:       analysis.Insights,
		RelevanceScore: analysis.RelevanceScore,
	}
	next, err := o.create(store.VisualizePayload{Brief: brief})
	if err != nil {
		return err
	}
	report.Dispatched++
	return o.record(ledger, task.ID, LedgerEntry{State: StateDispatched, Next: next}, "dispatch", string(store.TaskDesignVisual))
}

func (o *Orchestrator) advanceProduction(ctx context.Context, ledger *Ledger, task store.Task, report *SweepReport) error {
	brief, ok := store.BriefOf(task.Payload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", task.Payload)
	}
	attempt := attemptOf(task.Payload)
	verdict := o.score(ctx, task)
	o.metrics.ObserveQuality(string(task.TaskType), verdict.Score)

	if verdict.Score < o.passScore {
		if attempt.RetryCount < o.maxRetries {
			feedback := verdict.Feedback
			if len(feedback) == 0 {
				feedback = []string{fmt.Sprintf("quality score %d is below %d", verdict.Score, o.passScore)}
			}
			retry := withAttempt(task.Payload, store.Attempt{RetryCount: attempt.RetryCount + 1, Feedback: feedback})
			next, err := o.create(retry)
			if err != nil {
				return err
			}
			report.Retried++
			return o.record(ledger, task.ID, LedgerEntry{
				State:  StateDispatched,
				Next:   next,
				Reason: fmt.Sprintf("quality %d < %d", verdict.Score, o.passScore),
			}, "retry", fmt.Sprintf("%s retry=%d key=%s", task.TaskType, attempt.RetryCount+1, brief.Key))
		}
		o.logger.Warn("quality gate retries exhausted, advancing", "task_id", task.ID, "key", brief.Key, "score", verdict.Score)
	}

	carry := store.Attempt{RetryCount: attempt.RetryCount}
	var next store.Payload
	switch p := task.Payload.(type) {
	case store.VisualizePayload:
		next = store.WritePayload{Brief: p.Brief, Visual: task.Result, Attempt: carry}
	case store.WritePayload:
		next = store.ReviewPayload{Brief: p.Brief, Visual: p.Visual, Draft: task.Result, Attempt: carry}
	}
	nextID, err := o.create(next)
	if err != nil {
		return err
	}
	report.Dispatched++
	return o.record(ledger, task.ID, LedgerEntry{State: StateDispatched, Next: nextID}, "dispatch",
		fmt.Sprintf("%s score=%d key=%s", next.TaskType(), verdict.Score, brief.Key))
}

func (o *Orchestrator) advanceReview(ctx context.Context, ledger *Ledger, task store.Task, report *SweepReport) error {
	payload, ok := task.Payload.(store.ReviewPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T", task.Payload)
	}
	var review ReviewResult
	if err := decodeResult(task.Result, &review); err != nil {
		report.Skipped++
		return o.record(ledger, task.ID, LedgerEntry{State: StateSkipped, Reason: ReasonInvalidResult}, "skip", err.Error())
	}

	if review.Approved {
		artifactID := store.NewArtifactID(payload.Brief.Key)
		if payload.Brief.Theme != "" {
			if err := o.corpus.MarkPublished(payload.Brief.Theme, artifactID); err != nil {
				return err
			}
		}
		// Recorded before publishing so a crash can never publish twice.
		if err := o.record(ledger, task.ID, LedgerEntry{State: StateTerminal, Next: artifactID}, "publish", payload.Brief.Key); err != nil {
			return err
		}
		report.Published++
		o.publish(ctx, Artifact{
			ArtifactID:   artifactID,
			Key:          payload.Brief.Key,
			Brief:        payload.Brief,
			Visual:       payload.Visual,
			Draft:        payload.Draft,
			Review:       task.Result,
			ReviewTaskID: task.ID,
			ApprovedAt:   o.now().UTC(),
		})
		return nil
	}

	if payload.RetryCount >= o.maxRetries {
		report.Skipped++
		return o.record(ledger, task.ID, LedgerEntry{State: StateSkipped, Reason: ReasonMaxRetries}, "skip",
			fmt.Sprintf("review rejected key=%s", payload.Brief.Key))
	}
	feedback := review.Feedback
	if len(feedback) == 0 {
		feedback = []string{"rejected by reviewer"}
	}
	next, err := o.create(store.WritePayload{
		Brief:   payload.Brief,
		Visual:  payload.Visual,
		Attempt: store.Attempt{RetryCount: payload.RetryCount + 1, Feedback: feedback},
	})
	if err != nil {
		return err
	}
	report.Retried++
	return o.record(ledger, task.ID, LedgerEntry{State: StateDispatched, Next: next, Reason: "review rejected"}, "retry",
		fmt.Sprintf("%s retry=%d key=%s", store.TaskWriteArtifact, payload.RetryCount+1, payload.Brief.Key))
}

func (o *Orchestrator) dispatchRipe(ledger *Ledger, report *SweepReport) error {
	clusters, err := o.corpus.GetRipeClusters()
	if err != nil {
		return err
	}
	report.Ripe = len(clusters)
	o.metrics.SetClustersRipe(len(clusters))
	for _, c := range clusters {
		key := corpus.ClusterKey(c.Theme)
		if ledger.Has(key) {
			continue
		}
		brief := o.corpus.Brief(c)
		next, err := o.create(store.VisualizePayload{Brief: brief})
		if err != nil {
			o.logger.Warn("dispatch ripe cluster", "theme", c.Theme, "err", err)
			continue
		}
		report.Dispatched++
		if err := o.record(ledger, key, LedgerEntry{State: StateDispatched, Next: next}, "dispatch",
			fmt.Sprintf("%s entries=%d", store.TaskDesignVisual, len(c.EntryIDs))); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) create(payload store.Payload) (string, error) {
	agent, ok := store.AgentFor(payload.TaskType())
	if !ok {
		return "", fmt.Errorf("no agent serves %s", payload.TaskType())
	}
	return o.queue.CreateTask(agent, payload)
}

// record writes one ledger decision and persists it immediately.
func (o *Orchestrator) record(ledger *Ledger, key string, entry LedgerEntry, action, detail string) error {
	entry.RecordedAt = o.now().UTC()
	if !ledger.record(key, entry) {
		return nil
	}
	if err := ledger.Save(); err != nil {
		return fmt.Errorf("%w: %v", errLedgerSave, err)
	}
	o.metrics.Transition(action)
	o.journal.Transition(action, key, detail)
	o.logger.Info("transition", "action", action, "key", key, "state", entry.State, "next", entry.Next, "reason", entry.Reason)
	return nil
}

func (o *Orchestrator) score(ctx context.Context, task store.Task) Verdict {
	verdict, err := o.scorer.Score(ctx, task.TaskType, task.Result)
	if err != nil {
		o.logger.Warn("quality scorer failed, using heuristic", "task_id", task.ID, "err", err)
		verdict, err = o.fallback.Score(ctx, task.TaskType, task.Result)
		if err != nil {
			return Verdict{Score: 0, Feedback: []string{err.Error()}}
		}
	}
	verdict.Score = ClampScore(verdict.Score)
	return verdict
}

func (o *Orchestrator) publish(ctx context.Context, artifact Artifact) {
	if o.publisher == nil {
		o.logger.Warn("no publisher configured, artifact approved but not delivered", "artifact_id", artifact.ArtifactID)
		return
	}
	o.publishes.Add(1)
	go func() {
		defer o.publishes.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.publishTimeout)
		defer cancel()
		payload := map[string]any{"artifactId": artifact.ArtifactID, "key": artifact.Key}
		if err := o.publisher.Publish(pctx, artifact); err != nil {
			o.metrics.Published("failed")
			o.journal.Error("publish %s failed: %v", artifact.ArtifactID, err)
			o.logger.Error("publish failed", "artifact_id", artifact.ArtifactID, "err", err)
			payload["error"] = err.Error()
			_ = o.queue.EmitEvent(store.EventPublishFailed, OrchestratorID, payload)
			return
		}
		o.metrics.Published("ok")
		o.logger.Info("artifact published", "artifact_id", artifact.ArtifactID)
		_ = o.queue.EmitEvent(store.EventArtifactPublished, OrchestratorID, payload)
	}()
}

func decodeResult(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("result is empty")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func attemptOf(p store.Payload) store.Attempt {
	switch v := p.(type) {
	case store.VisualizePayload:
		return v.Attempt
	case store.WritePayload:
		return v.Attempt
	case store.ReviewPayload:
		return v.Attempt
	default:
		return store.Attempt{}
	}
}

func withAttempt(p store.Payload, a store.Attempt) store.Payload {
	switch v := p.(type) {
	case store.VisualizePayload:
		v.Attempt = a
		return v
	case store.WritePayload:
		v.Attempt = a
		return v
	case store.ReviewPayload:
		v.Attempt = a
		return v
	default:
		return p
	}
}
