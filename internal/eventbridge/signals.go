package eventbridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/kingrea/foundry/internal/config"
	"github.com/kingrea/foundry/internal/metrics"
	"github.com/kingrea/foundry/internal/queue"
	"github.com/kingrea/foundry/internal/store"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// MaxSignalIDLength bounds signal ids, which end up in file names.
const MaxSignalIDLength = 200

// ErrDuplicateSignal reports a signal id seen inside the dedupe window.
var ErrDuplicateSignal = errors.New("eventbridge: duplicate signal")

// SignalRequest is the inbound body of POST /signals.
type SignalRequest struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	URL        string    `json:"url"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Normalize trims fields before validation.
func (r *SignalRequest) Normalize() {
	if r == nil {
		return
	}
	r.ID = strings.TrimSpace(r.ID)
	r.Source = strings.TrimSpace(r.Source)
	r.Title = strings.TrimSpace(r.Title)
	r.URL = strings.TrimSpace(r.URL)
}

// Validate enforces the minimum a signal needs to be analyzed.
func (r SignalRequest) Validate() error {
	if r.ID == "" {
		return errors.New("id is required")
	}
	if len(r.ID) > MaxSignalIDLength {
		return fmt.Errorf("id is longer than %d bytes", MaxSignalIDLength)
	}
	if strings.IndexFunc(r.ID, unicode.IsControl) >= 0 {
		return errors.New("id contains control characters")
	}
	if r.Title == "" && strings.TrimSpace(r.Body) == "" {
		return errors.New("title or body is required")
	}
	return nil
}

// Signal converts the request into the stored form, stamping receivedAt
// when the client did not.
func (r SignalRequest) Signal(now time.Time) store.Signal {
	received := r.ReceivedAt
	if received.IsZero() {
		received = now
	}
	return store.Signal{
		ID:         r.ID,
		Source:     r.Source,
		Title:      r.Title,
		Body:       r.Body,
		URL:        r.URL,
		ReceivedAt: received.UTC(),
	}
}

// SignalIngester turns a signal into pipeline work.
type SignalIngester interface {
	Ingest(store.Signal) (taskID string, err error)
}

// SignalIngesterFunc adapts a function into a SignalIngester.
type SignalIngesterFunc func(store.Signal) (string, error)

// Ingest executes f(sig).
func (f SignalIngesterFunc) Ingest(sig store.Signal) (string, error) {
	if f == nil {
		return "", nil
	}
	return f(sig)
}

// QueueIngester creates an analyzer task per signal and drops ids it has
// recently accepted. The window is bounded by count, oldest first out.
type QueueIngester struct {
	queue   *queue.Manager
	metrics *metrics.Metrics
	window  int

	mu          sync.Mutex
	recentIDs   map[string]struct{}
	recentOrder []string
}

// NewQueueIngester wires an ingester to q.
func NewQueueIngester(q *queue.Manager, window int, m *metrics.Metrics) *QueueIngester {
	if window <= 0 {
		window = config.DefaultBridge().DedupeWindow
	}
	return &QueueIngester{
		queue:     q,
		metrics:   m,
		window:    window,
		recentIDs: make(map[string]struct{}, window),
	}
}

// Ingest implements SignalIngester.
func (qi *QueueIngester) Ingest(sig store.Signal) (string, error) {
	qi.mu.Lock()
	defer qi.mu.Unlock()
	if _, seen := qi.recentIDs[sig.ID]; seen {
		qi.metrics.SignalIngested("duplicate")
		return "", ErrDuplicateSignal
	}
	id, err := qi.queue.CreateTask(store.AgentAnalyzer, store.AnalyzePayload{Signal: sig})
	if err != nil {
		qi.metrics.SignalIngested("error")
		return "", err
	}
	qi.remember(sig.ID)
	qi.metrics.SignalIngested("accepted")
	return id, nil
}

func (qi *QueueIngester) remember(id string) {
	qi.recentIDs[id] = struct{}{}
	qi.recentOrder = append(qi.recentOrder, id)
	if len(qi.recentOrder) > qi.window {
		oldest := qi.recentOrder[0]
		qi.recentOrder = qi.recentOrder[1:]
		delete(qi.recentIDs, oldest)
	}
}

// EventSource lists the append-only event log.
type EventSource interface {
	ListEvents(since time.Time) ([]store.Event, error)
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type signalResponse struct {
	Status     string    `json:"status"`
	TaskID     string    `json:"taskId,omitempty"`
	ServerTime time.Time `json:"serverTime"`
}
