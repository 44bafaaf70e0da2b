package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kingrea/foundry/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	layout := store.NewLayout(filepath.Join(t.TempDir(), ".foundry"))
	if err := layout.Ensure(); err != nil {
		t.Fatalf("ensure layout: %v", err)
	}
	all := append([]Option{WithClock(clock.Now)}, opts...)
	return New(layout, all...), clock
}

func signalPayload(id string) store.AnalyzePayload {
	return store.AnalyzePayload{Signal: store.Signal{ID: id, Title: "signal " + id}}
}

func mustCreate(t *testing.T, m *Manager, agent store.AgentType, payload store.Payload) string {
	t.Helper()
	id, err := m.CreateTask(agent, payload)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return id
}

func TestCreateTaskWritesPendingAndEvent(t *testing.T) {
	m, _ := newTestManager(t)
	id := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s1"))

	task, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != store.StatusPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	if task.TaskType != store.TaskAnalyzeSignal {
		t.Fatalf("task type = %s, want %s", task.TaskType, store.TaskAnalyzeSignal)
	}
	events, err := m.ListEvents(time.Time{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].Type != store.EventTaskCreated || events[0].TaskID != id {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestListPendingPreservesCreationOrderPerAgent(t *testing.T) {
	m, _ := newTestManager(t)
	var want []string
	for i := 0; i < 3; i++ {
		want = append(want, mustCreate(t, m, store.AgentAnalyzer, signalPayload(fmt.Sprintf("s%d", i))))
		mustCreate(t, m, store.AgentReviewer, store.ReviewPayload{Brief: store.Brief{Key: "k"}})
	}
	pending, err := m.ListPending(store.AgentAnalyzer)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != len(want) {
		t.Fatalf("len(pending) = %d, want %d", len(pending), len(want))
	}
	for i, task := range pending {
		if task.ID != want[i] {
			t.Fatalf("pending[%d] = %s, want %s", i, task.ID, want[i])
		}
	}
	all, err := m.ListPending("")
	if err != nil {
		t.Fatalf("ListPending all: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("len(all) = %d, want 6", len(all))
	}
}

func TestClaimTaskMovesToProcessing(t *testing.T) {
	m, _ := newTestManager(t)
	id := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s1"))

	task, err := m.ClaimTask("worker-a", id)
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if task.Status != store.StatusProcessing || task.ClaimedBy != "worker-a" || task.ClaimedAt == nil {
		t.Fatalf("unexpected claimed task: %+v", task)
	}
	if task.LeaseExpiresAt == nil {
		t.Fatalf("expected lease to be stamped")
	}
	if store.Exists(m.layout.TaskPath(store.StatusPending, id)) {
		t.Fatalf("pending copy should be removed after claim")
	}
	pending, _ := m.ListPending(store.AgentAnalyzer)
	if len(pending) != 0 {
		t.Fatalf("claimed task still listed as pending")
	}
	if _, err := m.ClaimTask("worker-b", id); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("second claim err = %v, want ErrNotClaimable", err)
	}
}

func TestClaimTaskAtMostOneWinner(t *testing.T) {
	for _, tc := range []struct {
		name   string
		locker store.Locker
	}{
		{"file", nil},
		{"mem", store.NewMemLocker()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestManager(t, WithLocker(tc.locker))
			id := mustCreate(t, m, store.AgentAnalyzer, signalPayload("contended"))

			var (
				wg      sync.WaitGroup
				winners atomic.Int32
				start   = make(chan struct{})
			)
			for i := 0; i < 12; i++ {
				wg.Add(1)
				go func(worker string) {
					defer wg.Done()
					<-start
					_, err := m.ClaimTask(worker, id)
					switch {
					case err == nil:
						winners.Add(1)
					case errors.Is(err, ErrNotClaimable):
					default:
						t.Errorf("unexpected claim error: %v", err)
					}
				}(fmt.Sprintf("worker-%d", i))
			}
			close(start)
			wg.Wait()
			if got := winners.Load(); got != 1 {
				t.Fatalf("winners = %d, want 1", got)
			}
		})
	}
}

func TestTwoWorkersClaimThreeTasksExactlyOnce(t *testing.T) {
	m, _ := newTestManager(t)
	for i := 0; i < 3; i++ {
		mustCreate(t, m, "A", signalPayload(fmt.Sprintf("s%d", i)))
	}
	var (
		mu      sync.Mutex
		claimed = map[string]string{}
		wg      sync.WaitGroup
	)
	for _, worker := range []string{"w1", "w2"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				pending, err := m.ListPending("A")
				if err != nil {
					t.Errorf("ListPending: %v", err)
					return
				}
				if len(pending) == 0 {
					return
				}
				for _, candidate := range pending {
					task, err := m.ClaimTask(worker, candidate.ID)
					if err != nil {
						continue
					}
					mu.Lock()
					if prev, dup := claimed[task.ID]; dup {
						t.Errorf("task %s claimed by %s and %s", task.ID, prev, worker)
					}
					claimed[task.ID] = worker
					mu.Unlock()
					break
				}
			}
		}(worker)
	}
	wg.Wait()
	if len(claimed) != 3 {
		t.Fatalf("claimed %d tasks, want 3", len(claimed))
	}
}

func TestCompleteTaskIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	id := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s1"))
	if _, err := m.ClaimTask("w", id); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	result := json.RawMessage(`{"themes":["slow-life"]}`)
	ok, err := m.CompleteTask(id, result)
	if err != nil || !ok {
		t.Fatalf("first CompleteTask = %v, %v", ok, err)
	}
	ok, err = m.CompleteTask(id, json.RawMessage(`{"themes":["other"]}`))
	if ok {
		t.Fatalf("second CompleteTask should be a no-op")
	}
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second CompleteTask err = %v, want ErrAlreadyTerminal", err)
	}
	task, err := m.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Status != store.StatusCompleted || string(task.Result) != string(result) {
		t.Fatalf("stored task changed: status=%s result=%s", task.Status, task.Result)
	}
}

func TestFailAfterCompleteDoesNotCorruptResult(t *testing.T) {
	m, _ := newTestManager(t)
	id := mustCreate(t, m, store.AgentWriter, store.WritePayload{Brief: store.Brief{Key: "k"}})
	if _, err := m.ClaimTask("w", id); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if ok, err := m.CompleteTask(id, json.RawMessage(`{"title":"t"}`)); !ok || err != nil {
		t.Fatalf("CompleteTask = %v, %v", ok, err)
	}
	ok, err := m.FailTask(id, "late failure")
	if ok || !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("FailTask = %v, %v; want false, ErrAlreadyTerminal", ok, err)
	}
	task, _ := m.Get(id)
	if task.Status != store.StatusCompleted || task.Error != "" {
		t.Fatalf("completed task mutated: %+v", task)
	}
}

func TestFinishDistinguishesVanishedFromPending(t *testing.T) {
	m, _ := newTestManager(t)
	ok, err := m.CompleteTask("missing", nil)
	if ok || err != nil {
		t.Fatalf("vanished task = %v, %v; want false, nil", ok, err)
	}
	id := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s"))
	ok, err = m.FailTask(id, "boom")
	if ok || !errors.Is(err, ErrNotProcessing) {
		t.Fatalf("pending task = %v, %v; want false, ErrNotProcessing", ok, err)
	}
}

func TestLifecycleIsMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	id := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s"))
	seen := []store.Status{}
	record := func() {
		task, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		seen = append(seen, task.Status)
	}
	record()
	if _, err := m.ClaimTask("w", id); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	record()
	if _, err := m.FailTask(id, "bad input"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}
	record()
	if _, err := m.ClaimTask("w2", id); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("claim of failed task err = %v", err)
	}
	record()
	want := []store.Status{store.StatusPending, store.StatusProcessing, store.StatusFailed, store.StatusFailed}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("status sequence = %v, want %v", seen, want)
		}
	}
}

func TestClaimDropsStalePendingCopy(t *testing.T) {
	m, _ := newTestManager(t)
	id := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s"))
	task, err := m.ClaimTask("w", id)
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	// Simulate a crash between writing processing and removing pending.
	task.Status = store.StatusPending
	task.ClaimedBy = ""
	task.ClaimedAt = nil
	if err := store.WriteJSONAtomic(m.layout.TaskPath(store.StatusPending, id), task); err != nil {
		t.Fatalf("write stale pending: %v", err)
	}
	pending, _ := m.ListPending("")
	if len(pending) != 0 {
		t.Fatalf("stale pending copy should not be listed")
	}
	if _, err := m.ClaimTask("w2", id); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("claim of stale copy err = %v, want ErrNotClaimable", err)
	}
	if store.Exists(m.layout.TaskPath(store.StatusPending, id)) {
		t.Fatalf("stale pending copy should be removed")
	}
}

func TestListSkipsCorruptTaskFiles(t *testing.T) {
	m, _ := newTestManager(t)
	good := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s"))
	if err := store.WriteJSONAtomic(m.layout.TaskPath(store.StatusPending, "corrupt"), map[string]any{"taskId": "corrupt"}); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	pending, err := m.ListPending("")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != good {
		t.Fatalf("pending = %+v, want only %s", pending, good)
	}
}

func TestListEventsSince(t *testing.T) {
	m, clock := newTestManager(t)
	mustCreate(t, m, store.AgentAnalyzer, signalPayload("early"))
	clock.Advance(time.Hour)
	cutoff := clock.Now()
	if err := m.EmitEvent(store.EventAgentReady, "w1", nil); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	if err := m.EmitEvent(store.EventAgentIdle, "w1", map[string]string{"agentType": "analyzer"}); err != nil {
		t.Fatalf("EmitEvent: %v", err)
	}
	events, err := m.ListEvents(cutoff)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Type != store.EventAgentReady || events[1].Type != store.EventAgentIdle {
		t.Fatalf("events out of order: %s, %s", events[0].Type, events[1].Type)
	}
	if !events[0].Timestamp.Before(events[1].Timestamp) {
		t.Fatalf("timestamps not strictly increasing")
	}
}

func TestCountsTalliesPerAgent(t *testing.T) {
	m, _ := newTestManager(t)
	a1 := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s1"))
	a2 := mustCreate(t, m, store.AgentAnalyzer, signalPayload("s2"))
	mustCreate(t, m, store.AgentAnalyzer, signalPayload("s3"))
	if _, err := m.ClaimTask("w1", a1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.ClaimTask("w1", a2); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := m.FailTask(a2, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	counts, err := m.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	got := counts[store.AgentAnalyzer]
	want := AgentCounts{Pending: 1, Processing: 1, Failed: 1}
	if got != want {
		t.Fatalf("counts = %+v, want %+v", got, want)
	}
}
