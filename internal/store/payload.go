package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the stage-specific input of a task. Each concrete payload is bound
// to exactly one TaskType so a task can never carry another stage's input.
type Payload interface {
	TaskType() TaskType
}

// Signal is one raw piece of incoming content.
type Signal struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	Title      string    `json:"title,omitempty"`
	Body       string    `json:"body,omitempty"`
	URL        string    `json:"url,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Brief is the subject a production chain works on: either a single analyzed
// signal (direct mode) or a ripe theme cluster (corpus mode).
type Brief struct {
	// Key identifies the chain for retry accounting and publishing.
	Key            string   `json:"key"`
	SignalID       string   `json:"signalId,omitempty"`
	Theme          string   `json:"theme,omitempty"`
	EntryIDs       []string `json:"entryIds,omitempty"`
	Summary        string   `json:"summary"`
	Insights       []string `json:"insights,omitempty"`
	RelevanceScore float64  `json:"relevanceScore"`
}

// Attempt tracks quality-gate and review retries along a chain.
type Attempt struct {
	RetryCount int      `json:"retryCount"`
	Feedback   []string `json:"feedback,omitempty"`
}

// AnalyzePayload asks an analyzer to extract themes and insights from a signal.
type AnalyzePayload struct {
	Signal Signal `json:"signal"`
}

func (AnalyzePayload) TaskType() TaskType { return TaskAnalyzeSignal }

// VisualizePayload asks a visualizer to design the artifact's visual.
type VisualizePayload struct {
	Brief Brief `json:"brief"`
	Attempt
}

func (VisualizePayload) TaskType() TaskType { return TaskDesignVisual }

// WritePayload asks a writer to draft the artifact text.
type WritePayload struct {
	Brief  Brief           `json:"brief"`
	Visual json.RawMessage `json:"visual,omitempty"`
	Attempt
}

func (WritePayload) TaskType() TaskType { return TaskWriteArtifact }

// ReviewPayload asks a reviewer to approve or reject a finished draft.
type ReviewPayload struct {
	Brief  Brief           `json:"brief"`
	Visual json.RawMessage `json:"visual,omitempty"`
	Draft  json.RawMessage `json:"draft"`
	Attempt
}

func (ReviewPayload) TaskType() TaskType { return TaskReviewArtifact }

// DecodePayload decodes raw into the payload type bound to tt.
func DecodePayload(tt TaskType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("payload is empty")
	}
	var (
		p   Payload
		err error
	)
	switch tt {
	case TaskAnalyzeSignal:
		var v AnalyzePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TaskDesignVisual:
		var v VisualizePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TaskWriteArtifact:
		var v WritePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TaskReviewArtifact:
		var v ReviewPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown task type %q", tt)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", tt, err)
	}
	return p, nil
}

// BriefOf returns the brief carried by production payloads.
func BriefOf(p Payload) (Brief, bool) {
	switch v := p.(type) {
	case VisualizePayload:
		return v.Brief, true
	case WritePayload:
		return v.Brief, true
	case ReviewPayload:
		return v.Brief, true
	default:
		return Brief{}, false
	}
}
