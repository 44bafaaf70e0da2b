// Package artifact renders published artifacts as Markdown documents with a
// YAML metadata block, and parses them back.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// Metadata describes where a published document came from.
type Metadata struct {
	ArtifactID string
	Key        string
	Title      string
	Theme      string
	SignalID   string
	EntryIDs   []string
	ApprovedAt time.Time
	Notes      map[string]string
}

// ParseFrontMatter extracts the metadata block and body from a document that starts
// with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope foundryEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Metadata{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, bytes.TrimPrefix(parts[1], []byte("\n")), nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.ArtifactID == "" {
		return nil, fmt.Errorf("artifact: metadata missing artifact id")
	}
	envelope := foundryEnvelope{}
	envelope.fromMetadata(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type foundryEnvelope struct {
	Foundry foundryMetadata `yaml:"foundry"`
}

type foundryMetadata struct {
	Artifact string            `yaml:"artifact"`
	Key      string            `yaml:"key"`
	Title    string            `yaml:"title,omitempty"`
	Theme    string            `yaml:"theme,omitempty"`
	Signal   string            `yaml:"signal,omitempty"`
	Entries  []string          `yaml:"entries,omitempty"`
	Approved string            `yaml:"approved"`
	Notes    map[string]string `yaml:"notes,omitempty"`
}

func (e foundryEnvelope) toMetadata() (Metadata, error) {
	if e.Foundry.Artifact == "" || e.Foundry.Key == "" {
		return Metadata{}, ErrMalformedFrontMatter
	}
	approved, err := parseTime(e.Foundry.Approved)
	if err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse approved timestamp: %w", err)
	}
	return Metadata{
		ArtifactID: e.Foundry.Artifact,
		Key:        e.Foundry.Key,
		Title:      e.Foundry.Title,
		Theme:      e.Foundry.Theme,
		SignalID:   e.Foundry.Signal,
		EntryIDs:   append([]string{}, e.Foundry.Entries...),
		ApprovedAt: approved,
		Notes:      cloneNotes(e.Foundry.Notes),
	}, nil
}

func (e *foundryEnvelope) fromMetadata(meta Metadata) {
	e.Foundry.Artifact = meta.ArtifactID
	e.Foundry.Key = meta.Key
	e.Foundry.Title = meta.Title
	e.Foundry.Theme = meta.Theme
	e.Foundry.Signal = meta.SignalID
	e.Foundry.Entries = append([]string{}, meta.EntryIDs...)
	e.Foundry.Approved = meta.ApprovedAt.UTC().Format(timeLayout)
	e.Foundry.Notes = cloneNotes(meta.Notes)
}

func cloneNotes(notes map[string]string) map[string]string {
	if len(notes) == 0 {
		return nil
	}
	cloned := make(map[string]string, len(notes))
	for k, v := range notes {
		cloned[k] = v
	}
	return cloned
}

const timeLayout = time.RFC3339

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("artifact: empty approved timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
