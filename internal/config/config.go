// internal/config/config.go
//
// This package handles configuration and the .foundry directory structure.
// Every project that runs foundry workers gets a .foundry/ folder in its root;
// all processes of the pipeline coordinate through that tree.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".foundry"

	ModeCorpus = "corpus"
	ModeDirect = "direct"

	PublisherOutbox = "outbox"
	PublisherExec   = "exec"
)

const defaultProjectConfigYAML = `# foundry project configuration
version: 1

queue:
  # How often an idle worker looks for pending tasks.
  poll_interval: 10s
  # Claims expire unless the worker heartbeats; 0 disables reclamation.
  lease_duration: 30m
  max_claim_attempts: 3

corpus:
  min_entries: 3
  min_age: 72h
  max_themes: 2

pipeline:
  # corpus: analyses accumulate and ripe clusters are produced.
  # direct: every analysis above min_relevance is produced on its own.
  mode: corpus
  sweep_interval: 30s
  min_relevance: 0.6
  pass_score: 50
  max_retries: 2
  # Optional Go script defining Score(taskType string, result map[string]any) (int, []string).
  # scorer_script: scorers/score.go

publisher:
  kind: outbox
  markdown: true
  # kind: exec
  # command: ["./scripts/publish.sh"]

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765

logging:
  level: info
`

// QueueConfig tunes claiming and lease reclamation.
type QueueConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	LeaseDuration    time.Duration `yaml:"lease_duration"`
	MaxClaimAttempts int           `yaml:"max_claim_attempts"`
}

// CorpusConfig tunes cluster ripeness.
type CorpusConfig struct {
	MinEntries int           `yaml:"min_entries"`
	MinAge     time.Duration `yaml:"min_age"`
	MaxThemes  int           `yaml:"max_themes"`
}

// PipelineConfig tunes the orchestrator sweep and quality gate.
type PipelineConfig struct {
	Mode          string        `yaml:"mode"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MinRelevance  float64       `yaml:"min_relevance"`
	PassScore     int           `yaml:"pass_score"`
	MaxRetries    *int          `yaml:"max_retries,omitempty"`
	ScorerScript  string        `yaml:"scorer_script,omitempty"`
}

// PublisherConfig selects the terminal publisher.
type PublisherConfig struct {
	Kind    string   `yaml:"kind"`
	Command []string `yaml:"command,omitempty"`
	// Markdown makes the outbox publisher write a .md beside each .json.
	Markdown bool `yaml:"markdown,omitempty"`
}

// BridgeConfig captures the HTTP ingest server settings.
type BridgeConfig struct {
	Enabled      *bool         `yaml:"enabled,omitempty"`
	Host         string        `yaml:"host,omitempty"`
	Port         int           `yaml:"port,omitempty"`
	MaxBodyBytes int64         `yaml:"max_body_bytes,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
	IdleTimeout  time.Duration `yaml:"idle_timeout,omitempty"`
	// DedupeWindow is how many recent signal ids the bridge remembers.
	DedupeWindow int `yaml:"dedupe_window,omitempty"`
}

// DefaultBridge returns the bridge section used when none is configured.
func DefaultBridge() BridgeConfig {
	var b BridgeConfig
	b.applyDefaults()
	return b
}

// Address returns the TCP bind address in host:port form.
func (b BridgeConfig) Address() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

func (b *BridgeConfig) applyDefaults() {
	b.Host = strings.TrimSpace(b.Host)
	if b.Host == "" {
		b.Host = defaultBridgeHost
	}
	if b.Port == 0 {
		b.Port = defaultBridgePort
	}
	if b.MaxBodyBytes <= 0 {
		b.MaxBodyBytes = defaultMaxBodyBytes
	}
	if b.ReadTimeout <= 0 {
		b.ReadTimeout = defaultBridgeReadTimeout
	}
	if b.WriteTimeout <= 0 {
		b.WriteTimeout = defaultBridgeWriteTimeout
	}
	if b.IdleTimeout <= 0 {
		b.IdleTimeout = defaultBridgeIdleTimeout
	}
	if b.DedupeWindow <= 0 {
		b.DedupeWindow = defaultDedupeWindow
	}
}

func (b BridgeConfig) validate() error {
	if b.Port < 1 || b.Port > 65535 {
		return fmt.Errorf("bridge.port must be within 1..65535, got %d", b.Port)
	}
	if b.Host == "" {
		return fmt.Errorf("bridge.host is required")
	}
	if b.DedupeWindow > maxDedupeWindow {
		return fmt.Errorf("bridge.dedupe_window must be at most %d", maxDedupeWindow)
	}
	return nil
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ProjectConfig models .foundry/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Queue     QueueConfig     `yaml:"queue"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Publisher PublisherConfig `yaml:"publisher"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Config holds the runtime configuration for foundry.
type Config struct {
	// ProjectDir is the directory foundry was started from (or -project)
	ProjectDir string

	// FoundryDir is ProjectDir/.foundry
	FoundryDir string

	Project ProjectConfig
}

// InitDir creates the .foundry directory structure in the given project directory.
//
// Structure created:
// .foundry/
// ├── config.yaml
// ├── logs/           <- foundry.log and the orchestration journal
// ├── queue/
// │   ├── tasks/{pending,processing,completed}/
// │   ├── events/
// │   └── locks/
// ├── orchestration/  <- ledger.json
// ├── corpus/         <- entries/ and index.json
// └── outbox/         <- artifacts written by the outbox publisher
func InitDir(projectDir string) error {
	root := filepath.Join(projectDir, Dir)
	dirs := []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "queue", "tasks", "pending"),
		filepath.Join(root, "queue", "tasks", "processing"),
		filepath.Join(root, "queue", "tasks", "completed"),
		filepath.Join(root, "queue", "events"),
		filepath.Join(root, "queue", "locks"),
		filepath.Join(root, "orchestration"),
		filepath.Join(root, "corpus", "entries"),
		filepath.Join(root, "outbox"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// Load builds a Config for projectDir: defaults, then config.yaml if
// present, then environment overrides.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		FoundryDir: filepath.Join(projectDir, Dir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.FoundryDir, "config.yaml")
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.FoundryDir, "logs")
}

// JournalPath returns the orchestration journal file.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// ScorerScriptPath returns the absolute scorer script path, or "" if unset.
func (c *Config) ScorerScriptPath() string {
	return c.Project.Pipeline.ScorerScript
}

// MaxRetries returns the configured retry bound.
func (c *Config) MaxRetries() int {
	if c.Project.Pipeline.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.Project.Pipeline.MaxRetries
}

// BridgeEnabled reports whether the HTTP bridge should run.
func (c *Config) BridgeEnabled() bool {
	if c.Project.Bridge.Enabled == nil {
		return true
	}
	return *c.Project.Bridge.Enabled
}

// SetPipelineMode switches between corpus and direct mode and persists the
// choice back to .foundry/config.yaml.
func (c *Config) SetPipelineMode(mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode != ModeCorpus && mode != ModeDirect {
		return fmt.Errorf("config: pipeline mode must be %q or %q", ModeCorpus, ModeDirect)
	}
	c.Project.Pipeline.Mode = mode
	return c.saveProjectConfig()
}

const (
	defaultPollInterval     = 10 * time.Second
	defaultLease            = 30 * time.Minute
	defaultMaxClaimAttempts = 3
	defaultMinEntries       = 3
	defaultMinAge           = 72 * time.Hour
	defaultMaxThemes        = 2
	defaultSweepInterval    = 30 * time.Second
	defaultMinRelevance     = 0.6
	defaultPassScore        = 50
	defaultMaxRetries       = 2
	defaultBridgeHost       = "127.0.0.1"
	defaultBridgePort       = 8765
	defaultMaxBodyBytes     = 1 << 20

	defaultBridgeReadTimeout  = 15 * time.Second
	defaultBridgeWriteTimeout = 15 * time.Second
	defaultBridgeIdleTimeout  = 60 * time.Second
	defaultDedupeWindow       = 1024
	maxDedupeWindow           = 1 << 20
)

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	// Decode onto the defaults so omitted keys keep them and an explicit
	// lease_duration of 0 survives.
	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Version: 1}
	pc.Queue.LeaseDuration = defaultLease
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Queue.PollInterval <= 0 {
		pc.Queue.PollInterval = defaultPollInterval
	}
	if pc.Queue.LeaseDuration < 0 {
		pc.Queue.LeaseDuration = 0
	}
	if pc.Queue.MaxClaimAttempts <= 0 {
		pc.Queue.MaxClaimAttempts = defaultMaxClaimAttempts
	}
	if pc.Corpus.MinEntries <= 0 {
		pc.Corpus.MinEntries = defaultMinEntries
	}
	if pc.Corpus.MinAge <= 0 {
		pc.Corpus.MinAge = defaultMinAge
	}
	if pc.Corpus.MaxThemes <= 0 {
		pc.Corpus.MaxThemes = defaultMaxThemes
	}
	if pc.Pipeline.Mode == "" {
		pc.Pipeline.Mode = ModeCorpus
	}
	if pc.Pipeline.SweepInterval <= 0 {
		pc.Pipeline.SweepInterval = defaultSweepInterval
	}
	if pc.Pipeline.MinRelevance <= 0 {
		pc.Pipeline.MinRelevance = defaultMinRelevance
	}
	if pc.Pipeline.PassScore <= 0 {
		pc.Pipeline.PassScore = defaultPassScore
	}
	if pc.Publisher.Kind == "" {
		pc.Publisher.Kind = PublisherOutbox
	}
	pc.Bridge.applyDefaults()
	if pc.Logging.Level == "" {
		pc.Logging.Level = "info"
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Pipeline.Mode = strings.ToLower(strings.TrimSpace(pc.Pipeline.Mode))
	pc.Pipeline.ScorerScript = resolvePath(base, pc.Pipeline.ScorerScript)
	pc.Publisher.Kind = strings.ToLower(strings.TrimSpace(pc.Publisher.Kind))
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Pipeline.Mode {
	case ModeCorpus, ModeDirect:
	default:
		return fmt.Errorf("pipeline.mode must be %q or %q", ModeCorpus, ModeDirect)
	}
	if pc.Pipeline.PassScore > 100 {
		return fmt.Errorf("pipeline.pass_score must be within 0..100")
	}
	if pc.Pipeline.MaxRetries != nil && *pc.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	switch pc.Publisher.Kind {
	case PublisherOutbox:
	case PublisherExec:
		if len(pc.Publisher.Command) == 0 {
			return fmt.Errorf("publisher.command is required for exec publishers")
		}
	default:
		return fmt.Errorf("publisher.kind must be %q or %q", PublisherOutbox, PublisherExec)
	}
	return pc.Bridge.validate()
}

// applyEnvOverrides lets a single process deviate from the shared file.
func (pc *ProjectConfig) applyEnvOverrides() {
	if level := strings.TrimSpace(os.Getenv("FOUNDRY_LOG_LEVEL")); level != "" {
		pc.Logging.Level = strings.ToLower(level)
	}
	if mode := strings.TrimSpace(os.Getenv("FOUNDRY_PIPELINE_MODE")); mode != "" {
		pc.Pipeline.Mode = strings.ToLower(mode)
	}
	if value := strings.TrimSpace(os.Getenv("FOUNDRY_BRIDGE_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			pc.Bridge.Enabled = &enabled
		}
	}
	if host := strings.TrimSpace(os.Getenv("FOUNDRY_BRIDGE_HOST")); host != "" {
		pc.Bridge.Host = host
	}
	if port := strings.TrimSpace(os.Getenv("FOUNDRY_BRIDGE_PORT")); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil && parsed > 0 && parsed <= 65535 {
			pc.Bridge.Port = parsed
		}
	}
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize(c.ProjectDir)
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.FoundryDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure foundry dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
