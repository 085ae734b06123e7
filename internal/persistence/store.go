package persistence

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/logging"
)

const autonomyDirName = ".eaos/autonomy"

// Store is the durable read/write layer under <root>/.eaos/autonomy/
// (spec.md §6.1). Its zero value is not usable; construct with New.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger logging.Logger
}

// Option customizes a Store at construction.
type Option func(*Store)

// WithLogger injects the logging collaborator.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(logger) }
}

// New constructs a Store rooted at <root>/.eaos/autonomy. root is
// resolved the way a shell would expand it (leading "~", $VAR/${VAR}
// references) before being joined, so operator-supplied paths like
// "~/.eaos-alt" behave as expected regardless of how they reach this
// constructor (flag, env var, config file).
func New(root string, opts ...Option) *Store {
	s := &Store{
		dir:    filepath.Join(resolveRoot(root), autonomyDirName),
		logger: logging.OrNop(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, "state.json")
}

func (s *Store) lastReportPath() string {
	return filepath.Join(s.dir, "last_cycle_report.json")
}

func (s *Store) reportPath(report cycle.Report) string {
	return filepath.Join(s.dir, "logs", fmt.Sprintf("cycle_%s_%s.json", report.Kind, report.ID))
}

// EnsureDirs creates the autonomy directory and its logs subdirectory.
func (s *Store) EnsureDirs() error {
	if err := ensureDir(s.dir); err != nil {
		return fmt.Errorf("persistence: ensure %s: %w", s.dir, err)
	}
	if err := ensureDir(filepath.Join(s.dir, "logs")); err != nil {
		return fmt.Errorf("persistence: ensure logs dir: %w", err)
	}
	return nil
}

// LoadState reads state.json. A missing file or malformed JSON yields a
// fresh zero-value EngineState and a logged warning rather than an
// error, so engine initialization is never blocked by a corrupt or
// absent snapshot (spec.md §4.2).
func (s *Store) LoadState() EngineState {
	data, err := readFileOrEmpty(s.statePath())
	if err != nil {
		s.logger.Warn("persistence: read state file: %v", err)
		return EngineState{}
	}
	if len(data) == 0 {
		return EngineState{}
	}
	state, err := decodeState(data)
	if err != nil {
		s.logger.Warn("persistence: state file is malformed, starting fresh: %v", err)
		return EngineState{}
	}
	return state
}

// SaveState writes the full snapshot atomically. Concurrent callers are
// serialized by s.mu so writes never interleave; a failure is returned
// to the caller, who per spec.md §7 is expected to log it and continue
// rather than abort.
func (s *Store) SaveState(state EngineState) error {
	data, err := marshalIndent(state)
	if err != nil {
		return fmt.Errorf("persistence: encode state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWrite(s.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("persistence: write state file: %w", err)
	}
	return nil
}

// WriteCycleReport writes report to logs/cycle_<kind>_<id>.json and
// overwrites last_cycle_report.json with the same content, returning the
// path of the per-cycle file.
func (s *Store) WriteCycleReport(report cycle.Report) (string, error) {
	data, err := marshalIndent(report)
	if err != nil {
		return "", fmt.Errorf("persistence: encode cycle report: %w", err)
	}
	path := s.reportPath(report)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWrite(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persistence: write cycle report: %w", err)
	}
	if err := atomicWrite(s.lastReportPath(), data, 0o644); err != nil {
		return path, fmt.Errorf("persistence: write last_cycle_report.json: %w", err)
	}
	return path, nil
}
