// Package state persists per-project tool overrides in the "tools" key of
// carbonara.config.json. Other keys in that file are left untouched.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
)

const toolsKey = "tools"

// LastError is the most recent failure recorded for a tool.
type LastError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Override is the persisted trust state for one tool.
type Override struct {
	MarkedInstalled        bool       `json:"markedInstalled,omitempty"`
	DetectionFailed        bool       `json:"detectionFailed,omitempty"`
	LastError              *LastError `json:"lastError,omitempty"`
	CustomExecutionCommand string     `json:"customExecutionCommand,omitempty"`
}

// IsZero reports whether the override carries no information.
func (o Override) IsZero() bool {
	return !o.MarkedInstalled && !o.DetectionFailed && o.LastError == nil && o.CustomExecutionCommand == ""
}

// Store reads and writes overrides. Writes are last-write-wins across
// processes; within a process they are serialized.
type Store struct {
	path   string
	logger *clog.Logger
	mu     sync.Mutex

	now func() time.Time
}

// New returns a store backed by path.
func New(path string, logger *clog.Logger) *Store {
	if logger == nil {
		logger = clog.Default()
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Get returns the override for id. A missing or unreadable file yields the
// zero override; read problems are logged.
func (s *Store) Get(id string) Override {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, tools, err := s.read()
	if err != nil {
		s.logger.Warn("override state unreadable, ignoring", "path", s.path, "err", err)
		return Override{}
	}
	return tools[id]
}

// All returns every stored override.
func (s *Store) All() (map[string]Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, tools, err := s.read()
	return tools, err
}

// IDs returns the ids with a stored override, sorted.
func (s *Store) IDs() ([]string, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MarkInstalled trusts the tool as installed and forgets earlier failures.
func (s *Store) MarkInstalled(id string) error {
	return s.update(id, func(o *Override) {
		o.MarkedInstalled = true
		o.DetectionFailed = false
		o.LastError = nil
	})
}

// FlagDetectionFailed withdraws trust after a run proved the tool missing.
func (s *Store) FlagDetectionFailed(id, cause string) error {
	return s.update(id, func(o *Override) {
		o.DetectionFailed = true
		o.LastError = &LastError{Message: cause, Timestamp: s.now().UTC()}
	})
}

// RecordError stores msg as the tool's last error.
func (s *Store) RecordError(id, msg string) error {
	return s.update(id, func(o *Override) {
		o.LastError = &LastError{Message: msg, Timestamp: s.now().UTC()}
	})
}

// ClearError drops the last error and the detection-failed flag.
func (s *Store) ClearError(id string) error {
	return s.update(id, func(o *Override) {
		o.LastError = nil
		o.DetectionFailed = false
	})
}

// SetCustomCommand sets how the tool is run. An empty command clears it.
func (s *Store) SetCustomCommand(id, command string) error {
	command = strings.TrimSpace(command)
	return s.update(id, func(o *Override) {
		o.CustomExecutionCommand = command
		if command != "" {
			o.DetectionFailed = false
		}
	})
}

// Reset removes the override for id.
func (s *Store) Reset(id string) error {
	return s.update(id, func(o *Override) { *o = Override{} })
}

func (s *Store) update(id string, fn func(*Override)) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("state: empty tool id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, tools, err := s.read()
	if err != nil {
		return err
	}
	o := tools[id]
	fn(&o)
	if o.IsZero() {
		delete(tools, id)
	} else {
		tools[id] = o
	}
	return s.write(doc, tools)
}

// read returns the whole document and its decoded tools map.
func (s *Store) read() (map[string]json.RawMessage, map[string]Override, error) {
	doc := map[string]json.RawMessage{}
	tools := map[string]Override{}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, tools, nil
		}
		return nil, nil, fmt.Errorf("state: reading %s: %w", s.path, err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return doc, tools, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, nil, fmt.Errorf("state: parsing %s: %w", s.path, err)
	}
	if raw, ok := doc[toolsKey]; ok && len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &tools); err != nil {
			return nil, nil, fmt.Errorf("state: parsing %s %q: %w", s.path, toolsKey, err)
		}
	}
	return doc, tools, nil
}

func (s *Store) write(doc map[string]json.RawMessage, tools map[string]Override) error {
	raw, err := json.Marshal(tools)
	if err != nil {
		return err
	}
	doc[toolsKey] = raw
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("state: writing %s: %w", s.path, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("state: writing %s: %w", s.path, err)
	}
	return nil
}
