package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/climateandtech/carbonara-sub000/internal/system"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "carbonara.config.json"), system.Discard())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	s := newStore(t)
	if o := s.Get("semgrep"); !o.IsZero() {
		t.Fatalf("expected zero override, got %+v", o)
	}
	all, err := s.All()
	if err != nil || len(all) != 0 {
		t.Fatalf("All = %v, %v", all, err)
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := newStore(t)
	if err := s.MarkInstalled("v"); err != nil {
		t.Fatalf("MarkInstalled: %v", err)
	}
	if o := s.Get("v"); !o.MarkedInstalled || o.DetectionFailed {
		t.Fatalf("after mark: %+v", o)
	}

	if err := s.FlagDetectionFailed("v", "command not found: v"); err != nil {
		t.Fatalf("FlagDetectionFailed: %v", err)
	}
	o := s.Get("v")
	if !o.MarkedInstalled || !o.DetectionFailed {
		t.Fatalf("flag should keep the mark and set the failure: %+v", o)
	}
	if o.LastError == nil || o.LastError.Message != "command not found: v" {
		t.Fatalf("last error = %+v", o.LastError)
	}
	if !o.LastError.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("timestamp = %v", o.LastError.Timestamp)
	}

	if err := s.ClearError("v"); err != nil {
		t.Fatalf("ClearError: %v", err)
	}
	if o := s.Get("v"); o.DetectionFailed || o.LastError != nil || !o.MarkedInstalled {
		t.Fatalf("after clear: %+v", o)
	}

	if err := s.Reset("v"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	ids, _ := s.IDs()
	if len(ids) != 0 {
		t.Fatalf("reset should drop the entry, got %v", ids)
	}
}

func TestStore_MarkInstalledClearsFailure(t *testing.T) {
	s := newStore(t)
	_ = s.FlagDetectionFailed("u", "gone")
	_ = s.MarkInstalled("u")
	if o := s.Get("u"); o.DetectionFailed || o.LastError != nil {
		t.Fatalf("mark should clear failure: %+v", o)
	}
}

func TestStore_CustomCommand(t *testing.T) {
	s := newStore(t)
	_ = s.FlagDetectionFailed("x", "boom")
	if err := s.SetCustomCommand("x", "  docker run x  "); err != nil {
		t.Fatal(err)
	}
	o := s.Get("x")
	if o.CustomExecutionCommand != "docker run x" || o.DetectionFailed {
		t.Fatalf("custom command: %+v", o)
	}
	_ = s.SetCustomCommand("x", "")
	if o := s.Get("x"); o.CustomExecutionCommand != "" {
		t.Fatalf("empty command should clear: %+v", o)
	}
}

func TestStore_PreservesOtherKeys(t *testing.T) {
	s := newStore(t)
	seed := `{"name": "my-project", "projectId": 7, "database": {"path": ".carbonara/db.json"}}`
	if err := os.WriteFile(s.Path(), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordError("lighthouse", "exit 1"); err != nil {
		t.Fatalf("RecordError: %v", err)
	}
	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("written file is not JSON: %v", err)
	}
	if doc["name"] != "my-project" || doc["projectId"] != float64(7) {
		t.Fatalf("other keys lost: %s", b)
	}
	if _, ok := doc["database"].(map[string]any); !ok {
		t.Fatalf("nested key lost: %s", b)
	}
	tools, _ := doc["tools"].(map[string]any)
	if _, ok := tools["lighthouse"]; !ok {
		t.Fatalf("tools entry missing: %s", b)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	s := newStore(t)
	if err := os.WriteFile(s.Path(), []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if o := s.Get("any"); !o.IsZero() {
		t.Fatalf("corrupt file should degrade to no override: %+v", o)
	}
	if err := s.MarkInstalled("any"); err == nil || !strings.Contains(err.Error(), "parsing") {
		t.Fatalf("writes must not clobber an unparseable file, got %v", err)
	}
	b, _ := os.ReadFile(s.Path())
	if string(b) != "{oops" {
		t.Fatalf("file was modified: %q", b)
	}
}

func TestStore_EmptyID(t *testing.T) {
	s := newStore(t)
	if err := s.MarkInstalled(" "); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
