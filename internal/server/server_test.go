package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/climateandtech/carbonara-sub000/internal/engine"
	"github.com/climateandtech/carbonara-sub000/internal/install"
	"github.com/climateandtech/carbonara-sub000/internal/prereq"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/state"
	"github.com/climateandtech/carbonara-sub000/internal/system"
	tu "github.com/climateandtech/carbonara-sub000/internal/testutil"
	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

const manifest = `{"tools": [
  {"id": "bar", "installation": {"type": "npm", "package": "bar-cli", "global": true},
   "detection": {"commands": ["bar --version"]}},
  {"id": "manual", "installation": {"type": "binary", "instructions": "download it"},
   "detection": {"commands": ["manual --version"]}}
]}`

func newTestServer(t *testing.T) (http.Handler, *tu.FakeRunner) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.json")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	log := system.Discard()
	f := tu.NewFakeRunner()
	store := state.New(filepath.Join(dir, "carbonara.config.json"), log)
	eng, err := engine.New(engine.Options{
		Loader:        &registry.Loader{EnvPath: path, Logger: log},
		Detector:      tools.NewDetector(f, dir, time.Second, log),
		Prerequisites: prereq.New(f, dir, time.Second, time.Minute, log),
		Store:         store,
		Installer:     install.New(f, store, dir, time.Minute, log),
		Logger:        log,
	})
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{Engine: eng, Logger: log}
	return s.Handler(), f
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	h, _ := newTestServer(t)
	if w := do(t, h, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "ok") {
		t.Fatalf("health = %d %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodGet, "/api/version", ""); w.Code != http.StatusOK {
		t.Fatalf("version = %d", w.Code)
	}
}

func TestServer_ListRefreshesOnFirstCall(t *testing.T) {
	h, f := newTestServer(t)
	f.OK("bar --version", "bar 2.1.0")
	w := do(t, h, http.MethodGet, "/api/tools", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	var got toolList
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Tools) != 2 || got.Tools[0].ToolID != "bar" || !got.Tools[0].Usable || got.Tools[0].Live.Version != "2.1.0" {
		t.Fatalf("tools = %+v", got.Tools)
	}
	if got.RefreshedAt == "" {
		t.Fatalf("missing refresh time")
	}
}

func TestServer_UnknownTool(t *testing.T) {
	h, _ := newTestServer(t)
	if w := do(t, h, http.MethodGet, "/api/tools/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestServer_ResultWithdrawsTrust(t *testing.T) {
	h, _ := newTestServer(t)
	w := do(t, h, http.MethodPut, "/api/tools/bar/override", `{"markInstalled": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("override = %d %s", w.Code, w.Body)
	}
	var st engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.ToolID != "bar" || !st.Usable || !st.Override.MarkedInstalled {
		t.Fatalf("override before any refresh should answer the evaluated status: %s", w.Body)
	}
	w = do(t, h, http.MethodGet, "/api/tools/bar", "")
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if !st.Usable {
		t.Fatalf("marked tool should be usable: %s", w.Body)
	}

	w = do(t, h, http.MethodPost, "/api/tools/bar/result", `{"success": false, "exitCode": 127, "error": "bar: command not found"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("result = %d %s", w.Code, w.Body)
	}
	_ = json.Unmarshal(w.Body.Bytes(), &st)
	if st.Usable || !st.Override.DetectionFailed {
		t.Fatalf("status = %+v", st)
	}
	if w := do(t, h, http.MethodPost, "/api/tools/bar/result", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body = %d", w.Code)
	}
}

func TestServer_InstallUnsupported(t *testing.T) {
	h, _ := newTestServer(t)
	w := do(t, h, http.MethodPost, "/api/tools/manual/install", "")
	if w.Code != http.StatusNotImplemented || !strings.Contains(w.Body.String(), "download it") {
		t.Fatalf("install = %d %s", w.Code, w.Body)
	}
}

func TestServer_InstallSuccess(t *testing.T) {
	h, f := newTestServer(t)
	f.OK("npm install -g --no-fund --no-audit bar-cli", "added 3 packages in 2s")
	w := do(t, h, http.MethodPost, "/api/tools/bar/install", "")
	if w.Code != http.StatusOK {
		t.Fatalf("install = %d %s", w.Code, w.Body)
	}
	var out engine.InstallOutcome
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Result.Success || !out.Status.Usable {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestServer_UnknownPrerequisite(t *testing.T) {
	h, _ := newTestServer(t)
	if w := do(t, h, http.MethodPost, "/api/tools/bar/prerequisites/docker/install?clearCache=true", ""); w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	h, _ := newTestServer(t)
	do(t, h, http.MethodPost, "/api/refresh", "")
	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "carbonara_detections_total") {
		t.Fatalf("metrics = %d %s", w.Code, w.Body)
	}
}
