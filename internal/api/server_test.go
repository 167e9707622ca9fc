package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/servernode/internal/backup"
	"github.com/smazurov/servernode/internal/cache"
	"github.com/smazurov/servernode/internal/events"
	"github.com/smazurov/servernode/internal/install"
	"github.com/smazurov/servernode/internal/metrics"
	"github.com/smazurov/servernode/internal/process"
	"github.com/smazurov/servernode/internal/servers"
	"github.com/smazurov/servernode/internal/steamcmd"
	"github.com/smazurov/servernode/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTool writes one file into the install dir, or fails with exit code 8.
type fakeTool struct {
	fail bool
}

func (f *fakeTool) AppUpdate(_ context.Context, appID, installDir string, onLine steamcmd.LineHandler) (steamcmd.Result, error) {
	if f.fail {
		onLine("ERROR! Failed to install app '" + appID + "'")
		return steamcmd.Result{}, &steamcmd.ExitError{Code: 8}
	}
	onLine("Success! App '" + appID + "' fully installed.")
	if err := os.WriteFile(filepath.Join(installDir, "app-"+appID), []byte("bin"), 0o644); err != nil {
		return steamcmd.Result{}, err
	}
	return steamcmd.Result{Completed: true}, nil
}

type testEnv struct {
	ts         *httptest.Server
	bus        *events.Bus
	supervisor *process.Supervisor
	store      *servers.Store
	serverDir  string
	dataDir    string
}

func newTestEnv(t *testing.T, tool *fakeTool) *testEnv {
	t.Helper()
	dataDir := t.TempDir()
	bus := events.New()

	serverDir := filepath.Join(t.TempDir(), "alpha")
	if err := os.MkdirAll(serverDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\necho \"console ready\"\nexec sleep 30\n"
	if err := os.WriteFile(filepath.Join(serverDir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(serverDir, "server.cfg"), []byte("hostname alpha"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := servers.NewStore(filepath.Join(dataDir, "servers.toml"), discardLogger())
	if _, err := store.Put(servers.Spec{ID: "alpha", AppID: "740", Path: serverDir, Executable: "run.sh"}); err != nil {
		t.Fatal(err)
	}

	supervisor := process.NewSupervisor(&process.SupervisorOptions{Bus: bus, Logger: discardLogger()})
	t.Cleanup(func() {
		supervisor.StopAll()
		supervisor.Wait()
	})

	cacheStore := cache.NewStore(dataDir, tool, bus, discardLogger())
	pipeline := install.NewPipeline(install.Options{
		Tool:         tool,
		Cache:        cacheStore,
		Supervisor:   supervisor,
		Bus:          bus,
		ReleaseDelay: -1,
		Logger:       discardLogger(),
	})
	backups := backup.NewEngine(dataDir, &worker.LocalRunner{Handlers: backup.WorkerHandlers()}, bus, discardLogger())

	server := NewServer(&Options{
		Supervisor:     supervisor,
		Servers:        store,
		Installer:      pipeline,
		Cache:          cacheStore,
		Backups:        backups,
		EventBus:       bus,
		MetricsHandler: metrics.Handler(),
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, bus: bus, supervisor: supervisor, store: store, serverDir: serverDir, dataDir: dataDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	var health struct{ Status string }
	if code := env.do(t, http.MethodGet, "/api/health", nil, &health); code != http.StatusOK || health.Status != "ok" {
		t.Errorf("health = %d %+v", code, health)
	}

	var info struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	}
	if code := env.do(t, http.MethodGet, "/api/version", nil, &info); code != http.StatusOK || info.GoVersion == "" {
		t.Errorf("version = %d %+v", code, info)
	}
}

func TestServerLifecycle(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	var status struct {
		Status string `json:"status"`
		PID    int    `json:"pid"`
	}
	if code := env.do(t, http.MethodGet, "/api/servers/alpha/status", nil, &status); code != http.StatusOK || status.Status != "stopped" {
		t.Fatalf("initial status = %d %+v", code, status)
	}

	if code := env.do(t, http.MethodPost, "/api/servers/alpha/start", nil, nil); code != http.StatusAccepted {
		t.Fatalf("start = %d, want 202", code)
	}
	if code := env.do(t, http.MethodPost, "/api/servers/alpha/start", nil, nil); code != http.StatusConflict {
		t.Errorf("second start = %d, want 409", code)
	}
	if code := env.do(t, http.MethodPost, "/api/servers/ghost/start", nil, nil); code != http.StatusNotFound {
		t.Errorf("start unknown = %d, want 404", code)
	}

	env.do(t, http.MethodGet, "/api/servers/alpha/status", nil, &status)
	if status.Status != "running" || status.PID == 0 {
		t.Errorf("running status = %+v", status)
	}

	var list struct {
		Servers []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"servers"`
	}
	env.do(t, http.MethodGet, "/api/servers", nil, &list)
	if len(list.Servers) != 1 || list.Servers[0].Status != "running" {
		t.Errorf("list = %+v", list)
	}

	deadline := time.Now().Add(3 * time.Second)
	var logs struct{ Lines []string }
	for time.Now().Before(deadline) {
		env.do(t, http.MethodGet, "/api/servers/alpha/logs", nil, &logs)
		if len(logs.Lines) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(logs.Lines) != 1 || logs.Lines[0] != "console ready" {
		t.Errorf("logs = %v", logs.Lines)
	}

	var stop struct{ Stopped bool }
	env.do(t, http.MethodPost, "/api/servers/alpha/stop", nil, &stop)
	if !stop.Stopped {
		t.Error("stop should report true for a running server")
	}
	env.do(t, http.MethodPost, "/api/servers/alpha/stop", nil, &stop)
	if stop.Stopped {
		t.Error("second stop should report false")
	}
}

func TestInstallAndUpdate(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})
	target := filepath.Join(t.TempDir(), "fresh")

	var job struct {
		Source    string `json:"source"`
		Completed bool   `json:"completed"`
	}
	body := map[string]string{"app_id": "740", "target_path": target}
	if code := env.do(t, http.MethodPost, "/api/install", body, &job); code != http.StatusOK {
		t.Fatalf("install = %d", code)
	}
	if job.Source != "tool" || !job.Completed {
		t.Errorf("job = %+v", job)
	}
	if _, err := os.Stat(filepath.Join(target, "app-740")); err != nil {
		t.Errorf("installed file missing: %v", err)
	}

	if code := env.do(t, http.MethodPost, "/api/servers/alpha/update", nil, &job); code != http.StatusOK {
		t.Fatalf("update = %d", code)
	}
	if code := env.do(t, http.MethodPost, "/api/servers/ghost/update", nil, nil); code != http.StatusNotFound {
		t.Errorf("update unknown = %d, want 404", code)
	}
}

func TestInstallFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, &fakeTool{fail: true})
	body := map[string]string{"app_id": "740", "target_path": t.TempDir()}
	if code := env.do(t, http.MethodPost, "/api/install", body, nil); code != http.StatusBadGateway {
		t.Errorf("failed install = %d, want 502", code)
	}
}

func TestCacheRoutes(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	var entry struct {
		AppID     string `json:"app_id"`
		Status    string `json:"status"`
		DiskSize  int64  `json:"disk_size"`
		HumanSize string `json:"human_size"`
	}
	env.do(t, http.MethodGet, "/api/cache/740", nil, &entry)
	if entry.Status != "not_cached" {
		t.Errorf("unknown entry = %+v", entry)
	}

	target := t.TempDir()
	copyBody := map[string]string{"target_path": target}
	if code := env.do(t, http.MethodPost, "/api/cache/740/copy", copyBody, nil); code != http.StatusNotFound {
		t.Errorf("copy of uncached app = %d, want 404", code)
	}

	if code := env.do(t, http.MethodPost, "/api/cache/740/download", map[string]string{"name": "CS"}, &entry); code != http.StatusOK {
		t.Fatalf("download = %d", code)
	}
	if entry.Status != "ready" || entry.DiskSize != 3 || entry.HumanSize != "3 B" {
		t.Errorf("downloaded entry = %+v", entry)
	}

	if code := env.do(t, http.MethodPost, "/api/cache/740/copy", copyBody, nil); code != http.StatusNoContent {
		t.Errorf("copy = %d, want 204", code)
	}
	if _, err := os.Stat(filepath.Join(target, "app-740")); err != nil {
		t.Errorf("copied file missing: %v", err)
	}

	var list struct{ Count int }
	env.do(t, http.MethodGet, "/api/cache", nil, &list)
	if list.Count != 1 {
		t.Errorf("cache count = %d, want 1", list.Count)
	}

	if code := env.do(t, http.MethodDelete, "/api/cache/740", nil, nil); code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", code)
	}
}

func TestBackupRoutes(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	var archive struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	}
	if code := env.do(t, http.MethodPost, "/api/servers/alpha/backups", nil, &archive); code != http.StatusCreated {
		t.Fatalf("create backup = %d", code)
	}
	if archive.Filename == "" || archive.Size == 0 {
		t.Fatalf("archive = %+v", archive)
	}

	var list struct{ Count int }
	env.do(t, http.MethodGet, "/api/servers/alpha/backups", nil, &list)
	if list.Count != 1 {
		t.Errorf("backup count = %d, want 1", list.Count)
	}

	cfg := filepath.Join(env.serverDir, "server.cfg")
	if err := os.WriteFile(cfg, []byte("broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	restore := map[string]string{"filename": archive.Filename}
	if code := env.do(t, http.MethodPost, "/api/servers/alpha/backups/restore", restore, nil); code != http.StatusNoContent {
		t.Fatalf("restore = %d, want 204", code)
	}
	if data, _ := os.ReadFile(cfg); string(data) != "hostname alpha" {
		t.Errorf("restored server.cfg = %q", data)
	}

	missing := map[string]string{"filename": "backup_missing.zip"}
	if code := env.do(t, http.MethodPost, "/api/servers/alpha/backups/restore", missing, nil); code != http.StatusNotFound {
		t.Errorf("restore missing = %d, want 404", code)
	}

	if code := env.do(t, http.MethodDelete, "/api/servers/alpha/backups/"+archive.Filename, nil, nil); code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", code)
	}
	if code := env.do(t, http.MethodDelete, "/api/servers/alpha/backups/"+archive.Filename, nil, nil); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
}

func TestRestoreRefusedWhileRunning(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	var archive struct{ Filename string }
	env.do(t, http.MethodPost, "/api/servers/alpha/backups", nil, &archive)
	env.do(t, http.MethodPost, "/api/servers/alpha/start", nil, nil)

	restore := map[string]string{"filename": archive.Filename}
	if code := env.do(t, http.MethodPost, "/api/servers/alpha/backups/restore", restore, nil); code != http.StatusConflict {
		t.Errorf("restore while running = %d, want 409", code)
	}
}

func TestServerEventsStream(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/api/servers/alpha/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("content type = %s", resp.Header.Get("Content-Type"))
	}

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				lines <- line
			}
		}
	}()

	next := func() string {
		select {
		case line := <-lines:
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for SSE line")
			return ""
		}
	}

	if got := next(); got != "event: status" {
		t.Fatalf("first event = %q", got)
	}
	if got := next(); !strings.Contains(got, `"status":"stopped"`) {
		t.Errorf("initial status data = %q", got)
	}

	env.bus.Publish(events.LogEvent{ServerID: "bravo", Line: "not mine", Timestamp: events.Now()})
	env.bus.Publish(events.LogEvent{ServerID: "alpha", Line: "changelevel de_dust2", Timestamp: events.Now()})

	if got := next(); got != "event: log" {
		t.Fatalf("event = %q, want log", got)
	}
	if got := next(); !strings.Contains(got, "changelevel de_dust2") {
		t.Errorf("log data = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "servernode_servers_running") {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestLandingPage(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	resp, err := http.Get(env.ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "/docs") {
		t.Errorf("landing = %d", resp.StatusCode)
	}

	if code := env.do(t, http.MethodGet, "/api/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("unknown api path = %d, want 404", code)
	}
}

// openEvents connects to an SSE endpoint and returns a reader of non-empty lines.
func openEvents(t *testing.T, env *testEnv, path string) func() string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	lines := make(chan string, 32)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				lines <- line
			}
		}
	}()

	return func() string {
		t.Helper()
		select {
		case line := <-lines:
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for SSE line")
			return ""
		}
	}
}

func TestAppEventsStream(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})
	next := openEvents(t, env, "/api/apps/740/events")

	if got := next(); got != "event: cache-status" {
		t.Fatalf("first event = %q", got)
	}
	if got := next(); !strings.Contains(got, `"status":"not_cached"`) {
		t.Errorf("initial cache status = %q", got)
	}

	if code := env.do(t, http.MethodPost, "/api/cache/740/download", map[string]string{"name": "CS"}, nil); code != http.StatusOK {
		t.Fatalf("download = %d", code)
	}

	// Status and log events travel on separate subscriptions, so only the
	// order within each kind is fixed.
	var statuses []string
	sawLog := false
	for i := 0; i < 3; i++ {
		event, data := next(), next()
		switch event {
		case "event: cache-status":
			statuses = append(statuses, data)
		case "event: cache-log":
			sawLog = strings.Contains(data, "fully installed")
		default:
			t.Fatalf("unexpected event %q", event)
		}
	}
	if !sawLog {
		t.Error("download output was not streamed")
	}
	if len(statuses) != 2 || !strings.Contains(statuses[0], `"status":"downloading"`) || !strings.Contains(statuses[1], `"status":"ready"`) {
		t.Errorf("statuses = %v", statuses)
	}

	env.bus.Publish(events.InstallLogEvent{ID: "90", Line: "not mine", Timestamp: events.Now()})
	env.bus.Publish(events.InstallLogEvent{ID: "740", Line: "Update state downloading", Timestamp: events.Now()})
	if got := next(); got != "event: install-log" {
		t.Fatalf("event = %q, want install-log", got)
	}
	if got := next(); !strings.Contains(got, "Update state downloading") {
		t.Errorf("install log data = %q", got)
	}
}

func TestCacheRoutesRejectTraversal(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	sentinel := filepath.Join(env.dataDir, "backups", "alpha", "keep.zip")
	if err := os.MkdirAll(filepath.Dir(sentinel), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(sentinel, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	requests := []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodDelete, "/api/cache/%2E%2E", nil},
		{http.MethodPost, "/api/cache/%2E%2E/download", map[string]string{"name": "x"}},
		{http.MethodGet, "/api/cache/%2E%2E", nil},
	}
	for _, r := range requests {
		if code := env.do(t, r.method, r.path, r.body, nil); code < 400 || code >= 500 {
			t.Errorf("%s %s = %d, want a client error", r.method, r.path, code)
		}
	}

	if _, err := os.Stat(sentinel); err != nil {
		t.Fatalf("data directory was modified: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.dataDir, "app-..")); !os.IsNotExist(err) {
		t.Errorf("nothing may be installed into the data directory, stat err = %v", err)
	}
}

func TestServerDefinitionRoutes(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	create := map[string]any{
		"id":         "bravo",
		"app_id":     "740",
		"path":       env.serverDir,
		"executable": "run.sh",
		"args":       []string{"-port", "27016"},
	}
	var created struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		Args   []string `json:"args"`
		Status string   `json:"status"`
	}
	if code := env.do(t, http.MethodPost, "/api/servers", create, &created); code != http.StatusCreated {
		t.Fatalf("create = %d, want 201", code)
	}
	if created.ID != "bravo" || created.Name != "bravo" || created.Status != "stopped" || len(created.Args) != 2 {
		t.Errorf("created = %+v", created)
	}
	if code := env.do(t, http.MethodPost, "/api/servers", create, nil); code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", code)
	}

	invalid := map[string]any{"id": "..", "app_id": "740", "path": env.serverDir, "executable": "run.sh"}
	if code := env.do(t, http.MethodPost, "/api/servers", invalid, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("invalid id = %d, want 422", code)
	}

	update := map[string]any{"name": "Bravo CS", "app_id": "740", "path": env.serverDir, "executable": "run.sh"}
	var updated struct {
		Name string   `json:"name"`
		Args []string `json:"args"`
	}
	if code := env.do(t, http.MethodPut, "/api/servers/bravo", update, &updated); code != http.StatusOK {
		t.Fatalf("update = %d", code)
	}
	if updated.Name != "Bravo CS" || len(updated.Args) != 0 {
		t.Errorf("updated = %+v", updated)
	}
	if code := env.do(t, http.MethodPut, "/api/servers/ghost", update, nil); code != http.StatusNotFound {
		t.Errorf("update unknown = %d, want 404", code)
	}

	if spec, err := env.store.Get("bravo"); err != nil || spec.Name != "Bravo CS" {
		t.Errorf("stored spec = %+v, %v", spec, err)
	}

	if code := env.do(t, http.MethodPost, "/api/servers/bravo/start", nil, nil); code != http.StatusAccepted {
		t.Fatalf("start = %d", code)
	}
	if code := env.do(t, http.MethodDelete, "/api/servers/bravo", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204", code)
	}
	if env.supervisor.IsRunning("bravo") {
		t.Error("delete should stop the running server")
	}
	if _, err := env.store.Get("bravo"); err == nil {
		t.Error("definition should be removed")
	}
	if code := env.do(t, http.MethodDelete, "/api/servers/bravo", nil, nil); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
}

func TestCacheEntrySchema(t *testing.T) {
	env := newTestEnv(t, &fakeTool{})

	resp, err := http.Get(env.ts.URL + "/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var doc struct {
		Components struct {
			Schemas map[string]struct {
				Properties map[string]any `json:"properties"`
			} `json:"schemas"`
		} `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatal(err)
	}
	schema, ok := doc.Components.Schemas["CacheEntryData"]
	if !ok {
		t.Fatal("CacheEntryData schema missing")
	}
	for _, field := range []string{"app_id", "status", "disk_size", "human_size", "downloaded_date"} {
		if _, ok := schema.Properties[field]; !ok {
			t.Errorf("CacheEntryData lacks %s", field)
		}
	}
}
