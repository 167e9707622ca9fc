package steamcmd

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFakeTool installs a shell script as the launcher so no download happens.
func newFakeTool(t *testing.T, script string, opts Options) *Tool {
	t.Helper()
	dir := t.TempDir()
	body := "#!/bin/sh\n" + script + "\n"
	if err := os.WriteFile(filepath.Join(dir, ExecutableName), []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	opts.Dir = dir
	opts.Logger = testLogger()
	opts.BootstrapURL = "http://127.0.0.1:1/unused"
	return New(opts)
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) handle(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestDefaultCompletionDetector(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Success! App '740' fully installed.", true},
		{"Success! App '740' already up to date.", true},
		{"Update state (0x61) downloading, progress: 45.10", false},
		{"Error! App '740' state is 0x602 after update job.", false},
		{"fully installed", false},
	}
	for _, tt := range tests {
		if got := DefaultCompletionDetector(tt.line); got != tt.want {
			t.Errorf("DefaultCompletionDetector(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestAppUpdateArgs(t *testing.T) {
	tool := newFakeTool(t, `echo "$@"`, Options{})
	rec := &lineRecorder{}

	if _, err := tool.AppUpdate(context.Background(), "740", "/srv/cs", rec.handle); err != nil {
		t.Fatalf("AppUpdate failed: %v", err)
	}

	want := "+force_install_dir /srv/cs +login anonymous +app_update 740 +quit"
	if got := rec.all(); len(got) != 1 || got[0] != want {
		t.Errorf("args = %v, want [%s]", got, want)
	}
}

func TestCompletionStopsRelayAndKillsHungTool(t *testing.T) {
	script := `echo "Update state (0x61) downloading"
echo "Success! App '740' fully installed."
echo "Unloading Steam API...OK"
sleep 30`
	tool := newFakeTool(t, script, Options{Grace: 100 * time.Millisecond})
	rec := &lineRecorder{}

	start := time.Now()
	result, err := tool.AppUpdate(context.Background(), "740", t.TempDir(), rec.handle)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("AppUpdate failed: %v", err)
	}
	if !result.Completed || !result.Killed {
		t.Errorf("result = %+v, want Completed and Killed", result)
	}
	if elapsed > 3*time.Second {
		t.Errorf("AppUpdate took %v, want well under the hang duration", elapsed)
	}

	lines := rec.all()
	if len(lines) != 2 {
		t.Fatalf("relayed %d lines (%v), want 2", len(lines), lines)
	}
	if !strings.HasPrefix(lines[1], "Success! App") {
		t.Errorf("last relayed line = %q, want success line", lines[1])
	}
}

func TestCompletionWithPromptExit(t *testing.T) {
	script := `echo "Success! App '740' already up to date."; exit 0`
	tool := newFakeTool(t, script, Options{Grace: 5 * time.Second})

	start := time.Now()
	result, err := tool.AppUpdate(context.Background(), "740", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("AppUpdate failed: %v", err)
	}
	if result.Killed {
		t.Error("tool exited on its own, should not be marked killed")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("prompt exit should not wait for the grace period")
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantCode int
		wantErr  bool
	}{
		{"success", "exit 0", 0, false},
		{"reboot required", "exit 7", 7, false},
		{"failure", "echo 'ERROR! Failed to install app'; exit 8", 8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := newFakeTool(t, tt.script, Options{})
			result, err := tool.AppUpdate(context.Background(), "740", t.TempDir(), nil)

			if result.ExitCode == nil || *result.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %v, want %d", result.ExitCode, tt.wantCode)
			}
			if !tt.wantErr {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			var exitErr *ExitError
			if !errors.As(err, &exitErr) || exitErr.Code != tt.wantCode {
				t.Errorf("error = %v, want *ExitError{%d}", err, tt.wantCode)
			}
		})
	}
}

func TestKilledBySignalIsSuccess(t *testing.T) {
	tool := newFakeTool(t, "kill -9 $$", Options{})
	result, err := tool.AppUpdate(context.Background(), "740", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("signal termination should be success, got %v", err)
	}
	if result.ExitCode != nil {
		t.Errorf("ExitCode = %d, want nil", *result.ExitCode)
	}
}

func TestContextCancel(t *testing.T) {
	tool := newFakeTool(t, "sleep 30", Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := tool.AppUpdate(ctx, "740", t.TempDir(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("cancel did not stop the tool promptly")
	}
}

func TestCustomDetector(t *testing.T) {
	script := `echo "custom done"; sleep 30`
	tool := newFakeTool(t, script, Options{
		Grace:    50 * time.Millisecond,
		Detector: func(line string) bool { return line == "custom done" },
	})

	result, err := tool.AppUpdate(context.Background(), "740", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("AppUpdate failed: %v", err)
	}
	if !result.Completed {
		t.Error("custom detector should mark completion")
	}
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	if err := tw.WriteHeader(&tar.Header{Name: "linux32/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		hdr := &tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestBootstrapOnFirstUse(t *testing.T) {
	archive := buildTarGz(t, map[string]string{
		ExecutableName:      "#!/bin/sh\necho bootstrapped\n",
		"linux32/steamcmd": "binary",
	})

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Write(archive)
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "steamcmd")
	tool := New(Options{Dir: dir, BootstrapURL: srv.URL, Logger: testLogger()})

	for i := 0; i < 2; i++ {
		rec := &lineRecorder{}
		if _, err := tool.Run(context.Background(), nil, rec.handle); err != nil {
			t.Fatalf("Run #%d failed: %v", i, err)
		}
		if got := rec.all(); len(got) != 1 || got[0] != "bootstrapped" {
			t.Errorf("Run #%d output = %v", i, got)
		}
	}

	if got := requests.Load(); got != 1 {
		t.Errorf("download requests = %d, want 1", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "linux32", "steamcmd")); err != nil {
		t.Errorf("bundled file missing: %v", err)
	}
}

func TestBootstrapFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, _ *http.Request) {
			http.NotFound(w, nil)
		}},
		{"not gzip", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte("plain text"))
		}},
		{"missing launcher", func(w http.ResponseWriter, _ *http.Request) {
			w.Write(buildTarGz(t, map[string]string{"readme.txt": "hi"}))
		}},
		{"path traversal", func(w http.ResponseWriter, _ *http.Request) {
			w.Write(buildTarGz(t, map[string]string{"../evil.sh": "x"}))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			dir := filepath.Join(t.TempDir(), "steamcmd")
			tool := New(Options{Dir: dir, BootstrapURL: srv.URL, Logger: testLogger()})

			if err := tool.EnsureInstalled(context.Background()); err == nil {
				t.Fatal("expected bootstrap error")
			}
			if _, err := os.Stat(tool.Executable()); !os.IsNotExist(err) {
				t.Errorf("launcher should not exist after failed bootstrap, stat err = %v", err)
			}
		})
	}
}
