package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/servernode/internal/backup"
	"github.com/smazurov/servernode/internal/worker"
)

func TestWorkerCmdServesOneJob(t *testing.T) {
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "server.cfg"), []byte("hostname alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest := filepath.Join(t.TempDir(), "out.zip")

	job, _ := json.Marshal(worker.Job{Kind: backup.KindCreate, SourcePath: source, DestinationPath: dest})

	cmd := CreateWorkerCmd()
	var stdout bytes.Buffer
	cmd.SetIn(bytes.NewReader(job))
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("worker command failed: %v", err)
	}

	var result worker.Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		t.Fatalf("stdout is not one JSON result: %q", stdout.String())
	}
	if !result.Success || result.Size == 0 {
		t.Errorf("result = %+v", result)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("archive missing: %v", err)
	}
}

func TestInstallCmdRelaysToolOutput(t *testing.T) {
	dataDir := t.TempDir()
	toolDir := filepath.Join(dataDir, "steamcmd")
	if err := os.MkdirAll(toolDir, 0o755); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/sh\necho \"Update state (0x61) downloading\"\necho \"Success! App '740' fully installed.\"\n"
	if err := os.WriteFile(filepath.Join(toolDir, "steamcmd.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	target := filepath.Join(t.TempDir(), "cs")
	cmd := CreateInstallCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--data-dir", dataDir, "--no-cache", "740", target})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("install command failed: %v", err)
	}

	out := stdout.String()
	for _, want := range []string{"downloading", "fully installed", "from tool"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("target not created: %v", err)
	}
}

func TestBackupCmdLocalRoundTrip(t *testing.T) {
	dataDir := t.TempDir()
	serverDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(serverDir, "server.cfg"), []byte("hostname alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	serversFile := filepath.Join(t.TempDir(), "servers.toml")
	config := "[servers.alpha]\napp_id = \"740\"\npath = \"" + serverDir + "\"\nexecutable = \"srcds_run\"\n"
	if err := os.WriteFile(serversFile, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) string {
		t.Helper()
		cmd := CreateBackupCmd()
		var stdout bytes.Buffer
		cmd.SetOut(&stdout)
		cmd.SetArgs(append([]string{"--data-dir", dataDir, "--servers", serversFile, "--local"}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("backup %v failed: %v", args, err)
		}
		return stdout.String()
	}

	out := run("create", "alpha")
	if !strings.HasPrefix(out, "Created backup_") {
		t.Fatalf("create output = %q", out)
	}
	filename := strings.Fields(out)[1]

	if list := run("list", "alpha"); !strings.Contains(list, filename) {
		t.Errorf("list output missing %s:\n%s", filename, list)
	}

	if err := os.WriteFile(filepath.Join(serverDir, "server.cfg"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("restore", "alpha", filename)
	if data, _ := os.ReadFile(filepath.Join(serverDir, "server.cfg")); string(data) != "hostname alpha" {
		t.Errorf("restored server.cfg = %q", data)
	}

	run("delete", "alpha", filename)
	if list := run("list", "alpha"); strings.Contains(list, filename) {
		t.Errorf("archive still listed after delete:\n%s", list)
	}
}
