package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"listenmode/internal/config"
	"listenmode/internal/coordinator"
	"listenmode/internal/decision"
	"listenmode/internal/settings"
)

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "settings.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "settings:\n  store_path: " + store + "\nrecorder:\n  enable: true\n  trace_dir: " + filepath.Join(dir, "traces") + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, store
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-workspace", "--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestChannelCommands(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := run(t, cfgPath, "channels", "add", "enable", "Lofi", "Girl")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, `added "Lofi Girl"`) {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = run(t, cfgPath, "channels", "add", "enable", "lofi girl")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.Contains(out, "already in the enable list") {
		t.Errorf("expected duplicate notice, got %q", out)
	}

	if _, err := run(t, cfgPath, "channels", "add", "disable", "Loud Channel"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	out, err = run(t, cfgPath, "channels", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := "global: off\nalways enable:\n  Lofi Girl\nalways disable:\n  Loud Channel\n"
	if out != want {
		t.Errorf("expected %q, got %q", want, out)
	}

	out, err = run(t, cfgPath, "decide", "LOFI", "GIRL")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if strings.TrimSpace(out) != "enable (enable_list)" {
		t.Errorf("unexpected decision: %q", out)
	}

	out, err = run(t, cfgPath, "channels", "remove", "disable", "loud channel")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if !strings.Contains(out, "removed") {
		t.Errorf("unexpected output: %q", out)
	}

	if _, err := run(t, cfgPath, "channels", "add", "sometimes", "x"); err == nil {
		t.Error("expected error for unknown list")
	}
}

func TestGlobalCommand(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	if _, err := run(t, cfgPath, "global", "maybe"); err == nil {
		t.Error("expected error for bad switch value")
	}
	out, err := run(t, cfgPath, "global", "on")
	if err != nil {
		t.Fatalf("global failed: %v", err)
	}
	if !strings.Contains(out, "global listen mode on") {
		t.Errorf("unexpected output: %q", out)
	}

	out, err = run(t, cfgPath, "decide")
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if strings.TrimSpace(out) != "enable (global)" {
		t.Errorf("unexpected decision: %q", out)
	}
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", dir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.WorkspaceDirName, config.WorkspaceConfigFile)); err != nil {
		t.Errorf("expected workspace config: %v", err)
	}
}

func TestAppWiresObservers(t *testing.T) {
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Settings.StorePath = filepath.Join(dir, "settings.db")
	cfg.Recorder.Enable = true
	cfg.Recorder.TraceDir = filepath.Join(dir, "traces")

	a, err := newApp(cfg)
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close(context.Background())

	if _, err := settings.AddChannel(context.Background(), a.store, settings.EnableList, "Lofi Girl"); err != nil {
		t.Fatalf("AddChannel failed: %v", err)
	}
	snap, err := settings.Source{Store: a.store}.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if d := decision.Decide(snap, decision.Known("lofi girl")); d.Reason != decision.ReasonEnableList {
		t.Errorf("expected enable_list, got %v", d)
	}

	// Outcomes fan out to the journal, recent list and trace.
	coord := a.newCoordinator("sess-1", nil)
	defer coord.Close()
	out := coordinator.Outcome{SessionID: "sess-1", Channel: "Lofi Girl", Action: "enable", Reason: "enable_list", Resolution: "resolved", Attempts: 1}
	for _, o := range []coordinator.Observer{a.metrics, a.recent, a.recorder} {
		o.Observe(context.Background(), out)
	}
	if a.recent.Len() != 1 {
		t.Errorf("expected 1 recent channel, got %d", a.recent.Len())
	}
	if a.recorder.Path() == "" {
		t.Error("expected an open trace file")
	}
}
