package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpctlConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opctl.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  model: gemini-2.0-pro\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	reloaded := make(chan *OpctlConfig, 1)
	w := NewOpctlConfigWatcher(path, 10*time.Millisecond, nil, func(cfg *OpctlConfig) {
		reloaded <- cfg
	})
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("llm:\n  model: gemini-2.0-flash\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.LLM.Model != "gemini-2.0-flash" {
			t.Fatalf("expected reloaded model, got %q", cfg.LLM.Model)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestOpctlConfigWatcherNoopOnEmptyPath(t *testing.T) {
	w := NewOpctlConfigWatcher("", 0, nil, func(*OpctlConfig) {})
	if err := w.Start(); err != nil {
		t.Fatalf("expected no error for empty path, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("expected no error closing unstarted watcher, got %v", err)
	}
}
