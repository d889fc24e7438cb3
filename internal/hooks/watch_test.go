package hooks

import (
	"os"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeHooksYAML(t, dir, `
hooks:
  PreToolUse:
    - match: "bash"
      command: "true"
`)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if len(w.Engine().matching(EventPreToolUse, "bash")) != 1 {
		t.Fatal("expected initial engine to have the configured hook")
	}

	if err := os.WriteFile(path, []byte(`
hooks:
  PreToolUse:
    - match: "bash"
      command: "true"
    - match: "curl"
      command: "true"
`), 0o600); err != nil {
		t.Fatalf("rewrite hooks.yaml: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.Engine().matching(EventPreToolUse, "curl")) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher did not pick up the rewritten hooks file in time")
}

func TestWatcher_KeepsPreviousEngineOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := writeHooksYAML(t, dir, `
hooks:
  PreToolUse:
    - match: "bash"
      command: "true"
`)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("not: [valid"), 0o600); err != nil {
		t.Fatalf("rewrite hooks.yaml: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if len(w.Engine().matching(EventPreToolUse, "bash")) != 1 {
		t.Fatal("expected previous engine to stay active after a malformed reload")
	}
}
