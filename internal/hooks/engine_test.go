package hooks

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func mustLoad(t *testing.T, body string) *Engine {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("hook subprocesses require a POSIX shell")
	}
	path := writeHooksYAML(t, t.TempDir(), body)
	e, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return e
}

func TestRunPreToolUseAllowsOnZeroExit(t *testing.T) {
	e := mustLoad(t, `
hooks:
  PreToolUse:
    - match: ".*"
      command: "echo fine"
`)
	r, err := e.RunPreToolUse(context.Background(), HookContext{Tool: "bash"})
	if err != nil {
		t.Fatalf("RunPreToolUse() error = %v", err)
	}
	if !r.Allowed {
		t.Fatalf("expected allowed, got %+v", r)
	}
	if r.Message != "fine" {
		t.Fatalf("Message = %q, want %q", r.Message, "fine")
	}
}

func TestRunPreToolUseBlocksOnExitCodeTwo(t *testing.T) {
	e := mustLoad(t, `
hooks:
  PreToolUse:
    - match: ".*"
      command: "echo nope 1>&2; exit 2"
`)
	r, err := e.RunPreToolUse(context.Background(), HookContext{Tool: "bash"})
	if err != nil {
		t.Fatalf("RunPreToolUse() error = %v", err)
	}
	if r.Allowed {
		t.Fatal("expected blocked")
	}
	if r.Message != "nope" {
		t.Fatalf("Message = %q, want %q", r.Message, "nope")
	}
}

func TestRunPreToolUseStopsAtFirstBlocker(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran-second")
	e := mustLoad(t, `
hooks:
  PreToolUse:
    - match: ".*"
      command: "exit 2"
    - match: ".*"
      command: "touch `+marker+`"
`)
	r, err := e.RunPreToolUse(context.Background(), HookContext{Tool: "bash"})
	if err != nil {
		t.Fatalf("RunPreToolUse() error = %v", err)
	}
	if r.Allowed {
		t.Fatal("expected blocked on first hook")
	}
	if _, err := os.Stat(marker); err == nil {
		t.Fatal("second hook ran after first blocked")
	}
}

func TestRunPreToolUseAllowedWithWarningOnOtherExitCode(t *testing.T) {
	e := mustLoad(t, `
hooks:
  PreToolUse:
    - match: ".*"
      command: "exit 7"
`)
	r, err := e.RunPreToolUse(context.Background(), HookContext{Tool: "bash"})
	if err != nil {
		t.Fatalf("RunPreToolUse() error = %v", err)
	}
	if !r.Allowed {
		t.Fatal("expected allowed-with-warning for a non-2 nonzero exit")
	}
}

func TestRunPreToolUseOnlyRunsMatchingHooks(t *testing.T) {
	e := mustLoad(t, `
hooks:
  PreToolUse:
    - match: "^write_file$"
      command: "exit 2"
`)
	r, err := e.RunPreToolUse(context.Background(), HookContext{Tool: "bash"})
	if err != nil {
		t.Fatalf("RunPreToolUse() error = %v", err)
	}
	if !r.Allowed {
		t.Fatal("non-matching tool should not trigger a blocking hook")
	}
}

func TestRunHookTimesOutAndKillsProcessGroup(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook subprocesses require a POSIX shell")
	}
	def := HookDefinition{Match: ".*", Command: "sleep 5", TimeoutMs: 50}
	start := time.Now()
	r := runHook(context.Background(), def, HookContext{Tool: "bash"})
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("runHook took %s, want well under the 5s sleep", elapsed)
	}
	if !r.Allowed {
		t.Fatal("a timeout should be allowed-with-warning, not a block")
	}
}

func TestRunHookReceivesContextOnStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook subprocesses require a POSIX shell")
	}
	def := HookDefinition{Match: ".*", Command: "cat", TimeoutMs: 2000}
	r := runHook(context.Background(), def, HookContext{Tool: "read_file", Agent: "main"})
	if !r.Allowed {
		t.Fatalf("expected allowed, got %+v", r)
	}
	if r.Message == "" {
		t.Fatal("expected cat to echo the JSON context back as the message")
	}
}

func TestRunPostToolUseDoesNotBlock(t *testing.T) {
	e := mustLoad(t, `
hooks:
  PostToolUse:
    - match: ".*"
      command: "exit 2"
`)
	e.RunPostToolUse(context.Background(), HookContext{Tool: "bash"})
}

func TestRunPermissionRequestDoesNotBlock(t *testing.T) {
	e := mustLoad(t, `
hooks:
  PermissionRequest:
    - match: ".*"
      command: "exit 2"
`)
	e.RunPermissionRequest(context.Background(), HookContext{Tool: "bash"})
}

func TestExitCodeClassification(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("hook subprocesses require a POSIX shell")
	}
	tests := []struct {
		name    string
		command string
		allowed bool
	}{
		{"success", "exit 0", true},
		{"blocked", "exit 2", false},
		{"warning-one", "exit 1", true},
		{"warning-high", "exit 127", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := runHook(context.Background(), HookDefinition{Match: ".*", Command: tt.command, TimeoutMs: 2000}, HookContext{Tool: "bash"})
			if r.Allowed != tt.allowed {
				t.Fatalf("command %q: Allowed = %v, want %v", tt.command, r.Allowed, tt.allowed)
			}
		})
	}
}
