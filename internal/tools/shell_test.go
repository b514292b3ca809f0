package tools

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kestrelhq/kestrel/internal/llm"
)

func shellExecutor(t *testing.T, cfg ShellConfig, execCfg ExecutorConfig) *Executor {
	t.Helper()
	r := NewRegistry()
	if err := RegisterShell(r, cfg); err != nil {
		t.Fatalf("RegisterShell error: %v", err)
	}
	return NewExecutor(r, nil, execCfg)
}

func TestShell_Echo(t *testing.T) {
	e := shellExecutor(t, ShellConfig{}, ExecutorConfig{})

	res := e.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "run_shell_command",
		Arguments: map[string]any{"command": "echo hello"},
	})

	if !res.Succeeded {
		t.Fatalf("echo failed: %s", res.ErrorDetail)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Errorf("Output = %q, want hello", res.Output)
	}
}

func TestShell_NonZeroExit(t *testing.T) {
	e := shellExecutor(t, ShellConfig{}, ExecutorConfig{})

	res := e.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "run_shell_command",
		Arguments: map[string]any{"command": "echo oops >&2; exit 3"},
	})

	if res.Succeeded {
		t.Error("non-zero exit reported success")
	}
	if res.ErrorKind != llm.ErrKindExecution {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, llm.ErrKindExecution)
	}
	if !strings.Contains(res.ErrorDetail, "exited with code 3") {
		t.Errorf("ErrorDetail = %q", res.ErrorDetail)
	}
	if !strings.Contains(res.Output, "oops") {
		t.Errorf("stderr missing from output: %q", res.Output)
	}
	if !strings.Contains(res.Output, "exit code: 3") {
		t.Errorf("exit code missing from output: %q", res.Output)
	}
}

func TestShell_DeniedPattern(t *testing.T) {
	e := shellExecutor(t, ShellConfig{DeniedPatterns: []string{"rm -rf"}}, ExecutorConfig{})

	res := e.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "run_shell_command",
		Arguments: map[string]any{"command": "sudo RM -RF /tmp/x"},
	})

	if res.Succeeded {
		t.Error("denied command executed")
	}
	if !strings.Contains(res.ErrorDetail, "security policy") {
		t.Errorf("ErrorDetail = %q", res.ErrorDetail)
	}
}

func TestShell_AllowedPrefixes(t *testing.T) {
	e := shellExecutor(t, ShellConfig{AllowedPrefixes: []string{"echo ", "ls"}}, ExecutorConfig{})

	res := e.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "run_shell_command",
		Arguments: map[string]any{"command": "cat /etc/passwd"},
	})
	if res.Succeeded {
		t.Error("command outside allowlist executed")
	}
	if !strings.Contains(res.ErrorDetail, "allowlist") {
		t.Errorf("ErrorDetail = %q", res.ErrorDetail)
	}

	res = e.Execute(context.Background(), llm.ToolCall{
		ID: "c2", Name: "run_shell_command",
		Arguments: map[string]any{"command": "echo fine"},
	})
	if !res.Succeeded {
		t.Errorf("allowlisted command failed: %s", res.ErrorDetail)
	}
}

func TestShell_EmptyCommand(t *testing.T) {
	e := shellExecutor(t, ShellConfig{}, ExecutorConfig{})

	res := e.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "run_shell_command",
		Arguments: map[string]any{"command": "   "},
	})
	if res.Succeeded {
		t.Error("blank command executed")
	}
}

func TestShell_Timeout(t *testing.T) {
	e := shellExecutor(t, ShellConfig{}, ExecutorConfig{Timeout: 100 * time.Millisecond})

	res := e.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "run_shell_command",
		Arguments: map[string]any{"command": "echo started; sleep 10"},
	})

	if res.Succeeded {
		t.Error("timed-out command reported success")
	}
	if res.ErrorKind != llm.ErrKindTimeout {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, llm.ErrKindTimeout)
	}
}

func TestShell_WorkingDir(t *testing.T) {
	dir := t.TempDir()
	e := shellExecutor(t, ShellConfig{WorkingDir: dir}, ExecutorConfig{})

	res := e.Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "run_shell_command",
		Arguments: map[string]any{"command": "pwd"},
	})

	if !res.Succeeded {
		t.Fatalf("pwd failed: %s", res.ErrorDetail)
	}
	// TempDir may be behind a symlink on some platforms.
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Output))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestFormatShellOutput(t *testing.T) {
	if got := formatShellOutput("", "", 0); got != "(no output)" {
		t.Errorf("empty clean output = %q", got)
	}
	if got := formatShellOutput("data\n", "", 0); got != "data\n" {
		t.Errorf("clean output = %q", got)
	}
	got := formatShellOutput("out", "err", 2)
	for _, want := range []string{"exit code: 2", "stdout:", "stderr:"} {
		if !strings.Contains(got, want) {
			t.Errorf("labeled output missing %q: %q", want, got)
		}
	}
}
