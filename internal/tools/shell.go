// Shell execution tool. Commands run under `sh -c` with a denied-pattern
// and allow-prefix policy; the process is killed when the call's context
// expires, so a timed-out command leaves no orphan behind.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/kestrelhq/kestrel/internal/llm"
)

// ShellConfig configures the run_shell_command tool.
type ShellConfig struct {
	WorkingDir      string
	DeniedPatterns  []string
	AllowedPrefixes []string // empty = allow all (subject to denied patterns)
}

// DefaultDeniedPatterns blocks obviously destructive commands even
// when no policy is configured.
func DefaultDeniedPatterns() []string {
	return []string{
		"rm -rf /",
		"rm -rf /*",
		"mkfs",
		"dd if=",
		"> /dev/sd",
		"chmod -R 777 /",
		":(){ :|:& };:", // fork bomb
	}
}

// RegisterShell adds the run_shell_command tool to the registry.
func RegisterShell(r *Registry, cfg ShellConfig) error {
	if len(cfg.DeniedPatterns) == 0 {
		cfg.DeniedPatterns = DefaultDeniedPatterns()
	}

	spec := llm.ToolSpec{
		Name:        "run_shell_command",
		Description: "Execute a shell command and return its output. Output is truncated if large; long-running commands are killed at the timeout.",
		Parameters: []llm.ToolParam{
			{Name: "command", Type: "string", Required: true, Description: "The shell command to execute"},
		},
	}

	return r.Register(spec, func(ctx context.Context, args map[string]any) (string, error) {
		command, _ := args["command"].(string)
		return runShell(ctx, cfg, command)
	})
}

func runShell(ctx context.Context, cfg ShellConfig, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("empty command")
	}

	cmdLower := strings.ToLower(command)
	for _, denied := range cfg.DeniedPatterns {
		if strings.Contains(cmdLower, strings.ToLower(denied)) {
			return "", fmt.Errorf("command blocked by security policy: matches denied pattern %q", denied)
		}
	}

	if len(cfg.AllowedPrefixes) > 0 {
		allowed := false
		for _, prefix := range cfg.AllowedPrefixes {
			if strings.HasPrefix(command, prefix) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("command not in allowlist")
		}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if cfg.WorkingDir != "" {
		cmd.Dir = cfg.WorkingDir
	}
	// Give the process a moment to die after the kill signal so Wait
	// can't hang on lingering pipe readers.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return formatShellOutput(stdout.String(), stderr.String(), -1),
			fmt.Errorf("command killed: %w", context.DeadlineExceeded)
	}

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return "", fmt.Errorf("command failed to start: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	out := formatShellOutput(stdout.String(), stderr.String(), exitCode)
	if exitCode != 0 {
		return out, fmt.Errorf("command exited with code %d", exitCode)
	}
	return out, nil
}

// formatShellOutput renders the command outcome for the model. Plain
// stdout when the command was clean, labeled sections otherwise.
func formatShellOutput(stdout, stderr string, exitCode int) string {
	if exitCode == 0 && stderr == "" {
		if stdout == "" {
			return "(no output)"
		}
		return stdout
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", exitCode)
	if stdout != "" {
		b.WriteString("stdout:\n")
		b.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			b.WriteString("\n")
		}
	}
	if stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(stderr)
	}
	return strings.TrimRight(b.String(), "\n")
}
