// Kestrel is a tool-augmented conversation agent for the command line.
//
// It drives a Think→Act loop against an OpenAI-compatible or Anthropic
// backend: the model requests tool calls (shell, workspace files,
// speech synthesis), Kestrel executes them, and the results feed back
// into the conversation until the model answers in plain text.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	kestrel chat                 Start an interactive session
//	kestrel chat <instruction>   Process one instruction and exit
//	kestrel usage [days]         Show token usage totals (default: 30 days)
//	kestrel ping                 Check provider connectivity
//	kestrel version              Print version information
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kestrelhq/kestrel/internal/agent"
	"github.com/kestrelhq/kestrel/internal/buildinfo"
	"github.com/kestrelhq/kestrel/internal/config"
	"github.com/kestrelhq/kestrel/internal/llm"
	"github.com/kestrelhq/kestrel/internal/tools"
	"github.com/kestrelhq/kestrel/internal/tts"
	"github.com/kestrelhq/kestrel/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the kestrel command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it stops the
//     loop and any in-flight provider call.
//   - stdin feeds the interactive REPL.
//   - stdout receives final answers and reports; structured logs go to
//     stderr so answers stay pipeable.
//   - args is os.Args[1:].
//
// Arguments are parsed by hand. The flag package relies on package-level
// globals (flag.CommandLine), which makes it impossible to call run()
// concurrently from tests, and the argument surface is small enough that
// manual parsing is clearer than bringing in a CLI framework.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath, cmdArgs)
	case "usage":
		return runUsage(ctx, stdout, configPath, cmdArgs)
	case "ping":
		return runPing(ctx, stdout, stderr, configPath)
	case "version":
		fmt.Fprintf(stdout, "kestrel %s\n", buildinfo.Short())
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Kestrel - Tool-Augmented Conversation Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: kestrel [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat [instruction]  Interactive session, or one instruction when given")
	fmt.Fprintln(w, "  usage [days]        Token usage totals and per-model breakdown (default: 30)")
	fmt.Fprintln(w, "  ping                Check provider connectivity")
	fmt.Fprintln(w, "  version             Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>  Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/kestrel/config.yaml, /etc/kestrel/config.yaml")
	return nil
}

// newLogger creates a structured logger writing to w at the given level.
// All log output goes through slog; this helper standardizes the handler
// configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations; when nothing is
// found, built-in defaults apply so `kestrel chat` works with only an
// API key in the environment.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "", nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// createClient builds the provider adapter named by the configuration.
// API keys fall back to the conventional environment variables.
func createClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		apiKey := cfg.OpenAI.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured (set openai.api_key or OPENAI_API_KEY)")
		}
		return llm.NewOpenAIClient(apiKey, cfg.OpenAI.BaseURL, cfg.Model, logger), nil
	case "anthropic":
		apiKey := cfg.Anthropic.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but no API key configured (set anthropic.api_key or ANTHROPIC_API_KEY)")
		}
		return llm.NewAnthropicClient(apiKey, cfg.Model, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q (expected openai or anthropic)", cfg.Provider)
	}
}

// buildRegistry assembles the tool registry from configuration. Each
// capability registers only when its prerequisites are met: shell when
// explicitly enabled, file tools when a workspace path is set, speech
// when MiniMax credentials are present alongside a workspace.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry()

	if cfg.ShellExec.Enabled {
		shellCfg := tools.ShellConfig{
			WorkingDir:      cfg.ShellExec.WorkingDir,
			DeniedPatterns:  cfg.ShellExec.DeniedPatterns,
			AllowedPrefixes: cfg.ShellExec.AllowedPrefixes,
		}
		if len(shellCfg.DeniedPatterns) == 0 {
			shellCfg.DeniedPatterns = tools.DefaultDeniedPatterns()
		}
		if err := tools.RegisterShell(registry, shellCfg); err != nil {
			return nil, fmt.Errorf("register shell tool: %w", err)
		}
		logger.Info("shell exec enabled", "working_dir", cfg.ShellExec.WorkingDir)
	} else {
		logger.Info("shell exec disabled")
	}

	if cfg.Workspace.Path != "" {
		ft := tools.NewFileTools(cfg.Workspace.Path)
		if err := tools.RegisterFileTools(registry, ft); err != nil {
			return nil, fmt.Errorf("register file tools: %w", err)
		}
		logger.Info("file tools enabled", "workspace", cfg.Workspace.Path)

		if cfg.MiniMax.APIKey != "" && cfg.MiniMax.GroupID != "" {
			synth := tts.NewMiniMaxClient(tts.MiniMaxConfig{
				APIKey:  cfg.MiniMax.APIKey,
				GroupID: cfg.MiniMax.GroupID,
				Model:   cfg.MiniMax.Model,
				VoiceID: cfg.MiniMax.VoiceID,
			}, logger)
			if err := tools.RegisterSpeech(registry, synth, ft); err != nil {
				return nil, fmt.Errorf("register speech tool: %w", err)
			}
			logger.Info("speech synthesis enabled", "voice", cfg.MiniMax.VoiceID)
		}
	} else {
		logger.Info("file tools disabled (no workspace path configured)")
	}

	return registry, nil
}

// openUsageStore opens the token accounting database under DataDir.
// Accounting is best-effort: a missing or unwritable data directory
// degrades to no accounting rather than blocking the session.
func openUsageStore(cfg *config.Config, logger *slog.Logger) *usage.Store {
	if cfg.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Warn("usage accounting disabled", "error", err)
		return nil
	}
	store, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		logger.Warn("usage accounting disabled", "error", err)
		return nil
	}
	return store
}

// runChat handles the "kestrel chat" subcommand. With arguments it
// processes them as one instruction and exits; without, it runs an
// interactive REPL until EOF or an exit keyword.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string, cmdArgs []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		level, err = config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
	}
	logger := newLogger(stderr, level)
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	}

	client, err := createClient(cfg, logger)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	executor := tools.NewExecutor(registry, logger, tools.ExecutorConfig{
		Timeout:   time.Duration(cfg.Tools.TimeoutSec) * time.Second,
		OutputCap: cfg.Tools.OutputCap,
	})

	store := openUsageStore(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	loopCfg := agent.Config{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		SystemPrompt:    cfg.Agent.SystemPrompt,
		MaxIterations:   cfg.Agent.MaxIterations,
		ProviderRetries: cfg.Agent.ProviderRetries,
		RunTimeout:      time.Duration(cfg.Agent.RunTimeoutSec) * time.Second,
	}

	newLoop := func() *agent.Loop {
		var rec agent.UsageRecorder
		if store != nil {
			rec = store
		}
		return agent.NewLoop(logger, client, registry, executor, rec, loopCfg)
	}

	// SIGINT/SIGTERM cancel the context, aborting any in-flight
	// instruction. In interactive mode the REPL also exits on EOF.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(cmdArgs) > 0 {
		loop := newLoop()
		res, err := loop.Run(ctx, strings.Join(cmdArgs, " "))
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		fmt.Fprintln(stdout, res.FinalText)
		return nil
	}

	return runREPL(ctx, stdin, stdout, logger, newLoop)
}

// runREPL reads instructions line by line and processes each through
// the loop. "exit", "quit", and "/quit" end the session; "/new" resets
// it by constructing a fresh loop (fresh history, fresh session id).
func runREPL(ctx context.Context, stdin io.Reader, stdout io.Writer, logger *slog.Logger, newLoop func() *agent.Loop) error {
	loop := newLoop()

	fmt.Fprintf(stdout, "kestrel %s — type a message, /new to reset, exit to quit\n", buildinfo.Short())

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit", "/quit":
			fmt.Fprintln(stdout, "bye")
			return nil
		case "/new":
			loop = newLoop()
			fmt.Fprintln(stdout, "session reset")
			continue
		}

		res, err := loop.Run(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// The session survives a failed instruction. Partial
			// history from an aborted run stays on the loop.
			logger.Error("instruction failed", "error", err)
			fmt.Fprintf(stdout, "error: %s\n", err)
			continue
		}

		fmt.Fprintln(stdout, res.FinalText)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	fmt.Fprintln(stdout)
	return nil
}

// runUsage handles the "kestrel usage [days]" subcommand: totals plus a
// per-model breakdown over the given window.
func runUsage(ctx context.Context, stdout io.Writer, configPath string, cmdArgs []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("usage accounting requires data_dir in config")
	}

	days := 30
	if len(cmdArgs) > 0 {
		days, err = strconv.Atoi(cmdArgs[0])
		if err != nil || days <= 0 {
			return fmt.Errorf("usage: kestrel usage [days]")
		}
	}

	store, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer store.Close()

	since := time.Now().AddDate(0, 0, -days)

	sum, err := store.Summarize(ctx, since)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "Usage over the last %d days:\n", days)
	fmt.Fprintf(stdout, "  requests:      %d\n", sum.TotalRecords)
	fmt.Fprintf(stdout, "  input tokens:  %d\n", sum.TotalInputTokens)
	fmt.Fprintf(stdout, "  output tokens: %d\n", sum.TotalOutputTokens)

	byModel, err := store.ByModel(ctx, since)
	if err != nil {
		return err
	}
	if len(byModel) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "By model:")
		for _, m := range byModel {
			fmt.Fprintf(stdout, "  %-40s %6d requests  %10d in  %10d out\n",
				m.Model+" ("+m.Provider+")", m.Records, m.InputTokens, m.OutputTokens)
		}
	}
	return nil
}

// runPing handles the "kestrel ping" subcommand: a single connectivity
// check against the configured provider.
func runPing(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, slog.LevelWarn)
	client, err := createClient(cfg, logger)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.Ping(pingCtx); err != nil {
		return fmt.Errorf("%s unreachable: %w", cfg.Provider, err)
	}

	fmt.Fprintf(stdout, "%s ok (%s, %s)\n", cfg.Provider, cfg.Model, time.Since(start).Round(time.Millisecond))
	return nil
}
