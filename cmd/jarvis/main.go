// Jarvis is a push-to-talk voice assistant for a local language model.
//
// Each turn records a short utterance, decides whether it needs fresh
// information from the web, asks the model for an answer (streamed to
// the terminal as it arrives), and speaks the answer back. Configuration
// is loaded from an optional YAML file (see [config.DefaultSearchPaths])
// and the environment.
//
// Usage:
//
//	jarvis [listen]          Start the interactive push-to-talk loop
//	jarvis ask <question>    Run a single text turn
//	jarvis init [dir]        Write an example config file
//	jarvis version           Print version and build information
//	jarvis -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/jarvis/internal/buildinfo"
	"github.com/nugget/jarvis/internal/config"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options carries the parsed global flags.
type options struct {
	configPath string
	outputFmt  string // "text" (default) or "json"
	verbose    bool
}

// run is the real entry point. Conversation output goes to stdout;
// structured logs go to stderr so they never interleave with a
// streaming answer. args is os.Args[1:], parsed by hand because the
// flag package's globals get in the way of parallel tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-v" || args[i] == "--verbose":
			opts.verbose = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "", "listen":
		return runListen(ctx, stdin, stdout, stderr, opts)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: jarvis ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Jarvis - Push-to-talk voice assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: jarvis [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  listen       Interactive push-to-talk loop (default)")
	fmt.Fprintln(w, "  ask <text>   Run a single text turn")
	fmt.Fprintln(w, "  init [dir]   Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -v, --verbose     Debug logging regardless of config")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  LLM_URL, LLM_PORT, TAVILY_API_KEY, JARVIS_LOG_LEVEL (also read from ./.env)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/jarvis/config.yaml, /etc/jarvis/config.yaml")
	return nil
}

// loadConfig assembles configuration from defaults, the optional config
// file, ./.env and the process environment, then validates it. The
// returned path is empty when no file was found.
func loadConfig(explicitPath string) (*config.Config, string, error) {
	if err := config.LoadDotenv(".env"); err != nil {
		return nil, "", err
	}

	cfg := config.Default()
	path, err := config.FindConfig(explicitPath)
	switch {
	case errors.Is(err, config.ErrNoConfigFile):
		path = ""
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(path)
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config: %w", err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from config, with -v forcing
// debug when the configured level is quieter.
func newLogger(w io.Writer, cfg *config.Config, verbose bool) *slog.Logger {
	// Validate has already accepted the level.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}
	return config.NewLogger(w, level, cfg.LogFormat)
}
