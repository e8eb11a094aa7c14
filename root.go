package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stagelight/plotsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagProject    string
	flagBaseURL    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that run without resolved
// configuration, either because they must work when the config file is
// broken (config path) or because they only print static information.
const skipConfigAnnotation = "plotsync_skip_config"

// httpClientTimeout bounds every API request when the config carries no
// data_timeout. Prevents hung connections from blocking CLI commands.
const httpClientTimeout = 30 * time.Second

// GlobalFlags is the parsed persistent flag set, carried on the CLIContext
// so command implementations never read the package-level flag variables.
type GlobalFlags struct {
	ConfigPath string
	Project    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext bundles what every command needs: resolved config, the
// config path it came from, the logger, and the global flags. Built once
// in PersistentPreRunE and carried on the command context.
type CLIContext struct {
	Flags      GlobalFlags
	Cfg        *config.Config // nil for skip-config commands
	ConfigPath string
	Logger     *slog.Logger
}

type cliContextKey struct{}

// withCLIContext attaches a CLIContext to ctx.
func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext retrieves the CLIContext installed by PersistentPreRunE.
// Panics when absent: that is a wiring bug, not a runtime condition.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing from command context")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command. Called once from
// main() and from command tests.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plotsync",
		Short:   "Lighting plot sync client",
		Long:    "Local-first sync, crash recovery, and conflict resolution for stagelight plot projects.",
		Version: version,
		// Cobra's default error/usage printing is silenced; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return installCLIContext(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagProject, "project", "", "project id (defaults to [sync] default_project, then the last opened project)")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "server", "", "server base URL override")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newProjectsCmd())
	cmd.AddCommand(newExportCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// installCLIContext resolves configuration and attaches the CLIContext
// to the command context. Skip-config commands get flags and a logger
// but no resolved config.
func installCLIContext(cmd *cobra.Command) error {
	flags := GlobalFlags{
		ConfigPath: flagConfigPath,
		Project:    flagProject,
		JSON:       flagJSON,
		Verbose:    flagVerbose,
		Quiet:      flagQuiet,
	}

	cc := &CLIContext{Flags: flags}

	if cmd.Annotations[skipConfigAnnotation] != "true" {
		cli := config.CLIOverrides{
			ConfigPath: flagConfigPath,
			Project:    flagProject,
		}

		// Only pass --server through when the user explicitly set it.
		if cmd.Flags().Changed("server") {
			cli.BaseURL = &flagBaseURL
		}

		cfg, cfgPath, err := config.Resolve(config.ReadEnvOverrides(), cli)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = cfg
		cc.ConfigPath = cfgPath
	}

	cc.Logger = buildLogger(cc.Cfg, flags)

	cmd.SetContext(withCLIContext(cmd.Context(), cc))

	return nil
}

// buildLogger creates the slog.Logger for this invocation. Config
// provides the baseline level, format, and optional rotating file
// output; --verbose and --quiet override the level because CLI flags
// always win.
func buildLogger(cfg *config.Config, flags GlobalFlags) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var out io.Writer = os.Stderr

	if cfg != nil && cfg.Logging.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogPath(),
			MaxSize:    cfg.Logging.LogMaxSizeMB,
			MaxBackups: cfg.Logging.LogMaxBackups,
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg != nil && cfg.Logging.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

// defaultHTTPClient returns an HTTP client bounded by the configured
// data timeout.
func defaultHTTPClient(cfg *config.Config) *http.Client {
	timeout := httpClientTimeout
	if cfg != nil {
		if t := cfg.DataTimeout(); t > 0 {
			timeout = t
		}
	}

	return &http.Client{Timeout: timeout}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
