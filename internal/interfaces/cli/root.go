// Package cli implements the leafsight command line: local diagnosis with the
// embedded engine, catalog inspection, profile auditing and history queries
// against a running API server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/LeafSight/internal/config"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/internal/intelligence/leafdx"
	"github.com/turtacn/LeafSight/pkg/client"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

// Engine is the local inference surface used by the CLI.
type Engine interface {
	Diagnose(ctx context.Context, img io.Reader, crop string) (*diagnosis.Result, error)
	Explain(img io.Reader, label string) (*diagnosis.Explanation, error)
	CropInfos() []diagnosis.CropInfo
	Profiles(crop string) []diagnosis.ProfileSummary
}

// API is the subset of the SDK used by the CLI.
type API interface {
	Diagnose(ctx context.Context, filename string, img io.Reader, crop string) (*diagnosis.Record, error)
	GetDiagnosis(ctx context.Context, id string) (*diagnosis.Record, error)
	ListDiagnoses(ctx context.Context, opts client.ListOptions) ([]*diagnosis.Record, error)
}

// Dependencies pre-wires collaborators.  Nil fields are built from
// configuration when a command runs.
type Dependencies struct {
	Config *config.Config
	Logger logging.Logger
	Engine Engine
	API    API
}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Timeout      time.Duration
	ServerAddr   string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	Logger       logging.Logger
	Engine       Engine
	API          API
	OutputFormat string
	Timeout      time.Duration
}

// NewRootCommand creates the root command with its global flags and every
// subcommand.
func NewRootCommand(deps Dependencies) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "leafsight",
		Short: "LeafSight CLI: plant leaf disease diagnosis",
		Long: "LeafSight diagnoses plant leaf diseases from photographs using colour,\n" +
			"texture and lesion heuristics, and reports treatment and prevention advice.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts, deps)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./leafsight.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "text", "output format (text, json, table)")
	pf.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "global operation timeout")
	pf.StringVar(&opts.ServerAddr, "server", "", "API server address (default: derived from server.port)")

	cmd.AddCommand(
		newDiagnoseCmd(),
		newExplainCmd(),
		newCropsCmd(),
		newProfilesCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return cmd
}

// persistentPreRun initializes config, logger, engine and client, then stores
// the CLIContext.
func persistentPreRun(cmd *cobra.Command, opts *RootOptions, deps Dependencies) error {
	cfg := deps.Config
	if cfg == nil {
		var err error
		if cfg, err = initConfig(opts); err != nil {
			return fmt.Errorf("config initialization failed: %w", err)
		}
	}

	logger := deps.Logger
	if logger == nil {
		var err error
		if logger, err = initLogger(opts); err != nil {
			return fmt.Errorf("logger initialization failed: %w", err)
		}
	}

	engine := deps.Engine
	if engine == nil {
		var err error
		if engine, err = initEngine(cfg, logger); err != nil {
			return fmt.Errorf("engine initialization failed: %w", err)
		}
	}

	api := deps.API
	if api == nil {
		c, err := initClient(cfg, opts, logger)
		if err != nil {
			logger.Warn("API client initialization failed, remote commands will not work", logging.Err(err))
		} else {
			api = c
		}
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		API:          api,
		OutputFormat: opts.OutputFormat,
		Timeout:      opts.Timeout,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads the explicit config file, else the first file found on
// the search path, else environment and defaults only.
func initConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.Load(config.WithConfigPath(opts.ConfigPath))
	}

	searchPaths := []string{"./leafsight.yaml", "./configs/config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".leafsight", "config.yaml"))
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return config.Load(config.WithConfigPath(p))
		}
	}
	return config.Load()
}

// initLogger creates a console logger writing to stderr so that command
// output on stdout stays machine readable.
func initLogger(opts *RootOptions) (logging.Logger, error) {
	return logging.NewLogger(logging.LogConfig{
		Level:            strings.ToLower(opts.LogLevel),
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

func initEngine(cfg *config.Config, logger logging.Logger) (*leafdx.Engine, error) {
	engineOpts := []leafdx.Option{leafdx.WithLogger(logger.Named("engine"))}
	if cfg.Engine.TreatmentsPath != "" {
		table, err := leafdx.LoadTreatmentFile(cfg.Engine.TreatmentsPath)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, leafdx.WithTreatments(table))
	}
	return leafdx.NewEngine(cfg.Engine.Config, engineOpts...), nil
}

// initClient creates an API client for --server, or for the local server
// described by the configuration.
func initClient(cfg *config.Config, opts *RootOptions, logger logging.Logger) (*client.Client, error) {
	addr := opts.ServerAddr
	if addr == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		addr = fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
	}
	return client.NewClient(addr,
		client.WithTimeout(opts.Timeout),
		client.WithLogger(restyLogger{logger.Named("sdk")}),
	)
}

// restyLogger bridges the SDK's printf-style logger to the structured logger.
type restyLogger struct{ l logging.Logger }

func (r restyLogger) Errorf(format string, v ...interface{}) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...interface{})  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...interface{}) { r.l.Debug(fmt.Sprintf(format, v...)) }

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.ErrCodeValidation, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// requireAPI returns the API client or an error naming the missing server.
func (c *CLIContext) requireAPI() (API, error) {
	if c.API == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "no API server configured; pass --server")
	}
	return c.API, nil
}

// withTimeout derives the per-command deadline.
func (c *CLIContext) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand(Dependencies{})
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "leafsight %s (commit: %s, built: %s)\n", Version, GitCommit, BuildDate)
		},
	}
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

// PrintResult outputs data in the format specified by CLIContext.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return printJSON(cmd, data)
	}

	switch strings.ToLower(cliCtx.OutputFormat) {
	case "json":
		return printJSON(cmd, data)
	case "table":
		return printTable(cmd, data)
	default:
		return printText(cmd, data)
	}
}

// printJSON outputs data as indented JSON to stdout.
func printJSON(cmd *cobra.Command, data interface{}) error {
	if v, ok := data.(interface{ JSONValue() interface{} }); ok {
		data = v.JSONValue()
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(cmd *cobra.Command, data interface{}) error {
	switch v := data.(type) {
	case string:
		fmt.Fprintln(cmd.OutOrStdout(), v)
	case fmt.Stringer:
		fmt.Fprint(cmd.OutOrStdout(), v.String())
	default:
		fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", v)
	}
	return nil
}

// printTable outputs data as a table if it provides rows, otherwise falls
// back to text.
func printTable(cmd *cobra.Command, data interface{}) error {
	type tableProvider interface {
		TableHeaders() []string
		TableRows() [][]string
	}

	if tp, ok := data.(tableProvider); ok {
		fmt.Fprint(cmd.OutOrStdout(), FormatTable(tp.TableHeaders(), tp.TableRows()))
		return nil
	}
	return printText(cmd, data)
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())
}

// FormatTable renders headers and rows as an aligned ASCII table.
func FormatTable(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	colWidths := make([]int, len(headers))
	for i, h := range headers {
		colWidths[i] = len(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(colWidths); i++ {
			if len(row[i]) > colWidths[i] {
				colWidths[i] = len(row[i])
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i := range headers {
			if i > 0 {
				sb.WriteString("  ")
			}
			val := ""
			if i < len(cells) {
				val = cells[i]
			}
			if i == len(headers)-1 {
				sb.WriteString(val)
			} else {
				sb.WriteString(padRight(val, colWidths[i]))
			}
		}
		sb.WriteString("\n")
	}

	writeRow(headers)
	sep := make([]string, len(colWidths))
	for i, w := range colWidths {
		sep[i] = strings.Repeat("-", w)
	}
	writeRow(sep)
	for _, row := range rows {
		writeRow(row)
	}
	return sb.String()
}

// padRight pads s with spaces to the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
