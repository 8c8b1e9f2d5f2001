package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresmejia3/facemark/internal/config"
	"github.com/andresmejia3/facemark/internal/store"
	"github.com/andresmejia3/facemark/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Options holds flags shared by run, verify and annotate
type Options struct {
	InputPath          string
	OutputPath         string
	Detector           string
	Algorithm          string
	Redetect           bool
	DetectionThreshold float64
	WorkerTimeout      string
	CascadePath        string
}

var (
	// DB is the run ledger shared by subcommands; nil when no database is configured
	DB *store.Store
	// Cfg is the resolved configuration (environment, then flags)
	Cfg config.Config

	dbURL        string
	logLevel     string
	logJSON      bool
	framesDir    string
	progressAddr string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "facemark",
	Short:         "Fragile face-region video watermarking",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if Cfg, err = config.Load(); err != nil {
			return err
		}
		applyFlag(cmd, "log-level", &Cfg.LogLevel, logLevel)
		applyFlag(cmd, "frames-dir", &Cfg.FramesDir, framesDir)
		applyFlag(cmd, "progress-addr", &Cfg.ProgressAddr, progressAddr)
		applyFlag(cmd, "db", &Cfg.DatabaseURL, dbURL)
		if err := Cfg.Validate(); err != nil {
			return err
		}

		level, _ := logrus.ParseLevel(Cfg.LogLevel)
		logrus.SetLevel(level)
		logrus.SetOutput(os.Stderr)
		if logJSON {
			logrus.SetFormatter(&logrus.JSONFormatter{})
		}

		if Cfg.DatabaseURL == "" {
			return nil
		}
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// applyFlag overrides *dst with value when the flag was set explicitly.
func applyFlag(cmd *cobra.Command, name string, dst *string, value string) {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		*dst = value
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var cmdErr *commandError
		if errors.As(err, &cmdErr) {
			utils.ShowError(cmdErr.context, cmdErr.err, nil)
		} else {
			utils.ShowError("Command failed", err, nil)
		}
		stop()
		os.Exit(1)
	}
}

// commandError carries the context line shown in the error box.
// Subprocess stderr is already folded into err by SafeCommand.Run.
type commandError struct {
	context string
	err     error
}

func (e *commandError) Error() string {
	if e.err == nil {
		return e.context
	}
	return fmt.Sprintf("%s: %v", e.context, e.err)
}

func (e *commandError) Unwrap() error { return e.err }

func fail(context string, err error) error {
	return &commandError{context: context, err: err}
}

// parseWorkerTimeout reads a duration flag, keeping the configured value when unset.
func parseWorkerTimeout(s string) (time.Duration, error) {
	if s == "" {
		return Cfg.WorkerTimeout, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %v", d)
	}
	return d, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: from POSTGRES_* / FACEMARK_DB, disabled when unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&framesDir, "frames-dir", "", "Directory for decoded frames (default: a per-process temp dir)")
	rootCmd.PersistentFlags().StringVar(&progressAddr, "progress-addr", "", "Serve a websocket progress feed on this address (e.g. :8090)")
}
