package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
	"github.com/GriffinCanCode/steptrace/internal/domain/worker"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/steptrace/internal/providers/sandbox"
	"github.com/GriffinCanCode/steptrace/internal/shared/utils"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFile    string
	maxSteps   int

	cfg    *config.Config
	logger *logging.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tracer",
	Short: "Trace JavaScript programs step by step",
	Long: `tracer runs a program inside the instrumented sandbox and records one
frame per executed line, call, return and exception.

Use "run" to print the whole trace, or "step" to walk it interactively.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if maxSteps > 0 {
			cfg.Sandbox.MaxSteps = maxSteps
		}

		logCfg := logging.CLIConfig(logLevel)
		if logFile != "" {
			logCfg.OutputPaths = []string{logFile}
		}
		logger, err = logging.New(logCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().IntVar(&maxSteps, "max-steps", 0, "Override the sandbox step limit")

	runCmd.Flags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, yaml, toml)")
	stepCmd.Flags().BoolVarP(&watchFile, "watch", "w", false, "Re-run the program whenever the file changes")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newSession builds a standalone session from the loaded config.
func newSession() *session.Session {
	sbCfg := sandbox.DefaultConfig()
	sbCfg.MaxSteps = cfg.Sandbox.MaxSteps
	sbCfg.MaxCallStackSize = cfg.Sandbox.MaxCallStackSize

	logger.Debug("Creating session",
		zap.Int("max_steps", sbCfg.MaxSteps),
		zap.Duration("cadence", cfg.Session.Cadence.Std()),
	)
	return session.New(session.Options{
		Factory:    worker.SandboxFactory(sbCfg),
		Logger:     logger.Component("session"),
		Cadence:    cfg.Session.Cadence.Std(),
		RunTimeout: cfg.Sandbox.RunTimeout.Std(),
	})
}

// readSource reads a program from path, or from stdin when path is "-".
func readSource(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(os.Stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	code := string(b)
	if err := utils.NewSourceValidator(cfg.Sandbox.MaxSourceBytes).Validate(code); err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}
