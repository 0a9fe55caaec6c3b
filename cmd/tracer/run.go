package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
)

var outputFormat string

// errTraceFailed marks a run that produced a failure result. The result has
// already been printed, so main only needs a non-zero exit.
var errTraceFailed = errors.New("trace failed")

// runCmd traces a file and prints the result
var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Trace a program and print every frame",
	Long: `Runs the program to completion and writes the full result to stdout.
Pass "-" to read the program from stdin.

Example:
  tracer run fib.js --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

func runTrace(cmd *cobra.Command, args []string) error {
	format, err := trace.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	code, err := readSource(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newSession()
	defer s.Close()

	res, err := traceSource(ctx, s, code)
	if err != nil {
		return err
	}
	if err := trace.Write(cmd.OutOrStdout(), res, format); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if !res.OK {
		logger.Warn("Trace failed", zap.String("error", res.Error))
		return errTraceFailed
	}
	return nil
}

// runner is the part of a session runTrace needs.
type runner interface {
	Run(ctx context.Context, code string) (trace.Result, error)
}

func traceSource(ctx context.Context, r runner, code string) (trace.Result, error) {
	res, err := r.Run(ctx, code)
	if err != nil {
		return trace.Result{}, fmt.Errorf("run did not finish: %w", err)
	}
	logger.Debug("Trace finished",
		zap.Bool("ok", res.OK),
		zap.Int("frames", len(res.Steps)),
	)
	return res, nil
}
