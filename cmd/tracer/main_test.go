package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/steptrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/steptrace/internal/shared/utils"
)

func TestMain(m *testing.M) {
	cfg = config.Default()
	cfg.Sandbox.MaxSteps = 1000
	logger = logging.NewNop()
	os.Exit(m.Run())
}

func writeProgram(t *testing.T, code string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prog.js")
	require.NoError(t, os.WriteFile(path, []byte(code), 0o644))
	return path
}

func TestReadSource(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		code, err := readSource(writeProgram(t, "print(1)\n"))
		require.NoError(t, err)
		assert.Equal(t, "print(1)\n", code)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readSource(filepath.Join(t.TempDir(), "nope.js"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("nul byte", func(t *testing.T) {
		_, err := readSource(writeProgram(t, "a\x00b"))
		assert.ErrorIs(t, err, utils.ErrSourceEncoding)
	})
}

func TestTraceSource(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := newSession()
	defer s.Close()

	res, err := traceSource(ctx, s, "let x = 2\nprint(x * 3)\n")
	require.NoError(t, err)
	require.True(t, res.OK)
	last, ok := res.Last()
	require.True(t, ok)
	assert.Equal(t, "6\n", last.Stdout)
}

func TestTraceSourceStepLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := newSession()
	defer s.Close()

	res, err := traceSource(ctx, s, "let i = 0\nwhile (true) {\n  i++\n}")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}
