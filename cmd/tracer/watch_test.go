package main

import (
	"context"
	"os"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextReload(t *testing.T, fw *FileWatcher) tea.Msg {
	t.Helper()
	select {
	case msg := <-fw.Reloads():
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no reload")
		return nil
	}
}

func TestFileWatcherReloadsOnWrite(t *testing.T) {
	path := writeProgram(t, "print(1)\n")

	fw, err := NewFileWatcher(path, readSource, nil)
	require.NoError(t, err)
	fw.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go fw.Run(ctx)
	defer func() {
		cancel()
		<-fw.Done()
	}()

	require.NoError(t, os.WriteFile(path, []byte("print(2)\n"), 0o644))
	assert.Equal(t, sourceMsg("print(2)\n"), nextReload(t, fw))
}

func TestFileWatcherReportsInvalidSource(t *testing.T) {
	path := writeProgram(t, "print(1)\n")

	fw, err := NewFileWatcher(path, readSource, nil)
	require.NoError(t, err)
	fw.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go fw.Run(ctx)
	defer func() {
		cancel()
		<-fw.Done()
	}()

	require.NoError(t, os.WriteFile(path, []byte("a\x00b"), 0o644))
	msg, ok := nextReload(t, fw).(watchErrMsg)
	require.True(t, ok)
	assert.Contains(t, msg.err.Error(), "NUL")
}

func TestFileWatcherIgnoresSiblings(t *testing.T) {
	path := writeProgram(t, "print(1)\n")

	fw, err := NewFileWatcher(path, readSource, nil)
	require.NoError(t, err)
	fw.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go fw.Run(ctx)
	defer func() {
		cancel()
		<-fw.Done()
	}()

	require.NoError(t, os.WriteFile(path+".swp", []byte("junk"), 0o644))
	select {
	case msg := <-fw.Reloads():
		t.Fatalf("unexpected reload %v", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFileWatcherMissingDirectory(t *testing.T) {
	_, err := NewFileWatcher("/does/not/exist/prog.js", readSource, nil)
	assert.Error(t, err)
}
