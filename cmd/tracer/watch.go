package main

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

// FileWatcher re-reads a program whenever it changes on disk and emits the
// new source as a sourceMsg.
//
// The parent directory is watched rather than the file, since most editors
// save by writing a temp file and renaming it over the original.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	read     func(string) (string, error)
	out      chan tea.Msg
	logger   *zap.Logger
	doneCh   chan struct{}
}

// NewFileWatcher creates a watcher for path. read loads and validates the file.
func NewFileWatcher(path string, read func(string) (string, error), logger *zap.Logger) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWatcher{
		watcher:  watcher,
		path:     abs,
		debounce: defaultDebounce,
		read:     read,
		out:      make(chan tea.Msg),
		logger:   logger.With(zap.String("file", abs)),
		doneCh:   make(chan struct{}),
	}, nil
}

// Reloads returns the channel of sourceMsg and watchErrMsg values.
func (fw *FileWatcher) Reloads() <-chan tea.Msg {
	return fw.out
}

// Run watches until ctx is cancelled, then closes the underlying watcher.
func (fw *FileWatcher) Run(ctx context.Context) {
	defer close(fw.doneCh)
	defer fw.watcher.Close()

	// Rapid saves collapse into one reload
	timer := time.NewTimer(fw.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if !fw.relevant(event) {
				continue
			}
			fw.logger.Debug("File changed", zap.String("op", event.Op.String()))
			timer.Reset(fw.debounce)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("Watcher error", zap.Error(err))
			fw.emit(ctx, watchErrMsg{err: err})

		case <-timer.C:
			code, err := fw.read(fw.path)
			if err != nil {
				// Half-written or deleted files are expected mid-save
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				fw.emit(ctx, watchErrMsg{err: err})
				continue
			}
			fw.logger.Info("Reloading program", zap.Int("bytes", len(code)))
			fw.emit(ctx, sourceMsg(code))
		}
	}
}

// Done is closed once Run returns.
func (fw *FileWatcher) Done() <-chan struct{} {
	return fw.doneCh
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != fw.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (fw *FileWatcher) emit(ctx context.Context, msg tea.Msg) {
	select {
	case fw.out <- msg:
	case <-ctx.Done():
	}
}
