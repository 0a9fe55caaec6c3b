package main

import (
	"context"
	"fmt"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
)

var watchFile bool

// stepCmd opens the interactive stepper
var stepCmd = &cobra.Command{
	Use:   "step [file]",
	Short: "Walk a trace interactively",
	Long: `Traces the program and opens a terminal stepper over the recorded frames.

Keys:
  →/l  step forward     ←/h  step back
  space  play / pause   r  reset
  s  stop the run       q  quit

With --watch, saving the file re-runs it and replaces the loaded trace.`,
	Args: cobra.ExactArgs(1),
	RunE: runStepper,
}

func runStepper(cmd *cobra.Command, args []string) error {
	path := args[0]
	code, err := readSource(path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	s := newSession()
	defer s.Close()

	feed := newSnapshotFeed()
	unsubscribe := s.Subscribe(feed.publish)
	defer unsubscribe()
	go feed.pump(ctx)

	var reloads <-chan tea.Msg
	if watchFile {
		fw, err := NewFileWatcher(path, readSource, logger.Component("watch"))
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		go fw.Run(ctx)
		defer func() {
			cancel()
			<-fw.Done()
		}()
		reloads = fw.Reloads()
		logger.Info("Watching for changes", zap.String("file", path))
	}

	if _, err := s.Start(code); err != nil {
		return err
	}

	p := tea.NewProgram(NewModel(path, code, s, feed.out, reloads), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stepper: %w", err)
	}
	return nil
}

// snapshotFeed turns session callbacks, which must not block, into a channel
// the model can wait on. Only the latest snapshot is kept.
type snapshotFeed struct {
	mu     sync.Mutex
	latest session.Snapshot
	notify chan struct{}
	out    chan session.Snapshot
}

func newSnapshotFeed() *snapshotFeed {
	return &snapshotFeed{
		notify: make(chan struct{}, 1),
		out:    make(chan session.Snapshot),
	}
}

func (f *snapshotFeed) publish(snap session.Snapshot) {
	f.mu.Lock()
	f.latest = snap
	f.mu.Unlock()

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *snapshotFeed) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.notify:
		}

		f.mu.Lock()
		snap := f.latest
		f.mu.Unlock()

		select {
		case f.out <- snap:
		case <-ctx.Done():
			return
		}
	}
}
