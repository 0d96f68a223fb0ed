package tui

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/recordwatch"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sweep"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// Options configures the live view.
type Options struct {
	Title  string
	Levels []int
	Logs   *logging.LogBuffer
}

// Run shows the live view while start runs on its own goroutine. start
// must pass the observer to the orchestrator. Run returns start's error
// once both the experiment and the view have finished. Closing the view
// early does not stop the experiment.
func Run(opts Options, start func(observe sweep.Observer) error) error {
	watcher, err := recordwatch.New()
	if err != nil {
		return fmt.Errorf("failed to watch run directory: %w", err)
	}
	defer watcher.Close()

	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watcher.Run(ctx, func(a recordwatch.Arrival) {
		p.Send(ArrivalMsg(a))
	})

	result := make(chan error, 1)
	go func() {
		err := start(func(ev sweep.Event) {
			if ev.State == types.LevelSpawning {
				if err := watcher.Watch(ev.Dir); err != nil {
					logging.Get("tui").Warn("records of level will not be shown", "nproc", ev.NProc, "error", err)
				}
			}
			p.Send(EventMsg(ev))
		})
		p.Send(DoneMsg{Err: err})
		result <- err
	}()

	final, viewErr := p.Run()
	if m, ok := final.(Model); (ok && m.Detached()) || viewErr != nil {
		fmt.Fprintln(os.Stderr, "Live view closed, waiting for the run to finish...")
	}
	runErr := <-result
	if runErr != nil {
		return runErr
	}
	if viewErr != nil {
		logging.Get("tui").Warn("live view failed", "error", viewErr)
	}
	return nil
}
