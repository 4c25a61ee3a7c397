package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"polybind/internal/driver"
	"polybind/internal/host"
	"polybind/internal/ui"
)

type buildOutcome struct {
	result *driver.Result
	err    error
}

// runBuildWithUI runs the build while a progress view reads its events.
func runBuildWithUI(ctx context.Context, title string, prog *host.Program, units []*host.Package, opts driver.Options) (*driver.Result, error) {
	events := make(chan driver.Event, 256)
	outcomeCh := make(chan buildOutcome, 1)

	go func() {
		o := opts
		o.Progress = driver.ChannelSink(events)
		res, err := driver.Build(ctx, prog, units, o)
		outcomeCh <- buildOutcome{result: res, err: err}
		close(events)
	}()

	paths := make([]string, 0, len(units))
	for _, u := range units {
		paths = append(paths, u.Path)
	}
	model := ui.NewProgressModel(title, paths, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))
	_, uiErr := program.Run()
	if uiErr != nil {
		go func() {
			for range events {
			}
		}()
	}
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}
