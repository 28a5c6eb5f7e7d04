package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/jamesainslie/sift/cmd/sift/tui"
	"github.com/jamesainslie/sift/pkg/sift/output"
	"github.com/jamesainslie/sift/pkg/sift/progress"
)

// errCancelled is returned when the user leaves the progress view.
var errCancelled = errors.New("cancelled")

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// showProgress reports whether the progress view should be drawn: pretty
// output, an interactive terminal and no --quiet or --no-progress.
func showProgress() bool {
	if getQuiet() || v.GetBool("no_progress") || v.GetString("output") != "pretty" {
		return false
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// withProgress runs work, drawing its progress on stderr when appropriate.
func withProgress(ctx context.Context, be backend, title, root string, work func(context.Context, *progress.Reporter) error) error {
	if !showProgress() {
		return work(ctx, nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rep, events := be.Progress(ctx, root)
	err := tui.Run(ctx, os.Stderr, title, root, events, func() error {
		defer rep.Close()
		return work(ctx, rep)
	})
	if errors.Is(err, tui.ErrCancelled) {
		return errCancelled
	}
	return err
}

// render writes r to stdout in the selected format.
func render(r *output.Result) error {
	format := v.GetString("output")

	var f output.Formatter
	if tmpl := v.GetString("template"); format == "template" && tmpl != "" {
		f = output.NewTemplateFormatter(tmpl)
	} else {
		var err error
		if f, err = output.Get(format); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return err
	}
	_, err := os.Stdout.Write(buf.Bytes())
	return err
}
