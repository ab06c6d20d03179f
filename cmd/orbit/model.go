package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/syssam/orbit/declare"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/builder"
)

// Output formats of the model command.
const (
	formatText = "text"
	formatYAML = "yaml"
)

// debounce is how long the watcher waits for writes to settle.
const debounce = 100 * time.Millisecond

type modelOptions struct {
	*rootOptions
	format string
	watch  bool
}

func newModelCommand(root *rootOptions) *cobra.Command {
	opts := &modelOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "model <file>",
		Short: "Print the model built from a declaration",
		Long: `Build the model declared in a .yaml, .yml or .msgpack file and print it,
either as the debug view (text) or as a YAML snapshot (yaml).`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(*cobra.Command, []string) error {
			if opts.format != formatText && opts.format != formatYAML {
				return fmt.Errorf("invalid format %q: must be %s or %s", opts.format, formatText, formatYAML)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			render := func() error { return opts.render(cmd.OutOrStdout(), args[0]) }
			if !opts.watch {
				return render()
			}
			return watch(cmd.Context(), args[0], render, opts.logger)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", formatText, "output format (text|yaml)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "print the model again whenever the file changes")
	return cmd
}

// build loads the declaration at path and builds its model.
func (o *rootOptions) build(path string) (*metadata.Model, error) {
	doc, err := declare.Load(path)
	if err != nil {
		return nil, err
	}
	return declare.Build(doc, builder.WithLogger(o.logger))
}

func (o *modelOptions) render(w io.Writer, path string) error {
	m, err := o.build(path)
	if err != nil {
		return err
	}
	if o.format == formatYAML {
		out, err := m.Snapshot().YAML()
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	_, err = io.WriteString(w, m.DebugView())
	return err
}

// watch calls render once, then after every change to path until ctx is
// done. Render errors while watching are logged, not returned.
func watch(ctx context.Context, path string, render func() error, logger *slog.Logger) error {
	if err := render(); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()
	// Editors often replace the file, so watch its directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Info("watching", "path", abs)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			logger.Debug("file changed", "path", abs)
			if err := render(); err != nil {
				logger.Error("render failed", "path", abs, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}
