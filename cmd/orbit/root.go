package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/syssam/orbit/config"
)

// rootOptions holds the global flags and what they resolve to.
type rootOptions struct {
	configFile string
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "orbit",
		Short: "Inspect and compile declared entity models",
		Long: `orbit builds entity models from YAML or msgpack declarations.

It prints the finalized model, keeps it up to date while the declaration
is edited, and compiles declarations to msgpack.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./orbit.yaml)")
	cmd.PersistentFlags().StringP("profile", "p", "", "profile to use (default: default_profile from the config)")

	cmd.AddCommand(newModelCommand(opts))
	cmd.AddCommand(newCompileCommand(opts))
	return cmd
}

// load reads the config and sets up logging for the selected profile.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.LoadWithFlags(o.configFile, cmd.Flags())
	if err != nil {
		return err
	}
	p, err := cfg.Profile("")
	if err != nil {
		return err
	}
	level, err := p.Level()
	if err != nil {
		return err
	}
	o.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})).
		With("profile", p.Name)
	if path := cfg.Path(); path != "" {
		o.logger.Debug("config loaded", "path", path)
	}
	return nil
}
