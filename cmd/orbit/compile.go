package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/orbit/declare"
	"github.com/syssam/orbit/metadata/builder"
)

type compileOptions struct {
	*rootOptions
	output string
}

func newCompileCommand(root *rootOptions) *cobra.Command {
	opts := &compileOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Validate a declaration and write it as msgpack",
		Long: `Build the model declared in a file to check it, then write the
declaration in msgpack. The output defaults to the input path with a
.msgpack extension.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := declare.Load(args[0])
			if err != nil {
				return err
			}
			m, err := declare.Build(doc, builder.WithLogger(opts.logger))
			if err != nil {
				return err
			}
			out := opts.output
			if out == "" {
				out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".msgpack"
			}
			if format, err := declare.FormatOf(out); err != nil || format != declare.Msgpack {
				return fmt.Errorf("output %s: want a .msgpack file", out)
			}
			if err := doc.Save(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %d entity types to %s\n", len(m.EntityTypes()), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file path")
	return cmd
}
