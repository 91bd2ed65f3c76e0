/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/resourceloader/internal/cli"
	"github.com/chazu/resourceloader/pkg/loader"
	"github.com/chazu/resourceloader/pkg/parser"
)

type getFlags struct {
	mimetype string
	parser   string
	output   string
}

func newGetCmd() *cobra.Command {
	flags := &getFlags{}

	cmd := &cobra.Command{
		Use:   "get URL [URL...]",
		Short: "Load and print one or more resources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.mimetype, "mimetype", "", "Override the mimetype guessed from the URL.")
	f.StringVar(&flags.parser, "parser", "", "Force a parser by type: "+strings.Join(parserTypes(), ", ")+".")
	f.StringVarP(&flags.output, "output", "o", cli.FormatJSON, "Output format: json, yaml or raw.")

	return cmd
}

func runGet(cmd *cobra.Command, urls []string, flags *getFlags) error {
	ctx := cmd.Context()
	cache := cli.CtxCache.MustValue(ctx)

	opts, err := loadOptions(flags.mimetype, flags.parser)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if len(urls) == 1 {
		value, err := cache.Load(ctx, urls[0], opts...)
		if err != nil {
			return fmt.Errorf("load %s: %w", urls[0], err)
		}
		return cli.Render(out, value, flags.output)
	}

	values, loadErr := cache.LoadAll(ctx, urls, opts...)
	for _, url := range urls {
		value, ok := values[url]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "# %s\n", url)
		if err := cli.Render(out, value, flags.output); err != nil {
			return err
		}
	}
	return loadErr
}

// loadOptions builds the per-load overrides shared by get and watch
func loadOptions(mimetype, parserType string) ([]loader.LoadOption, error) {
	var opts []loader.LoadOption
	if mimetype != "" {
		opts = append(opts, loader.WithMimetype(mimetype))
	}
	if parserType != "" {
		f, err := parserByType(parserType)
		if err != nil {
			return nil, err
		}
		opts = append(opts, loader.WithParser(f))
	}
	return opts, nil
}

func parserByType(name string) (parser.Factory, error) {
	for _, f := range parser.DefaultFactories() {
		if f.Type() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("unknown parser %q, expected one of: %s", name, strings.Join(parserTypes(), ", "))
}

func parserTypes() []string {
	factories := parser.DefaultFactories()
	types := make([]string, 0, len(factories))
	for _, f := range factories {
		types = append(types, f.Type())
	}
	return types
}
