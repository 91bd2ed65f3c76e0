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

	"github.com/spf13/cobra"

	"github.com/chazu/resourceloader/pkg/locator"
)

func newMimetypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mimetype URL [URL...]",
		Short: "Print the scheme and mimetype guessed for each URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, raw := range args {
				loc := locator.Parse(raw, "")
				mimetype := loc.Mimetype()
				if mimetype == "" {
					mimetype = "-"
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", raw, loc.Scheme(), mimetype)
			}
			return nil
		},
	}
}
