// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajroetker/go-halo/stencil/kernel"
)

func (a *app) kernelsCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "kernels",
		Short: "List the built-in kernels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			for _, name := range kernel.Names() {
				k, err := kernel.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, k)
				if !verbose {
					continue
				}
				for ky := range k.Dim() {
					for kx := range k.Dim() {
						fmt.Fprintf(out, "%5d", k.Coeff(ky, kx))
					}
					fmt.Fprintln(out)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the coefficients")
	return cmd
}
