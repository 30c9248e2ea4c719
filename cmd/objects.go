// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/spf13/cobra"
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "List the well-known inverter objects",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-16s %-10s %-36s %s\n", "NAME", "ID", "OBJECT", "UNIT")
		for _, o := range rct.Objects() {
			fmt.Fprintf(out, "%-16s 0x%08X %-36s %s\n", o.Alias, o.ID, o.Name, o.Unit)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(objectsCmd)
}
