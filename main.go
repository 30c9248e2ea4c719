// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// rctstat - RCT Power inverter telemetry reader

package main

import (
	"os"

	"github.com/Thermoquad/rctstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
