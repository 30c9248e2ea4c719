// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// newLogger builds the console logger used for diagnostics. Command output
// goes to stdout, the log goes to out (stderr).
func newLogger(level string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05.000",
	}
	l := zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "rctstat").Logger()
	log.Logger = l
	return l, nil
}
