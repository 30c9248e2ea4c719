// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/spf13/cobra"
)

var rawLogShowErrors bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display response frames on the link in human-readable format",
	Long: `Passively decode and display response frames as they arrive, without sending
any requests. Useful next to another client talking to the same inverter.

Each frame is shown with timestamp, object id, value and checksum state.
Bootloader announcements are reported as they are seen.

Supports TCP, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogShowErrors, "show-errors", false, "Show stream resynchronization errors")
}

// rawLogger decodes a passive byte stream into printable lines
type rawLogger struct {
	decoder    *rct.Decoder
	bootloader rct.BootloaderDetector
	showErrors bool
	out        io.Writer
}

func newRawLogger(out io.Writer, showErrors bool) *rawLogger {
	return &rawLogger{decoder: rct.NewDecoder(), showErrors: showErrors, out: out}
}

func (r *rawLogger) process(data []byte, now time.Time) {
	for _, b := range data {
		if r.bootloader.Feed(b, now) {
			fmt.Fprintf(r.out, "[%s] BOOTLOADER magic number 0x%08X\n", now.Format("15:04:05.000"), rct.BootloaderMagic)
		}

		frame, err := r.decoder.DecodeByteAt(b, now)
		if err != nil {
			if r.showErrors {
				fmt.Fprintf(r.out, "[ERROR] %v\n", err)
			}
			continue
		}
		if frame != nil {
			fmt.Fprint(r.out, rct.FormatFrame(frame))
		}
	}
}

// drain reads link until ctx ends or the link fails
func (r *rawLogger) drain(ctx context.Context, link Link, idle time.Duration) error {
	buf := make([]byte, 128)
	for ctx.Err() == nil {
		n, err := link.Receive(buf)
		switch {
		case errors.Is(err, rct.ErrWouldBlock):
			time.Sleep(idle)
		case err != nil:
			return err
		case n == 0:
			return nil
		default:
			r.process(buf[:n], time.Now())
		}
	}
	return nil
}

func runRawLog(cmd *cobra.Command, args []string) error {
	dial, err := linkDialer(cfg)
	if err != nil {
		return err
	}
	link, connInfo, err := dial()
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("rctstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	if err := newRawLogger(os.Stdout, rawLogShowErrors).drain(ctx, link, cfg.Tick); err != nil {
		return fmt.Errorf("read error: %w", err)
	}
	logger.Info().Msg("connection closed")
	return nil
}
