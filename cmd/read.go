// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/spf13/cobra"
)

var readFormat string

var readCmd = &cobra.Command{
	Use:   "read <object>...",
	Short: "Read one or more objects from the inverter",
	Long: `Read the current value of one or more inverter objects and print them.

Objects are given as catalogue names (see 'rctstat objects'), inverter object
names, or numeric ids (0x959930BF or decimal).

Exit codes:
  0 - All reads successful
  1 - One or more reads failed/timed out
  2 - Connection error`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().StringVarP(&readFormat, "format", "f", FormatText, "Output format (text, json, cbor)")
}

// parseObjects resolves object arguments to ids
func parseObjects(names []string) ([]uint32, error) {
	ids := make([]uint32, 0, len(names))
	for _, name := range names {
		id, err := rct.ParseObjectID(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// readAll reads ids concurrently and returns the samples in argument order.
// No more reads are in flight than the client can queue.
func readAll(ctx context.Context, sess *Session, ids []uint32, timeout time.Duration) []Sample {
	samples := make([]Sample, len(ids))
	slots := make(chan struct{}, rct.MaxScheduledTransactions)

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		slots <- struct{}{}
		go func(i int, id uint32) {
			defer wg.Done()
			defer func() { <-slots }()
			value, err := sess.Read(ctx, id, timeout)
			samples[i] = NewSample(id, value, err, time.Now())
		}(i, id)
	}
	wg.Wait()
	return samples
}

func runRead(cmd *cobra.Command, args []string) error {
	ids, err := parseObjects(args)
	if err != nil {
		return err
	}
	out, err := NewSampleWriter(readFormat, os.Stdout)
	if err != nil {
		return err
	}

	dial, err := linkDialer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	sess := NewSession(dial, cfg.Tick, logger, false)
	if _, err := sess.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	failed := 0
	for _, s := range readAll(ctx, sess, ids, cfg.Timeout) {
		if !s.OK() {
			failed++
		}
		if err := out.Write(s); err != nil {
			return err
		}
	}

	cancel()
	if err := <-runErr; err != nil {
		logger.Debug().Err(err).Msg("session ended")
	}

	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
