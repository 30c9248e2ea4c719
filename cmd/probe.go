// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/spf13/cobra"
)

var (
	probeObject   string
	probeCount    int
	probeInterval time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Measure link quality by repeatedly reading one object",
	Long: `Send a series of reads for a single object and report the round trip time
of each, followed by a loss summary.

This is useful for verifying:
  - The inverter is reachable and answering
  - Responses arrive intact (checksum failures are reported)
  - Typical latency of the link

Exit codes:
  0 - All reads successful
  1 - One or more reads failed/timed out
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeObject, "object", "soc", "Object to read")
	probeCmd.Flags().IntVar(&probeCount, "count", 5, "Number of reads to send")
	probeCmd.Flags().DurationVar(&probeInterval, "interval", 500*time.Millisecond, "Delay between reads")
}

// probeSummary accumulates per-read outcomes
type probeSummary struct {
	sent     int
	received int
	failures map[rct.Result]int
	minRTT   time.Duration
	maxRTT   time.Duration
	totalRTT time.Duration
}

func newProbeSummary() *probeSummary {
	return &probeSummary{failures: make(map[rct.Result]int)}
}

func (p *probeSummary) record(rtt time.Duration, result rct.Result) {
	p.sent++
	if result != rct.Success {
		p.failures[result]++
		return
	}
	p.received++
	p.totalRTT += rtt
	if p.received == 1 || rtt < p.minRTT {
		p.minRTT = rtt
	}
	if rtt > p.maxRTT {
		p.maxRTT = rtt
	}
}

func (p *probeSummary) loss() float64 {
	if p.sent == 0 {
		return 0
	}
	return float64(p.sent-p.received) / float64(p.sent) * 100
}

func (p *probeSummary) String() string {
	s := fmt.Sprintf("%d reads sent, %d responses received, %.0f%% loss\n", p.sent, p.received, p.loss())
	if p.received > 0 {
		avg := p.totalRTT / time.Duration(p.received)
		s += fmt.Sprintf("rtt min/avg/max = %v/%v/%v\n",
			p.minRTT.Round(time.Microsecond), avg.Round(time.Microsecond), p.maxRTT.Round(time.Microsecond))
	}
	for result := rct.Success; result <= rct.ChecksumMismatch; result++ {
		if n := p.failures[result]; n > 0 {
			s += fmt.Sprintf("  %s: %d\n", result, n)
		}
	}
	return s
}

// resultOf maps an error from Session.Read back to a Result
func resultOf(err error) rct.Result {
	if err == nil {
		return rct.Success
	}
	var resultErr *rct.ResultError
	if errors.As(err, &resultErr) {
		return resultErr.Result
	}
	return rct.Aborted
}

func runProbe(cmd *cobra.Command, args []string) error {
	id, err := rct.ParseObjectID(probeObject)
	if err != nil {
		return err
	}
	if probeCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	dial, err := linkDialer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	sess := NewSession(dial, cfg.Tick, logger, false)
	connInfo, err := sess.Connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("rctstat - Link Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Object: %s (0x%08X)\n", rct.FormatObjectID(id), id)
	fmt.Printf("Timeout: %v per read\n", cfg.Timeout)
	fmt.Printf("Count: %d reads\n\n", probeCount)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	go sess.Run(ctx)

	summary := newProbeSummary()
	for i := 1; i <= probeCount && ctx.Err() == nil; i++ {
		fmt.Printf("Read %d/%d: ", i, probeCount)

		start := time.Now()
		value, err := sess.Read(ctx, id, cfg.Timeout)
		rtt := time.Since(start)
		result := resultOf(err)
		summary.record(rtt, result)

		switch {
		case err == nil:
			fmt.Printf("%s, rtt=%v\n", rct.FormatValue(id, value), rtt.Round(time.Microsecond))
		case result == rct.Timeout:
			fmt.Printf("TIMEOUT (no response in %v)\n", cfg.Timeout)
		default:
			fmt.Printf("FAILED: %v\n", err)
		}

		if i < probeCount {
			select {
			case <-ctx.Done():
			case <-time.After(probeInterval):
			}
		}
	}

	statsCtx, statsCancel := context.WithTimeout(context.Background(), time.Second)
	defer statsCancel()

	fmt.Printf("\n--- Probe statistics ---\n")
	fmt.Print(summary)
	if st, err := sess.Statistics(statsCtx); err == nil && st.StaleResponses > 0 {
		fmt.Printf("  late responses discarded: %d\n", st.StaleResponses)
	}

	if summary.received < summary.sent {
		os.Exit(1)
	}
	return nil
}
