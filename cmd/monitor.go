// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	monitorInterval      time.Duration
	monitorStatsInterval time.Duration
	monitorFormat        string
	monitorTUI           bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [object...]",
	Short: "Continuously poll objects and display their values",
	Long: `Poll a list of objects at a fixed interval and display the latest values,
protocol statistics and connection events.

Objects default to the [monitor] section of the config file, or a built-in
list of battery and power flow values. The link is re-established with
exponential backoff when it is lost.

By default an interactive terminal UI is shown. Use --tui=false for text
output, which also supports --format json and cbor for recording.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "Poll interval (default from config, 5s)")
	monitorCmd.Flags().DurationVar(&monitorStatsInterval, "stats-interval", 60*time.Second, "Statistics print interval in text mode (0 disables)")
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", FormatText, "Output format in text mode (text, json, cbor)")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// poller reads a fixed object list on every interval
type poller struct {
	sess     *Session
	ids      []uint32
	interval time.Duration
	timeout  time.Duration
}

// run calls publish with each round of samples until ctx ends
func (p *poller) run(ctx context.Context, publish func([]Sample)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		samples := readAll(ctx, p.sess, p.ids, p.timeout)
		if ctx.Err() != nil {
			return
		}
		publish(samples)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = cfg.Monitor.Objects
	}
	if len(names) == 0 {
		return fmt.Errorf("no objects to monitor")
	}
	ids, err := parseObjects(names)
	if err != nil {
		return err
	}
	interval := cfg.Monitor.Interval
	if monitorInterval > 0 {
		interval = monitorInterval
	}

	dial, err := linkDialer(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	sess := NewSession(dial, cfg.Tick, logger, true)
	connInfo, err := sess.Connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()
	go sess.Run(ctx)

	p := &poller{sess: sess, ids: ids, interval: interval, timeout: cfg.Timeout}

	if monitorTUI {
		return runMonitorTUI(ctx, cancel, p, connInfo)
	}
	return runMonitorText(ctx, p, connInfo)
}

// runMonitorTUI runs the monitor in TUI mode
func runMonitorTUI(ctx context.Context, cancel context.CancelFunc, p *poller, connInfo string) error {
	m := initialMonitorModel(connInfo, p.ids, p.interval)
	prog := tea.NewProgram(m, tea.WithAltScreen())

	go p.run(ctx, func(samples []Sample) {
		prog.Send(samplesMsg(samples))
		if st, err := p.sess.Statistics(ctx); err == nil {
			prog.Send(statsMsg(st))
		}
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-p.sess.Events():
				prog.Send(sessionEventMsg(e))
			}
		}
	}()

	_, err := prog.Run()
	cancel()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runMonitorText runs the monitor in text mode
func runMonitorText(ctx context.Context, p *poller, connInfo string) error {
	out, err := NewSampleWriter(monitorFormat, os.Stdout)
	if err != nil {
		return err
	}

	// Banner and statistics only make sense between text lines
	text := monitorFormat == FormatText
	if text {
		fmt.Printf("rctstat - Monitor\n")
		fmt.Printf("Connection: %s\n", connInfo)
		fmt.Printf("Poll interval: %v\n", p.interval)
		fmt.Printf("Press Ctrl+C to exit\n\n")
	}

	rounds := make(chan []Sample, 1)
	go p.run(ctx, func(samples []Sample) {
		select {
		case rounds <- samples:
		case <-ctx.Done():
		}
	})

	var statsTick <-chan time.Time
	if text && monitorStatsInterval > 0 {
		ticker := time.NewTicker(monitorStatsInterval)
		defer ticker.Stop()
		statsTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case samples := <-rounds:
			if text {
				fmt.Printf("[%s]\n", time.Now().Format("15:04:05.000"))
			}
			for _, s := range samples {
				if err := out.Write(s); err != nil {
					return err
				}
			}
			if text {
				fmt.Println()
			}

		case e := <-p.sess.Events():
			logger.Info().Str("event", e.String()).Msg("session")
			if text {
				fmt.Printf("[%s] %s\n\n", e.Time.Format("15:04:05.000"), e)
			}

		case <-statsTick:
			st, err := p.sess.Statistics(ctx)
			if err != nil {
				continue
			}
			fmt.Print(st.String())
			fmt.Println()
		}
	}
}
