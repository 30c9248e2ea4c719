// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/rctstat/pkg/rct"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type eventLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	connInfo  string
	interval  time.Duration
	ids       []uint32
	latest    map[uint32]Sample
	lastValid map[uint32]Sample

	table         table.Model
	stats         rct.Statistics
	hasStats      bool
	eventLog      []eventLogEntry
	maxLogEntries int

	connected bool
	width     int
	height    int
	quitting  bool
}

// Messages
type samplesMsg []Sample
type statsMsg rct.Statistics
type sessionEventMsg Event

func initialMonitorModel(connInfo string, ids []uint32, interval time.Duration) monitorModel {
	columns := []table.Column{
		{Title: "Object", Width: 36},
		{Title: "Value", Width: 16},
		{Title: "Result", Width: 22},
		{Title: "Updated", Width: 12},
	}

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, table.Row{rct.FormatObjectID(id), "-", "waiting", "-"})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(len(rows)+1),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	return monitorModel{
		connInfo:      connInfo,
		interval:      interval,
		ids:           ids,
		latest:        make(map[uint32]Sample),
		lastValid:     make(map[uint32]Sample),
		table:         t,
		maxLogEntries: 100,
		connected:     true,
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return nil
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case samplesMsg:
		for _, s := range msg {
			m.latest[s.ID] = s
			if s.OK() {
				m.lastValid[s.ID] = s
			} else {
				m.addLogEntry(fmt.Sprintf("%s: %s", s.Name, s.Result), true)
			}
		}
		m.table.SetRows(m.rows())

	case statsMsg:
		m.stats = rct.Statistics(msg)
		m.hasStats = true

	case sessionEventMsg:
		e := Event(msg)
		switch e.Kind {
		case EventConnected:
			m.connected = true
			m.connInfo = e.Info
		case EventDisconnected:
			m.connected = false
		}
		m.addLogEntry(e.String(), e.Kind == EventDisconnected)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// rows renders the latest sample per object. A failed read keeps showing
// the last good value next to the failure.
func (m monitorModel) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.ids))
	for _, id := range m.ids {
		s, ok := m.latest[id]
		if !ok {
			rows = append(rows, table.Row{rct.FormatObjectID(id), "-", "waiting", "-"})
			continue
		}

		value := "-"
		updated := "-"
		if good, ok := m.lastValid[id]; ok {
			value = rct.FormatValue(id, *good.Value)
			updated = time.UnixMilli(good.Time).Format("15:04:05")
		}
		rows = append(rows, table.Row{s.Name, value, s.Result, updated})
	}
	return rows
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, eventLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	infoStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var s strings.Builder
	s.WriteString(titleStyle.Render("RCTSTAT - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | Poll: %v | Press 'q' to quit", m.connInfo, m.interval)))
	s.WriteString("\n\n")

	if m.connected {
		s.WriteString(valueStyle.Render("✓ Connected"))
	} else {
		s.WriteString(errorStyle.Render("✗ Disconnected, reconnecting..."))
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.table.View()))
	s.WriteString("\n\n")

	// Statistics
	if m.hasStats {
		st := m.stats
		st.CalculateRates()

		var successPercent float64
		if st.RequestsSent > 0 {
			successPercent = float64(st.Responses) * 100.0 / float64(st.RequestsSent)
		}

		errorsStr := fmt.Sprintf("%d", st.Errors())
		if st.Errors() > 0 {
			errorsStr = errorStyle.Render(errorsStr)
		} else {
			errorsStr = valueStyle.Render(errorsStr)
		}

		var statsContent strings.Builder
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s   %s %s\n",
			labelStyle.Render("Requests:"), valueStyle.Render(fmt.Sprintf("%d", st.RequestsSent)),
			labelStyle.Render("Responses:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.Responses, successPercent)),
			labelStyle.Render("Errors:"), errorsStr,
		))
		if st.Errors() > 0 {
			statsContent.WriteString(fmt.Sprintf("%s %d   %s %d   %s %d   %s %d\n",
				headerStyle.Render("timeouts"), st.Timeouts,
				headerStyle.Render("crc"), st.CRCErrors,
				headerStyle.Render("desync"), st.DecodeErrors,
				headerStyle.Render("i/o"), st.SendFailures+st.ReceiveFailures,
			))
		}
		statsContent.WriteString(fmt.Sprintf("%s %s   %s %s",
			labelStyle.Render("Late:"), valueStyle.Render(fmt.Sprintf("%d", st.StaleResponses)),
			labelStyle.Render("Bytes:"), valueStyle.Render(fmt.Sprintf("%d", st.BytesReceived)),
		))

		s.WriteString(boxStyle.Render(statsContent.String()))
		s.WriteString("\n\n")
	}

	// Event log
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	logHeight := m.height - len(m.ids) - 18
	if logHeight < 3 {
		logHeight = 3
	}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	var logContent strings.Builder
	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for _, entry := range m.eventLog[startIdx:] {
			timestamp := entry.timestamp.Format("15:04:05.000")
			style, mark := infoStyle, "ℹ "
			if entry.isError {
				style, mark = errorStyle, "✗ "
			}
			logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), style.Render(mark+entry.message)))
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	return s.String()
}
