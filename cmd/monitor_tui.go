// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/benchtop/pkg/instrument"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxReadings     = 8
	commandDeadline = 30 * time.Second
)

// Focus states
const (
	focusInstrumentList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// Error log entry
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for warnings
}

// instrumentItem is one row of the instrument list
type instrumentItem struct {
	name    string
	model   string
	address int
	status  string
}

// Implement list.Item interface
func (i instrumentItem) Title() string { return i.name }
func (i instrumentItem) Description() string {
	if i.status == "" {
		return fmt.Sprintf("%s @ %d", i.model, i.address)
	}
	return fmt.Sprintf("%s @ %d  %s", i.model, i.address, i.status)
}
func (i instrumentItem) FilterValue() string { return i.name }

// instrumentView is what the monitor knows about one instrument
type instrumentView struct {
	settings  string
	status    instrument.Status
	hasStatus bool
	details   []string
	readings  []errorLogEntry
	stats     instrument.Statistics
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	sess     *session
	connInfo string

	// Instrument tracking
	stations []station
	list     list.Model
	views    map[string]*instrumentView

	errorLog      []errorLogEntry
	maxLogEntries int

	// Command line
	input        textinput.Model
	focusedField int

	// UI state
	width          int
	height         int
	startTime      time.Time
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type eventBatchMsg struct {
	events []event
}

type commandResultMsg struct {
	instrument string
	line       string
	result     instrument.Result
	err        error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(s *session) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "FUNC DCV"
	ti.Prompt = "> "
	ti.CharLimit = 120
	ti.Width = 50

	items := make([]list.Item, 0, len(s.stations))
	views := make(map[string]*instrumentView, len(s.stations))
	for _, st := range s.stations {
		items = append(items, instrumentItem{name: st.Name(), model: st.Model(), address: st.Address()})
		views[st.Name()] = &instrumentView{stats: st.Statistics()}
	}

	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	instrumentList := list.New(items, delegate, 30, 10)
	instrumentList.Title = "Instruments"
	instrumentList.SetShowStatusBar(false)
	instrumentList.SetShowHelp(false)
	instrumentList.SetFilteringEnabled(false)

	return monitorModel{
		sess:          s,
		connInfo:      s.connInfo,
		stations:      s.stations,
		list:          instrumentList,
		views:         views,
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		input:         ti,
		focusedField:  focusInstrumentList,
		width:         80,
		height:        24,
		startTime:     time.Now(),
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateListSize()

	case monitorTickMsg:
		for _, st := range m.stations {
			stats := st.Statistics()
			stats.CalculateRates()
			m.views[st.Name()].stats = stats
		}
		return m, monitorTickCmd()

	case eventBatchMsg:
		for _, ev := range msg.events {
			m.processEvent(ev)
		}

	case commandResultMsg:
		m.processResult(msg)
	}

	var cmd tea.Cmd
	if m.focusedField == focusInstrumentList {
		m.list, cmd = m.list.Update(msg)
		cmds = append(cmds, cmd)
	} else {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusInstrumentList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		m.toggleFocus()
		return m, nil

	case "enter":
		if m.focusedField == focusCommandInput {
			return m.handleEnter()
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusInstrumentList {
		m.list, cmd = m.list.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m *monitorModel) toggleFocus() {
	if m.focusedField == focusInstrumentList {
		m.focusedField = focusCommandInput
		m.input.Focus()
		return
	}
	m.focusedField = focusInstrumentList
	m.input.Blur()
}

func (m monitorModel) handleEnter() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}
	st := m.selectedStation()
	if st == nil {
		return m, nil
	}

	m.input.SetValue("")
	m.addLogEntry(fmt.Sprintf("%s: %s", st.Name(), line), false)
	return m, execLineCmd(st, line)
}

// execLineCmd runs one command line off the UI goroutine
func execLineCmd(st station, line string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandDeadline)
		defer cancel()
		res, err := st.Exec(ctx, line)
		return commandResultMsg{instrument: st.Name(), line: line, result: res, err: err}
	}
}

func (m *monitorModel) selectedStation() station {
	idx := m.list.Index()
	if idx < 0 || idx >= len(m.stations) {
		return nil
	}
	return m.stations[idx]
}

func (m *monitorModel) updateListSize() {
	h := m.height - 20
	if h < 6 {
		h = 6
	}
	m.list.SetSize(30, h)
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) processEvent(ev event) {
	view := m.views[ev.instrument]

	switch ev.kind {
	case eventSettings:
		if view == nil {
			return
		}
		view.settings = ev.text
		if showAll {
			m.addLogEntry(fmt.Sprintf("%s settings: %s", ev.instrument, ev.text), false)
		}

	case eventStatus:
		if view == nil {
			return
		}
		view.status = ev.status
		view.hasStatus = true
		view.details = nil
		if st, ok := m.sess.station(ev.instrument); ok {
			view.details = st.DescribeStatus(ev.status)
		}
		m.setItemStatus(ev.instrument, ev.status.String())
		if ev.isError {
			m.addLogEntry(fmt.Sprintf("%s status %s", ev.instrument, ev.text), true)
			for _, d := range view.details {
				m.addLogEntry(fmt.Sprintf("%s: %s", ev.instrument, d), true)
			}
		} else if showAll {
			m.addLogEntry(fmt.Sprintf("%s status %s", ev.instrument, ev.text), false)
		}

	case eventReading:
		if view == nil {
			return
		}
		view.readings = append(view.readings, errorLogEntry{timestamp: ev.time, message: ev.text, isError: ev.isError})
		if len(view.readings) > maxReadings {
			view.readings = view.readings[len(view.readings)-maxReadings:]
		}

	case eventConnection:
		if ev.instrument == "" {
			m.connectionLost = ev.isError
			if !ev.isError {
				m.connInfo = strings.TrimPrefix(ev.text, "Reconnected: ")
			}
			m.addLogEntry(ev.text, ev.isError)
			return
		}
		m.addLogEntry(fmt.Sprintf("%s: %s", ev.instrument, ev.text), ev.isError)
	}
}

func (m *monitorModel) processResult(msg commandResultMsg) {
	if msg.err != nil {
		m.addLogEntry(fmt.Sprintf("%s: %s failed: %v", msg.instrument, msg.line, msg.err), true)
		return
	}
	switch {
	case msg.result.Value != nil:
		m.addLogEntry(fmt.Sprintf("%s: %s = %v", msg.instrument, msg.line, msg.result.Value), false)
	case len(msg.result.Replies) > 0:
		replies := make([]string, len(msg.result.Replies))
		for i, r := range msg.result.Replies {
			replies[i] = strings.TrimSpace(string(r))
		}
		m.addLogEntry(fmt.Sprintf("%s: %s -> %s", msg.instrument, msg.line, strings.Join(replies, " | ")), false)
	default:
		m.addLogEntry(fmt.Sprintf("%s: %s ok", msg.instrument, msg.line), false)
	}
}

func (m *monitorModel) setItemStatus(name, status string) {
	for i, it := range m.list.Items() {
		item, ok := it.(instrumentItem)
		if !ok || item.name != name {
			continue
		}
		item.status = status
		m.list.SetItem(i, item)
		return
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.errorLog = append(m.errorLog, entry)

	// Keep only last N entries
	if len(m.errorLog) > m.maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	statsLabelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	statsValueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("BENCHTOP MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch", connStatus)))
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf(" %s %s\n\n",
		statsLabelStyle.Render("Uptime:"),
		statsValueStyle.Render(formatUptime(uint64(time.Since(m.startTime).Milliseconds())))))

	// Layout: left panel (instruments) | right panel (selected instrument)
	leftWidth := 30
	rightWidth := m.width - leftWidth - 6

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusInstrumentList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	listPanel := listStyle.Render(m.list.View())
	detailPanel := boxStyle.Width(rightWidth).Render(m.renderDetail(statsLabelStyle, statsValueStyle, errorStyle, headerStyle))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, listPanel, " ", detailPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(statsLabelStyle, warningStyle, boxStyle))
	s.WriteString("\n")

	inputStyle := boxStyle.Width(m.width - 4)
	if m.focusedField == focusCommandInput {
		inputStyle = focusedBoxStyle.Width(m.width - 4)
	}
	s.WriteString(inputStyle.Render(m.input.View()))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderDetail(statsLabelStyle, statsValueStyle, errorStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	st := m.selectedStation()
	if st == nil {
		s.WriteString(headerStyle.Render("No instrument selected"))
		return s.String()
	}
	view := m.views[st.Name()]

	s.WriteString(fmt.Sprintf("%s %s (%s @ %d)\n", statsLabelStyle.Render("Selected:"), st.Name(), st.Model(), st.Address()))

	settings := view.settings
	if settings == "" {
		settings = headerStyle.Render("(unknown)")
	} else {
		settings = statsValueStyle.Render(settings)
	}
	s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Settings:"), settings))

	if view.hasStatus {
		status := statsValueStyle.Render(view.status.String())
		if view.status.Error {
			status = errorStyle.Render(view.status.String())
		}
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Status:"), status))
		for _, d := range view.details {
			s.WriteString(fmt.Sprintf("  %s\n", errorStyle.Render(d)))
		}
	} else {
		s.WriteString(fmt.Sprintf("%s %s\n", statsLabelStyle.Render("Status:"), headerStyle.Render("(not polled)")))
	}

	s.WriteString("\n")
	s.WriteString(statsLabelStyle.Render("READINGS"))
	s.WriteString("\n")
	if len(view.readings) == 0 {
		s.WriteString(headerStyle.Render("  (no readings yet)"))
		return s.String()
	}
	for _, r := range view.readings {
		text := statsValueStyle.Render(r.message)
		if r.isError {
			text = errorStyle.Render(r.message)
		}
		s.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(r.timestamp.Format("15:04:05.000")), text))
	}

	return s.String()
}

func (m monitorModel) renderStatisticsBar(statsLabelStyle, statsValueStyle, errorStyle, boxStyle lipgloss.Style) string {
	st := m.selectedStation()
	if st == nil {
		return boxStyle.Width(m.width - 4).Render("")
	}
	stats := m.views[st.Name()].stats

	var okPercent, errorPercent float64
	if stats.Transactions > 0 {
		okPercent = float64(stats.Succeeded) * 100.0 / float64(stats.Transactions)
		errorPercent = float64(stats.Errors()) * 100.0 / float64(stats.Transactions)
	}

	errors := statsValueStyle.Render("0.0%")
	if errorPercent > 0 {
		errors = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}
	dropped := statsValueStyle.Render(fmt.Sprintf("%d", stats.DroppedNotifications))
	if stats.DroppedNotifications > 0 {
		dropped = errorStyle.Render(fmt.Sprintf("%d", stats.DroppedNotifications))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s  %s %s",
		statsLabelStyle.Render("Total:"), statsValueStyle.Render(fmt.Sprintf("%d", stats.Transactions)),
		statsLabelStyle.Render("OK:"), statsValueStyle.Render(fmt.Sprintf("%.1f%%", okPercent)),
		statsLabelStyle.Render("Errors:"), errors,
		statsLabelStyle.Render("Rate:"), statsValueStyle.Render(fmt.Sprintf("%.2f cmd/s", stats.TransactionRate)),
		statsLabelStyle.Render("Readings:"), statsValueStyle.Render(fmt.Sprintf("%d (%.2f/s)", stats.Readings, stats.ReadingRate)),
		statsLabelStyle.Render("Dropped:"), dropped,
	)

	return boxStyle.Width(m.width - 4).Render(content)
}

func (m monitorModel) renderEventLog(statsLabelStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(statsLabelStyle.Render("EVENTS"))
	s.WriteString("\n")

	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyleLocal := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyleLocal
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

// formatUptime formats uptime in milliseconds to human-friendly string
func formatUptime(ms uint64) string {
	if ms == 0 {
		return "0 seconds"
	}

	seconds := ms / 1000
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	add := func(n uint64, unit string) {
		if n == 1 {
			parts = append(parts, "1 "+unit)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, unit))
		}
	}
	if days > 0 {
		add(days, "day")
	}
	if hours > 0 {
		add(hours, "hour")
	}
	if minutes > 0 {
		add(minutes, "minute")
	}
	if seconds > 0 || len(parts) == 0 {
		add(seconds, "second")
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
