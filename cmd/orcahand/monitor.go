package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/orcahand/pkg/hand"
)

type MonitorCommand struct{}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 3 // two legend rows + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Joint colors, warm thumb to cool pinky
var jointColors = map[hand.JointID]string{
	hand.ThumbMCP:  "196", // red
	hand.ThumbABD:  "202",
	hand.ThumbPIP:  "208", // orange
	hand.ThumbDIP:  "214",
	hand.IndexABD:  "226", // yellow
	hand.IndexMCP:  "190",
	hand.IndexPIP:  "46", // green
	hand.MiddleABD: "48",
	hand.MiddleMCP: "51", // cyan
	hand.MiddlePIP: "45",
	hand.RingABD:   "39", // blue
	hand.RingMCP:   "33",
	hand.RingPIP:   "99", // purple
	hand.PinkyABD:  "201", // magenta
	hand.PinkyMCP:  "207",
	hand.PinkyPIP:  "213",
	hand.Wrist:     "255", // white
}

var (
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type monitorModel struct {
	hand          *hand.Hand
	target        string
	chart         *streamlinechart.Model
	width         int      // terminal width
	height        int      // terminal height
	logs          []string // last N log messages
	quitting      bool
	lastPositions map[hand.JointID]float64 // previous positions to detect movement
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any joint position has changed since the last state
func (m *monitorModel) hasMovement(positions map[hand.JointID]float64) bool {
	if m.lastPositions == nil {
		return true // first reading, consider it movement
	}
	for name, pos := range positions {
		if lastPos, ok := m.lastPositions[name]; !ok || pos != lastPos {
			return true
		}
	}
	return false
}

// Messages from the hand
type stateMsg hand.State
type logMsg string
type warnMsg hand.OutOfRange

func waitForState(h *hand.Hand) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-h.States())
	}
}

func waitForLog(h *hand.Hand) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-h.Logs())
	}
}

func waitForWarn(h *hand.Hand) tea.Cmd {
	return func() tea.Msg {
		return warnMsg(<-h.Warnings())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *monitorModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialMonitorModel(h *hand.Hand, target string) monitorModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-60, 120),
	)

	// Set up data set styles for each joint
	for _, name := range hand.AllJoints() {
		color := jointColors[name]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(string(name), runes.ThinLineStyle, style)
	}

	return monitorModel{
		hand:   h,
		target: target,
		chart:  &chart,
	}
}

func (m monitorModel) Init() tea.Cmd {
	// Start listening for state, log and warning updates
	return tea.Batch(
		waitForState(m.hand),
		waitForLog(m.hand),
		waitForWarn(m.hand),
	)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "n":
			// Stages rest-pose targets; the control loop drives them.
			if err := m.hand.Neutral(context.Background()); err != nil {
				m.addLog("rest pose: " + err.Error())
			}
			return m, nil
		}

	case stateMsg:
		state := hand.State(msg)
		if state.Positions != nil {
			// Only update chart if there's movement (freeze when idle)
			if m.hasMovement(state.Positions) {
				for name, pos := range state.Positions {
					m.chart.PushDataSet(string(name), pos)
				}
				m.chart.DrawAll()
				m.lastPositions = state.Positions
			}
		}
		return m, waitForState(m.hand)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.hand)

	case warnMsg:
		w := hand.OutOfRange(msg)
		m.addLog(fmt.Sprintf("%s clipped from %.1f° to %.1f°", w.Joint, w.Requested, w.Clipped))
		return m, waitForWarn(m.hand)
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitor stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(headerStyle.Render("ORCA Hand Monitor"))
	sb.WriteString(" - " + m.target)
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit, 'n' for the rest pose")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

// renderLegend lists every joint in its chart color, thumb through
// pinky on the first row, wrist on the second.
func renderLegend() string {
	var rows []string
	var items []string
	for _, name := range hand.AllJoints() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[name])).Bold(true)
		item := colorStyle.Render("━━") + " " + string(name)
		if name == hand.Wrist {
			rows = append(rows, strings.Join(items, "  "))
			items = []string{item}
			continue
		}
		items = append(items, item)
	}
	rows = append(rows, strings.Join(items, "  "))
	return strings.Join(rows, "\n")
}

func (c *MonitorCommand) Execute(args []string) error {
	h, cfg, err := openHand()
	if err != nil {
		return err
	}
	defer h.Close()

	if !h.FullyCalibrated() {
		fmt.Println(dimStyle.Render("Not fully calibrated; positions use the full-range default"))
	}

	target := cfg.Port
	if opts.Fake {
		target = "fake hand"
	}

	// Start the control loop in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Control loop error: %v", err)
		}
	}()

	// Run TUI
	p := tea.NewProgram(initialMonitorModel(h, target), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	// Park calibrated joints at the rest pose before the loop shuts
	// down and releases torque.
	if err := h.Neutral(context.Background()); err == nil {
		time.Sleep(time.Second)
	}
	return nil
}
