package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/orcahand/pkg/calib"
	"github.com/gwillem/orcahand/pkg/hand"
)

type CalibrateCommand struct {
	Yes bool `short:"y" long:"yes" description:"Skip the confirmation prompt"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	cfg, err := loadModel()
	if err != nil {
		return err
	}
	b, err := openBus(cfg)
	if err != nil {
		return err
	}
	h, err := hand.New(cfg, b)
	if err != nil {
		b.Close()
		return err
	}
	defer h.Close()
	jm, err := cfg.JointMap()
	if err != nil {
		return err
	}

	target := cfg.Port
	if opts.Fake {
		target = "fake hand"
	}

	fmt.Println(headerStyle.Render("ORCA Hand Calibration"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println()
	fmt.Printf("%s, %d joints, %d steps\n", target, len(jm.Joints()), len(cfg.Sequence()))
	fmt.Println()

	if !c.Yes && !opts.Fake {
		var confirmed bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Every joint will drive against its mechanical stops.").
					Description(fmt.Sprintf("Drive current is limited to %d mA. Keep clear of the hand.", cfg.EffectiveCalibCurrent())).
					Affirmative("Start").
					Negative("Abort").
					Value(&confirmed),
			),
		)
		if err := form.Run(); err != nil || !confirmed {
			fmt.Println("Calibration aborted.")
			return nil
		}
	}

	if err := h.BeginCalibration(); err != nil {
		return err
	}

	eng := calib.New(calib.FromHandConfig(cfg), b, jm, h.Store(), cfg.Sequence())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	p := tea.NewProgram(newCalibrateModel(eng, done))
	finalModel, err := p.Run()
	if err != nil {
		cancel()
		<-done
		return err
	}
	cm := finalModel.(calibrateModel)
	runErr := cm.err
	if !cm.finished { // quit mid-run
		cancel()
		runErr = <-done
	}

	if err := h.EndCalibration(context.Background()); err != nil {
		return err
	}
	fmt.Println()

	switch {
	case runErr == nil:
		if err := saveCalibration(h); err != nil {
			return err
		}
		settleAtNeutral(h)
		fmt.Println()
		fmt.Println(successStyle.Render("Calibration complete!"))
		fmt.Println("Try the rest pose with: " + headerStyle.Render("orcahand neutral"))

	case errors.Is(runErr, calib.ErrIncomplete) || errors.Is(runErr, context.Canceled):
		partial := h.Store().Calibration()
		if len(partial) == 0 {
			fmt.Println("Stopped before any joint was calibrated.")
			os.Exit(1)
		}
		fmt.Printf("Stopped with %d of %d joints calibrated.\n", len(partial), len(jm.Joints()))

		var keep bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Save the partial calibration?").
					Description("Calibrated joints stay usable; the rest keep the full-range default.").
					Affirmative("Save").
					Negative("Discard").
					Value(&keep),
			),
		)
		if err := form.Run(); err == nil && keep {
			if err := saveCalibration(h); err != nil {
				return err
			}
		}

	default:
		fmt.Fprintf(os.Stderr, "Calibration failed: %v\n", runErr)
		os.Exit(1)
	}
	return nil
}

func saveCalibration(h *hand.Hand) error {
	cal := h.Store().Calibration()
	if err := cal.SaveTo(opts.Calibration); err != nil {
		return err
	}
	fmt.Printf("Saved calibration for %d joints to %s\n", len(cal), opts.Calibration)
	return nil
}

// settleAtNeutral parks the hand at its rest pose and releases it.
func settleAtNeutral(h *hand.Hand) {
	fmt.Println("Settling at the rest pose...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.Neutral(ctx); err != nil {
		fmt.Println(warnStyle.Render("  rest pose failed: " + err.Error()))
		return
	}
	time.Sleep(2 * time.Second)
	if err := h.DisableTorque(ctx); err != nil {
		fmt.Println(warnStyle.Render("  release failed: " + err.Error()))
	}
}

// Calibration progress TUI

type calibrateModel struct {
	eng      *calib.Engine
	done     <-chan error
	event    calib.Event
	logs     []string
	finished bool
	err      error
	quitting bool
}

type calibEventMsg calib.Event
type calibLogMsg string
type calibDoneMsg struct{ err error }

const maxCalibLogs = 5

func newCalibrateModel(eng *calib.Engine, done <-chan error) calibrateModel {
	return calibrateModel{eng: eng, done: done}
}

func waitForCalibEvent(eng *calib.Engine) tea.Cmd {
	return func() tea.Msg {
		return calibEventMsg(<-eng.States())
	}
}

func waitForCalibLog(eng *calib.Engine) tea.Cmd {
	return func() tea.Msg {
		return calibLogMsg(<-eng.Logs())
	}
}

func waitForCalibDone(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return calibDoneMsg{err: <-done}
	}
}

func (m calibrateModel) Init() tea.Cmd {
	return tea.Batch(
		waitForCalibEvent(m.eng),
		waitForCalibLog(m.eng),
		waitForCalibDone(m.done),
	)
}

func (m calibrateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case calibEventMsg:
		m.event = calib.Event(msg)
		return m, waitForCalibEvent(m.eng)

	case calibLogMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > maxCalibLogs {
			m.logs = m.logs[len(m.logs)-maxCalibLogs:]
		}
		return m, waitForCalibLog(m.eng)

	case calibDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m calibrateModel) View() string {
	if m.quitting || m.finished {
		return ""
	}
	if m.event.State == "" {
		return dimStyle.Render("Starting calibration...") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Step %d/%d", m.event.Step+1, m.event.Steps))
	sb.WriteString(dimStyle.Render("  (q aborts and keeps recorded bounds)"))
	sb.WriteString("\n\n")

	if len(m.event.Joints) > 0 {
		sb.WriteString(calibJointTable(m.event.Joints))
		sb.WriteString("\n")
	}

	if len(m.logs) > 0 {
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render(strings.Join(m.logs, "\n")))
		sb.WriteString("\n")
	}
	return sb.String()
}

func calibJointTable(joints []calib.JointProgress) string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	seekingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	stabilizingStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Padding(0, 1)
	recordedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)

	rows := make([][]string, 0, len(joints))
	phases := make([]calib.Phase, 0, len(joints))
	for _, jp := range joints {
		phases = append(phases, jp.Phase)
		rows = append(rows, []string{
			string(jp.Joint),
			string(jp.Direction),
			string(jp.Phase),
			fmt.Sprintf("%d", jp.Position),
			fmt.Sprintf("%d", jp.Samples),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Direction", "Phase", "Position", "Samples").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 0 {
				return tableJointStyle
			}
			if col == 2 && row >= 0 && row < len(phases) {
				switch phases[row] {
				case calib.PhaseSeeking:
					return seekingStyle
				case calib.PhaseStabilizing:
					return stabilizingStyle
				case calib.PhaseRecorded:
					return recordedStyle
				}
			}
			return tableCellStyle
		})
	return t.Render()
}
