package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/orcahand/pkg/hand"
)

type ScanCommand struct {
	All bool `long:"all" description:"Probe the full servo address range, not just the configured motors"`
}

func (c *ScanCommand) Execute(args []string) error {
	if opts.Fake {
		return errors.New("scan probes real hardware; drop --fake")
	}
	cfg, err := loadModel()
	if err != nil {
		return err
	}
	jm, err := cfg.JointMap()
	if err != nil {
		return err
	}

	lo, hi := 1, 1
	for _, addr := range jm.Addresses() {
		if addr > hi {
			hi = addr
		}
	}
	if c.All {
		hi = feetech.MaxServoID
	}

	fmt.Println(headerStyle.Render("ORCA Hand Scan"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	ports := candidatePorts(cfg.Port)
	if len(ports) == 0 {
		fmt.Println("No serial ports found.")
		return nil
	}

	found := false
	for _, port := range ports {
		servos := probePort(port, cfg.Baudrate, lo, hi)
		if len(servos) == 0 {
			fmt.Println(dimStyle.Render("  " + port + ": no servos"))
			continue
		}
		found = true

		fmt.Printf("  %s: %d servo(s)\n\n", port, len(servos))
		fmt.Println(servoTable(jm, servos))

		missing := missingJoints(jm, servos)
		if len(missing) == 0 {
			fmt.Println(successStyle.Render(fmt.Sprintf("  Complete hand: all %d motors answered", len(jm.Addresses()))))
			if port != cfg.Port {
				if err := offerPortSave(cfg, port); err != nil {
					return err
				}
			}
		} else {
			fmt.Println(warnStyle.Render(fmt.Sprintf("  %d motor(s) missing: %s", len(missing), strings.Join(missing, ", "))))
		}
		fmt.Println()
	}

	if !found {
		fmt.Println()
		fmt.Println("No servos found on any port.")
		fmt.Println("Check power and wiring, or set the port in " + opts.Config + ".")
	}
	return nil
}

// offerPortSave writes a newly discovered port into the model file.
func offerPortSave(cfg *hand.Config, port string) error {
	var save bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Use %s as the hand's port?", port)).
				Description("Writes the port to " + opts.Config).
				Affirmative("Save").
				Negative("Keep " + cfg.Port).
				Value(&save),
		),
	)
	if err := form.Run(); err != nil || !save {
		return nil
	}
	cfg.Port = port
	if err := cfg.SaveTo(opts.Config); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("  Saved to " + opts.Config))
	return nil
}

// candidatePorts lists serial ports worth probing, with the configured
// port first.
func candidatePorts(configured string) []string {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		ports = nil
	}

	out := make([]string, 0, len(ports)+1)
	if configured != "" {
		out = append(out, configured)
	}
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		if port == configured {
			continue
		}
		out = append(out, port)
	}
	return out
}

func probePort(port string, baudrate, lo, hi int) []feetech.FoundServo {
	b, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudrate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	servos, err := b.Scan(ctx, lo, hi)
	if err != nil {
		return nil
	}
	return servos
}

func servoTable(jm *hand.JointMap, servos []feetech.FoundServo) string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableJointStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)

	rows := make([][]string, 0, len(servos))
	for _, s := range servos {
		joint := "-"
		if j, ok := jm.JointFor(s.ID); ok {
			joint = string(j)
		}
		model := fmt.Sprintf("#%d", s.ModelNumber)
		if s.Model != nil {
			model = s.Model.Name
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", s.ID),
			joint,
			model,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Address", "Joint", "Model").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if col == 1 {
				return tableJointStyle
			}
			return tableCellStyle
		})
	return t.Render()
}

// missingJoints names configured joints whose motors did not answer.
func missingJoints(jm *hand.JointMap, servos []feetech.FoundServo) []string {
	seen := make(map[int]bool, len(servos))
	for _, s := range servos {
		seen[s.ID] = true
	}

	var missing []string
	for _, j := range jm.Joints() {
		motor, _ := jm.MotorFor(j)
		if !seen[motor.Address] {
			missing = append(missing, string(j))
		}
	}
	return missing
}
