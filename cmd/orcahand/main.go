package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/jessevdk/go-flags"

	"github.com/gwillem/orcahand/pkg/bus"
	"github.com/gwillem/orcahand/pkg/hand"
)

type Options struct {
	Config      string `short:"c" long:"config" default:"orcahand.yaml" description:"Hand model file"`
	Calibration string `long:"calibration" default:"calibration.json" description:"Calibration file"`
	Fake        bool   `long:"fake" description:"Drive an in-memory hand instead of hardware"`

	Scan       ScanCommand      `command:"scan" description:"Find the hand on the serial bus"`
	Calibrate  CalibrateCommand `command:"calibrate" alias:"cal" description:"Discover every joint's range of motion"`
	Neutral    NeutralCommand   `command:"neutral" description:"Drive calibrated joints to their rest pose"`
	Set        SetCommand       `command:"set" description:"Drive one joint to a position in degrees"`
	Monitor    MonitorCommand   `command:"monitor" alias:"mon" description:"Live joint telemetry chart"`
	InitConfig ConfigCommand    `command:"config" description:"Write the default model file"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func main() {
	parser.LongDescription = "ORCA Hand - calibration and joint control for a 17-joint robotic hand"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadModel reads the model file, or falls back to the built-in
// right-hand defaults when the default path does not exist.
func loadModel() (*hand.Config, error) {
	cfg, err := hand.LoadConfig(opts.Config)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && opts.Config == hand.DefaultConfigFile {
		fmt.Println(dimStyle.Render("No " + hand.DefaultConfigFile + ", using built-in defaults"))
		return hand.DefaultConfig(), nil
	}
	return nil, err
}

// openBus connects the hand's motors, or builds the in-memory fake
// when --fake is given.
func openBus(cfg *hand.Config) (bus.Bus, error) {
	jm, err := cfg.JointMap()
	if err != nil {
		return nil, err
	}
	if opts.Fake {
		f := bus.NewFake(jm.Addresses()...)
		for _, addr := range jm.Addresses() {
			s := f.Servo(addr)
			// Narrow travel keeps a dry-run calibration short, and a
			// little wobble keeps the monitor honest.
			s.StopLow, s.StopHigh = 1900, 2200
			s.Jitter = 2
		}
		return f, nil
	}
	return bus.NewFeetech(bus.FeetechConfig{
		Port:      cfg.Port,
		Baudrate:  cfg.Baudrate,
		Timeout:   cfg.Timeout(),
		Addresses: jm.Addresses(),
	})
}

// openHand builds a hand over the configured bus and seeds it from the
// calibration file when one exists.
func openHand() (*hand.Hand, *hand.Config, error) {
	cfg, err := loadModel()
	if err != nil {
		return nil, nil, err
	}
	b, err := openBus(cfg)
	if err != nil {
		return nil, nil, err
	}
	h, err := hand.New(cfg, b)
	if err != nil {
		b.Close()
		return nil, nil, err
	}

	if cal, err := hand.LoadCalibration(opts.Calibration); err == nil {
		if err := h.ImportCalibration(cal); err != nil {
			h.Close()
			return nil, nil, fmt.Errorf("calibration file %s: %w", opts.Calibration, err)
		}
		fmt.Printf("Loaded calibration for %d joints from %s\n", len(cal), opts.Calibration)
	} else if !errors.Is(err, os.ErrNotExist) {
		h.Close()
		return nil, nil, err
	}
	return h, cfg, nil
}
