package main

import (
	"context"
	"fmt"
	"time"
)

type NeutralCommand struct {
	Hold float64 `long:"hold" default:"2" description:"Seconds to hold the pose before releasing"`
}

func (c *NeutralCommand) Execute(args []string) error {
	h, cfg, err := openHand()
	if err != nil {
		return err
	}
	defer h.Close()

	cal := h.Store().Calibration()
	if len(cal) == 0 {
		fmt.Println(warnStyle.Render("No calibrated joints; nothing to drive."))
		fmt.Println("Run " + headerStyle.Render("orcahand calibrate") + " first.")
		return nil
	}
	if !h.FullyCalibrated() {
		fmt.Println(dimStyle.Render(fmt.Sprintf("Partial calibration: only %d joints will move", len(cal))))
	}

	target := cfg.Port
	if opts.Fake {
		target = "fake hand"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("Driving %d joints on %s to the rest pose...\n", len(cal), target)
	if err := h.Neutral(ctx); err != nil {
		return err
	}
	time.Sleep(time.Duration(c.Hold * float64(time.Second)))

	if err := h.DisableTorque(ctx); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("Done, torque released."))
	return nil
}
