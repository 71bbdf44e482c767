package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/orcahand/pkg/hand"
)

type SetCommand struct {
	Hold float64 `long:"hold" default:"2" description:"Seconds to hold the position before releasing"`
	Args struct {
		Joint   string  `positional-arg-name:"joint" description:"Joint name, e.g. index_mcp"`
		Degrees float64 `positional-arg-name:"degrees"`
	} `positional-args:"yes" required:"yes"`
}

func (c *SetCommand) Execute(args []string) error {
	h, cfg, err := openHand()
	if err != nil {
		return err
	}
	defer h.Close()

	joint, err := cfg.ResolveJoint(c.Args.Joint)
	if err != nil {
		return err
	}
	if !h.IsCalibrated(joint) {
		fmt.Println(dimStyle.Render(string(joint) + " is not calibrated; no range limits apply"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	// First tick settles the hand at its rest pose. A loop that dies
	// during initialization never publishes a snapshot, so its error
	// has to win here.
	states := h.States()
	if err := awaitFirstState(states, runErr, 3*time.Second); err != nil {
		return err
	}

	fmt.Printf("Driving %s to %.1f°...\n", joint, c.Args.Degrees)
	if err := h.SetTarget(joint, c.Args.Degrees); err != nil {
		cancel()
		<-runErr
		return err
	}

	deadline := time.After(time.Duration(c.Hold * float64(time.Second)))
	var pos float64
	var seen bool
loop:
	for {
		select {
		case st := <-states:
			if p, ok := st.Positions[joint]; ok {
				pos, seen = p, true
			}
		case w := <-h.Warnings():
			fmt.Println(warnStyle.Render(fmt.Sprintf("  %s clipped from %.1f° to %.1f°", w.Joint, w.Requested, w.Clipped)))
		case <-deadline:
			break loop
		}
	}

	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if seen {
		fmt.Printf("%s settled at %s\n", joint, successStyle.Render(fmt.Sprintf("%.1f°", pos)))
	}
	return nil
}

// awaitFirstState blocks until the control loop publishes its first
// snapshot, the loop exits, or the deadline passes.
func awaitFirstState(states <-chan hand.State, runErr <-chan error, timeout time.Duration) error {
	select {
	case <-states:
		return nil
	case err := <-runErr:
		if err == nil {
			err = errors.New("control loop exited before its first tick")
		}
		return err
	case <-time.After(timeout):
		return errors.New("no telemetry from the hand; check power and wiring")
	}
}
