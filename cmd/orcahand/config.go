package main

import (
	"fmt"
	"os"

	"github.com/gwillem/orcahand/pkg/hand"
)

type ConfigCommand struct {
	Force bool `long:"force" description:"Overwrite an existing file"`
}

func (c *ConfigCommand) Execute(args []string) error {
	if _, err := os.Stat(opts.Config); err == nil && !c.Force {
		fmt.Println(warnStyle.Render(opts.Config + " already exists; use --force to overwrite"))
		os.Exit(1)
	}

	if err := hand.DefaultConfig().SaveTo(opts.Config); err != nil {
		return err
	}
	fmt.Println(successStyle.Render("Wrote " + opts.Config))
	fmt.Println(dimStyle.Render("Edit the port and joint_to_motor_map, then run: orcahand scan"))
	return nil
}
