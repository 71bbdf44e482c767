// Package orcahand drives the ORCA robotic hand over a serial servo bus.
//
// The hand has 17 joints actuated by STS smart servos. This module finds
// each joint's mechanical range by driving it against its stops under a
// current limit, then exposes the hand as named joints positioned in
// degrees instead of raw encoder ticks.
//
// # Installation
//
//	go install github.com/gwillem/orcahand/cmd/orcahand@latest
//
// # Usage
//
// First, find the hand and calibrate it:
//
//	orcahand scan
//	orcahand calibrate
//
// Then drive joints by name:
//
//	orcahand set index_mcp 45
//	orcahand monitor
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/orcahand: CLI with scan, calibrate, neutral, set and monitor commands
//   - pkg/hand: Joint naming, calibration model, configuration and control loop
//   - pkg/bus: Serial servo bus and an in-memory fake for dry runs
//   - pkg/calib: Range-of-motion calibration engine
package orcahand
