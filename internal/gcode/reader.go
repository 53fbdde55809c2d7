// Package gcode is a minimal line-command front end: it reads
// newline-delimited G1/G92/M204-style lines and drives a planner.Planner
// through its external interface. It is a harness for exercising the
// planner end to end, not the full G-code parser/dispatcher SPEC_FULL.md
// excludes from scope (section 1).
package gcode

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ac3d-labs/motionplan/planner"
)

// Driver tracks the position/feed state a line-oriented command stream
// needs between lines (an X/Y/Z/E/F command updates only the axes it
// names), and applies each parsed command to a planner.Planner.
type Driver struct {
	p *planner.Planner

	x, y, z, e float64
	feed       float64
	extruder   int
}

// NewDriver builds a Driver over p, with all axes starting at zero and a
// default feed rate.
func NewDriver(p *planner.Planner) *Driver {
	return &Driver{p: p, feed: 1500.0 / 60.0}
}

// Run reads newline-delimited commands from r until EOF, applying each one.
// Blank lines and lines starting with ';' are ignored.
func (d *Driver) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if semi := strings.IndexByte(line, ';'); semi >= 0 {
			line = strings.TrimSpace(line[:semi])
		}
		if line == "" {
			continue
		}
		if err := d.Apply(line); err != nil {
			return fmt.Errorf("gcode: %q: %w", line, err)
		}
	}
	return scanner.Err()
}

// Apply parses and executes a single command line.
func (d *Driver) Apply(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd := strings.ToUpper(fields[0])

	params := map[byte]float64{}
	for _, tok := range fields[1:] {
		if len(tok) < 2 {
			continue
		}
		letter := tok[0] & 0xDF // uppercase ASCII letters
		v, err := strconv.ParseFloat(tok[1:], 64)
		if err != nil {
			return fmt.Errorf("bad parameter %q: %w", tok, err)
		}
		params[letter] = v
	}

	switch cmd {
	case "G0", "G1":
		if v, ok := params['X']; ok {
			d.x = v
		}
		if v, ok := params['Y']; ok {
			d.y = v
		}
		if v, ok := params['Z']; ok {
			d.z = v
		}
		if v, ok := params['E']; ok {
			d.e = v
		}
		if v, ok := params['F']; ok {
			d.feed = v / 60.0 // mm/min -> mm/s
		}
		d.p.BufferLine(d.x, d.y, d.z, d.e, d.feed, d.extruder)

	case "G92":
		if v, ok := params['X']; ok {
			d.x = v
		}
		if v, ok := params['Y']; ok {
			d.y = v
		}
		if v, ok := params['Z']; ok {
			d.z = v
		}
		if v, ok := params['E']; ok {
			d.e = v
		}
		d.p.SetPosition(d.x, d.y, d.z, d.e)

	case "M203":
		if v, ok := params['X']; ok {
			d.p.Config().SetMaxFeedrate(planner.AxisX, v)
		}
		if v, ok := params['Y']; ok {
			d.p.Config().SetMaxFeedrate(planner.AxisY, v)
		}
		if v, ok := params['Z']; ok {
			d.p.Config().SetMaxFeedrate(planner.AxisZ, v)
		}
		if v, ok := params['E']; ok {
			d.p.Config().SetMaxFeedrate(planner.AxisE, v)
		}

	case "M204":
		if v, ok := params['S']; ok {
			d.p.SetAcceleration(v)
		}
		if v, ok := params['R']; ok {
			d.p.SetRetractAcceleration(d.extruder, v)
		}

	case "M205":
		if v, ok := params['X']; ok {
			d.p.SetMaxXYJerk(v)
		}
		if v, ok := params['Z']; ok {
			d.p.SetMaxZJerk(v)
		}
		if v, ok := params['E']; ok {
			d.p.SetMaxEJerk(d.extruder, v)
		}

	case "M106":
		speed := 1.0
		if v, ok := params['S']; ok {
			speed = v / 255.0
		}
		d.p.SetFanSpeed(d.extruder, speed)

	case "M107":
		d.p.SetFanSpeed(d.extruder, 0)

	case "T0", "T1":
		d.extruder = int(cmd[1] - '0')

	default:
		return fmt.Errorf("unsupported command %q", cmd)
	}
	return nil
}
