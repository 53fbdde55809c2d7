package gcode

import (
	"strings"
	"testing"

	"github.com/ac3d-labs/motionplan/planner"
)

func newTestPlanner() *planner.Planner {
	p := planner.New(planner.Default(), nil, planner.IdlePolicy{}, nil, nil)
	p.Init()
	return p
}

func TestApplyG1BuffersALine(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	if err := d.Apply("G1 X10 Y0 F3000"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.MovesPlanned() != 1 {
		t.Fatalf("MovesPlanned() = %d, want 1", p.MovesPlanned())
	}
	if d.x != 10 || d.feed != 50 {
		t.Errorf("driver state x=%v feed=%v, want 10/50", d.x, d.feed)
	}
}

func TestApplyG1RemembersUnspecifiedAxes(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	if err := d.Apply("G1 X10 F3000"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := d.Apply("G1 Y10"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.x != 10 || d.y != 10 {
		t.Errorf("x=%v y=%v, want 10/10 (X should carry over from the previous line)", d.x, d.y)
	}
}

func TestApplyG92SetsPositionWithoutQueueing(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	if err := d.Apply("G92 E0"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.MovesPlanned() != 0 {
		t.Fatalf("MovesPlanned() = %d, want 0: G92 doesn't enqueue a block", p.MovesPlanned())
	}
	if d.e != 0 {
		t.Errorf("e = %v, want 0", d.e)
	}
}

func TestApplyM204AndM205MutateConfig(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	if err := d.Apply("M204 S1500 R1800"); err != nil {
		t.Fatalf("Apply M204: %v", err)
	}
	cfg := p.Config()
	if cfg.Acceleration != 1500 {
		t.Errorf("Acceleration = %v, want 1500", cfg.Acceleration)
	}
	if cfg.RetractAcceleration[0] != 1800 {
		t.Errorf("RetractAcceleration[0] = %v, want 1800", cfg.RetractAcceleration[0])
	}

	if err := d.Apply("M205 X15 Z0.3 E3"); err != nil {
		t.Fatalf("Apply M205: %v", err)
	}
	cfg = p.Config()
	if cfg.MaxXYJerk != 15 || cfg.MaxZJerk != 0.3 || cfg.MaxEJerk[0] != 3 {
		t.Errorf("jerk = %v/%v/%v, want 15/0.3/3", cfg.MaxXYJerk, cfg.MaxZJerk, cfg.MaxEJerk[0])
	}

	// A tool change plus a second M205 E only mutates that extruder's slot.
	if err := d.Apply("T1"); err != nil {
		t.Fatalf("Apply T1: %v", err)
	}
	if err := d.Apply("M205 E4.5"); err != nil {
		t.Fatalf("Apply M205: %v", err)
	}
	cfg = p.Config()
	if cfg.MaxEJerk[1] != 4.5 || cfg.MaxEJerk[0] != 3 {
		t.Errorf("MaxEJerk = %v, want [0]=3 [1]=4.5", cfg.MaxEJerk)
	}
}

func TestApplyM203SetsMaxFeedrate(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	if err := d.Apply("M203 X300 Y300 Z5 E45"); err != nil {
		t.Fatalf("Apply M203: %v", err)
	}
	cfg := p.Config()
	if cfg.MaxFeedrate[planner.AxisX] != 300 || cfg.MaxFeedrate[planner.AxisY] != 300 ||
		cfg.MaxFeedrate[planner.AxisZ] != 5 || cfg.MaxFeedrate[planner.AxisE] != 45 {
		t.Errorf("MaxFeedrate = %v, want 300/300/5/45", cfg.MaxFeedrate)
	}
}

func TestApplyM106AndM107SetFanSpeed(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	if err := d.Apply("M106 S255"); err != nil {
		t.Fatalf("Apply M106: %v", err)
	}
	if err := d.Apply("G1 X10 F3000"); err != nil {
		t.Fatalf("Apply G1: %v", err)
	}
	b := p.Queue()
	blk, ok := b.ClaimNext()
	if !ok {
		t.Fatalf("ClaimNext: no block")
	}
	if blk.FanSpeed != 1 {
		t.Errorf("FanSpeed = %v, want 1", blk.FanSpeed)
	}
	b.Release(blk)

	if err := d.Apply("M107"); err != nil {
		t.Fatalf("Apply M107: %v", err)
	}
	if err := d.Apply("G1 X20 F3000"); err != nil {
		t.Fatalf("Apply G1: %v", err)
	}
	blk2, ok := b.ClaimNext()
	if !ok {
		t.Fatalf("ClaimNext: no second block")
	}
	if blk2.FanSpeed != 0 {
		t.Errorf("FanSpeed = %v, want 0 after M107", blk2.FanSpeed)
	}
}

func TestApplyToolChangeSwitchesExtruder(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	if err := d.Apply("T1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if d.extruder != 1 {
		t.Errorf("extruder = %d, want 1", d.extruder)
	}
}

func TestApplyRejectsUnsupportedCommand(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)
	if err := d.Apply("G28"); err == nil {
		t.Fatal("expected an error for an unsupported command")
	}
}

func TestRunSkipsBlankAndCommentLines(t *testing.T) {
	p := newTestPlanner()
	d := NewDriver(p)

	script := "; header comment\n\nG1 X10 F3000 ; move right\nG1 Y10\n"
	if err := d.Run(strings.NewReader(script)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.MovesPlanned() != 2 {
		t.Fatalf("MovesPlanned() = %d, want 2", p.MovesPlanned())
	}
}
