package planner

import (
	"os"
	"sync"

	"github.com/BurntSushi/toml"
)

// Constants fixed by the firmware this planner is modeled on. BlockBufferSize
// must stay a power of two: ring.go relies on bitmask index wraparound.
const (
	BlockBufferSize  = 16
	DropSegments     = 5
	MinPlannerSpeed  = 0.05 // mm/s
	MinStepRate      = 120  // steps/s
	defaultPollDelay = 1000 // microseconds, backpressure-wait poll interval

	// MaxExtruders bounds the per-extruder arrays below. The firmware this
	// is modeled on supports a handful of tool-changeable extruders, each
	// with its own steps-per-unit and retract acceleration.
	MaxExtruders = 4
)

// Config holds the kinematic configuration: steps-per-unit, feed and
// acceleration limits, jerk limits, and the handful of timing constants that
// shape the block builder's behavior. It is process-wide and mutated only
// through its setter methods, which take the guarding mutex.
type Config struct {
	mu sync.RWMutex

	AxisStepsPerUnit                [NumAxes]float64
	MaxFeedrate                     [NumAxes]float64
	MaxAccelerationUnitsPerSqSecond [NumAxes]float64
	Acceleration                    float64
	MaxXYJerk                       float64
	MaxZJerk                        float64
	MinimumFeedrate                 float64
	MinTravelFeedrate               float64
	MinSegmentTime                  float64 // microseconds
	JunctionDeviation               float64 // carried for config-surface parity; unused by the jerk-based junction math
	ExtrudeMultiplier               float64 // percent, 100 = unity

	// RetractAcceleration and MaxEJerk are per-extruder, matching
	// planner.cpp's genuine float retract_acceleration[EXTRUDERS] and
	// float max_e_jerk[EXTRUDERS]: each tool-changeable extruder can carry
	// its own retract acceleration and E-jerk limit.
	RetractAcceleration [MaxExtruders]float64
	MaxEJerk            [MaxExtruders]float64

	// ExtruderStepsPerUnit holds steps-per-unit for the E axis per active
	// extruder index (index 0 mirrors AxisStepsPerUnit[AxisE] by default).
	// A tool change to an extruder with a different value triggers the
	// position[E] rescale in builder.go.
	ExtruderStepsPerUnit [MaxExtruders]float64

	allowColdExtrudes bool
}

// stepsPerUnitForExtruder returns the E steps-per-unit for the given
// extruder index, falling back to AxisStepsPerUnit[AxisE] if the index is
// out of range or the per-extruder slot was never set.
func (c *Config) stepsPerUnitForExtruder(extruder int) float64 {
	if extruder < 0 || extruder >= MaxExtruders || c.ExtruderStepsPerUnit[extruder] == 0 {
		return c.AxisStepsPerUnit[AxisE]
	}
	return c.ExtruderStepsPerUnit[extruder]
}

func (c *Config) SetExtruderStepsPerUnit(extruder int, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if extruder >= 0 && extruder < MaxExtruders {
		c.ExtruderStepsPerUnit[extruder] = v
	}
}

func (c *Config) SetRetractAcceleration(extruder int, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if extruder >= 0 && extruder < MaxExtruders {
		c.RetractAcceleration[extruder] = v
	}
}

func (c *Config) SetMaxEJerk(extruder int, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if extruder >= 0 && extruder < MaxExtruders {
		c.MaxEJerk[extruder] = v
	}
}

// Default returns the configuration used throughout SPEC_FULL.md's
// end-to-end scenarios: 80 steps/mm on X/Y, 3000 mm/s^2 acceleration, 20 mm/s
// XY jerk.
func Default() *Config {
	c := &Config{
		AxisStepsPerUnit:                [NumAxes]float64{80, 80, 400, 100},
		MaxFeedrate:                     [NumAxes]float64{300, 300, 5, 45},
		MaxAccelerationUnitsPerSqSecond: [NumAxes]float64{9000, 9000, 100, 10000},
		Acceleration:                    3000,
		RetractAcceleration:             [MaxExtruders]float64{3000, 3000, 3000, 3000},
		MaxXYJerk:                       20,
		MaxZJerk:                        0.4,
		MaxEJerk:                        [MaxExtruders]float64{5, 5, 5, 5},
		MinimumFeedrate:                 0,
		MinTravelFeedrate:               0,
		MinSegmentTime:                  20000,
		JunctionDeviation:               0.02,
		ExtrudeMultiplier:               100,
		ExtruderStepsPerUnit:            [MaxExtruders]float64{100, 100, 100, 100},
		allowColdExtrudes:               false,
	}
	return c
}

type tomlConfig struct {
	AxisStepsPerUnit                [NumAxes]float64
	MaxFeedrate                     [NumAxes]float64
	MaxAccelerationUnitsPerSqSecond [NumAxes]float64
	Acceleration                    float64
	RetractAcceleration             [MaxExtruders]float64
	MaxXYJerk                       float64
	MaxZJerk                        float64
	MaxEJerk                        [MaxExtruders]float64
	MinimumFeedrate                 float64
	MinTravelFeedrate               float64
	MinSegmentTime                  float64
	JunctionDeviation               float64
	ExtrudeMultiplier               float64
	ExtruderStepsPerUnit            [MaxExtruders]float64
	AllowColdExtrudes               bool
}

// LoadTOML reads a kinematic configuration file on top of Default(): TOML
// decode fills only what is present, so any field the file omits keeps its
// default value.
func LoadTOML(path string) (*Config, error) {
	c := Default()
	if err := LoadTOMLInto(path, c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadTOMLInto decodes path into an existing Config under its write lock,
// leaving fields the file doesn't mention untouched.
func LoadTOMLInto(path string, c *Config) error {
	var t tomlConfig
	c.mu.RLock()
	t.AxisStepsPerUnit = c.AxisStepsPerUnit
	t.MaxFeedrate = c.MaxFeedrate
	t.MaxAccelerationUnitsPerSqSecond = c.MaxAccelerationUnitsPerSqSecond
	t.Acceleration = c.Acceleration
	t.RetractAcceleration = c.RetractAcceleration
	t.MaxXYJerk = c.MaxXYJerk
	t.MaxZJerk = c.MaxZJerk
	t.MaxEJerk = c.MaxEJerk
	t.MinimumFeedrate = c.MinimumFeedrate
	t.MinTravelFeedrate = c.MinTravelFeedrate
	t.MinSegmentTime = c.MinSegmentTime
	t.JunctionDeviation = c.JunctionDeviation
	t.ExtrudeMultiplier = c.ExtrudeMultiplier
	t.ExtruderStepsPerUnit = c.ExtruderStepsPerUnit
	t.AllowColdExtrudes = c.allowColdExtrudes
	c.mu.RUnlock()

	if _, err := toml.DecodeFile(path, &t); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.AxisStepsPerUnit = t.AxisStepsPerUnit
	c.MaxFeedrate = t.MaxFeedrate
	c.MaxAccelerationUnitsPerSqSecond = t.MaxAccelerationUnitsPerSqSecond
	c.Acceleration = t.Acceleration
	c.RetractAcceleration = t.RetractAcceleration
	c.MaxXYJerk = t.MaxXYJerk
	c.MaxZJerk = t.MaxZJerk
	c.MaxEJerk = t.MaxEJerk
	c.MinimumFeedrate = t.MinimumFeedrate
	c.MinTravelFeedrate = t.MinTravelFeedrate
	c.MinSegmentTime = t.MinSegmentTime
	c.JunctionDeviation = t.JunctionDeviation
	c.ExtrudeMultiplier = t.ExtrudeMultiplier
	c.ExtruderStepsPerUnit = t.ExtruderStepsPerUnit
	c.allowColdExtrudes = t.AllowColdExtrudes
	return nil
}

// SaveTOML persists the current configuration, round-tripping SET_VELOCITY_LIMIT-
// style runtime mutations back to disk.
func (c *Config) SaveTOML(path string) error {
	c.mu.RLock()
	t := tomlConfig{
		AxisStepsPerUnit:                c.AxisStepsPerUnit,
		MaxFeedrate:                     c.MaxFeedrate,
		MaxAccelerationUnitsPerSqSecond: c.MaxAccelerationUnitsPerSqSecond,
		Acceleration:                    c.Acceleration,
		RetractAcceleration:             c.RetractAcceleration,
		MaxXYJerk:                       c.MaxXYJerk,
		MaxZJerk:                        c.MaxZJerk,
		MaxEJerk:                        c.MaxEJerk,
		MinimumFeedrate:                 c.MinimumFeedrate,
		MinTravelFeedrate:               c.MinTravelFeedrate,
		MinSegmentTime:                  c.MinSegmentTime,
		JunctionDeviation:               c.JunctionDeviation,
		ExtrudeMultiplier:               c.ExtrudeMultiplier,
		ExtruderStepsPerUnit:            c.ExtruderStepsPerUnit,
		AllowColdExtrudes:               c.allowColdExtrudes,
	}
	c.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(t)
}

func (c *Config) SetAcceleration(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Acceleration = v
}

func (c *Config) SetMaxXYJerk(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MaxXYJerk = v
}

func (c *Config) SetMaxZJerk(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MaxZJerk = v
}

func (c *Config) SetMaxFeedrate(axis int, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.MaxFeedrate[axis] = v
}

func (c *Config) SetAxisStepsPerUnit(axis int, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AxisStepsPerUnit[axis] = v
}

func (c *Config) SetAllowColdExtrudes(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowColdExtrudes = v
}

func (c *Config) AllowColdExtrudes() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.allowColdExtrudes
}

// configSnapshot is a value copy of the fields the builder needs, taken under
// Config's read lock so a single BuildLine call sees a consistent
// configuration even if a concurrent setter runs mid-build. It deliberately
// excludes Config's mutex, which must never be copied.
type configSnapshot struct {
	AxisStepsPerUnit                [NumAxes]float64
	MaxFeedrate                     [NumAxes]float64
	MaxAccelerationUnitsPerSqSecond [NumAxes]float64
	Acceleration                    float64
	RetractAcceleration             [MaxExtruders]float64
	MaxXYJerk                       float64
	MaxZJerk                        float64
	MaxEJerk                        [MaxExtruders]float64
	MinimumFeedrate                 float64
	MinTravelFeedrate               float64
	MinSegmentTime                  float64
	ExtrudeMultiplier               float64
	ExtruderStepsPerUnit            [MaxExtruders]float64
}

func (c *Config) snapshot() configSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return configSnapshot{
		AxisStepsPerUnit:                c.AxisStepsPerUnit,
		MaxFeedrate:                     c.MaxFeedrate,
		MaxAccelerationUnitsPerSqSecond: c.MaxAccelerationUnitsPerSqSecond,
		Acceleration:                    c.Acceleration,
		RetractAcceleration:             c.RetractAcceleration,
		MaxXYJerk:                       c.MaxXYJerk,
		MaxZJerk:                        c.MaxZJerk,
		MaxEJerk:                        c.MaxEJerk,
		MinimumFeedrate:                 c.MinimumFeedrate,
		MinTravelFeedrate:               c.MinTravelFeedrate,
		ExtruderStepsPerUnit:            c.ExtruderStepsPerUnit,
		MinSegmentTime:                  c.MinSegmentTime,
		ExtrudeMultiplier:               c.ExtrudeMultiplier,
	}
}
