package winder

import (
	"encoding/json"
	"fmt"
	"time"

	"coilwinder/core"
	"coilwinder/planner"
	"coilwinder/spindle"
)

// Config is the per-run configuration surface
type Config struct {
	TotalTurns     int     `json:"total_turns"`
	SpoolWidthMM   float64 `json:"spool_width_mm"`
	BobbinLengthMM float64 `json:"bobbin_length_mm,omitempty"` // alias of spool_width_mm
	AWGSize        int     `json:"awg_size"`
	WireType       string  `json:"wire_type"`
	WireDiameterMM float64 `json:"wire_diameter_mm,omitempty"` // overrides the gauge table
	NumLayers      int     `json:"num_layers"`

	RampStartRPM      float64 `json:"ramp_start_rpm"`
	RampDurationS     float64 `json:"ramp_duration_s"`
	RampDownWires     int     `json:"ramp_down_wires"`
	RampEndRPM        float64 `json:"ramp_end_rpm"`
	RampDownDurationS float64 `json:"ramp_down_duration_s"`

	SlotsPerRev        int     `json:"slots_per_rev"`
	EncoderSlotsPerRev int     `json:"encoder_slots_per_rev,omitempty"` // alias of slots_per_rev
	LeadScrewPitchMM   float64 `json:"lead_screw_pitch_mm"`
	StepsPerRev        int     `json:"steps_per_rev"`
	MinStepDelayMS     float64 `json:"min_step_delay_ms"`

	MotorDutyStart         int     `json:"motor_duty_start"`
	SpeedControlIntervalMS int     `json:"speed_control_interval_ms"`
	SpeedControlKp         float64 `json:"speed_control_kp_duty_per_cpm"`

	HomeFirst bool `json:"home_first"`
}

// LoadConfig parses a JSON configuration, fills defaults and validates it
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultConfig returns a 2-layer magnet-wire job on a 10 mm bobbin
func DefaultConfig(awg int) *Config {
	config := &Config{AWGSize: awg}
	applyDefaults(config)
	return config
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *Config) {
	if config.SpoolWidthMM == 0 {
		config.SpoolWidthMM = config.BobbinLengthMM
	}
	if config.SpoolWidthMM == 0 {
		config.SpoolWidthMM = 10.0
	}
	if config.WireType == "" {
		config.WireType = planner.Magnet.String()
	}
	// Without a turn count the job is sized in whole layers
	if config.TotalTurns == 0 && config.NumLayers == 0 {
		config.NumLayers = 2
	}

	// Speed ramp
	if config.RampStartRPM == 0 {
		config.RampStartRPM = 5.0
	}
	if config.RampDurationS == 0 {
		config.RampDurationS = 3.0
	}
	if config.RampDownWires == 0 {
		config.RampDownWires = 3
	}
	if config.RampEndRPM == 0 {
		config.RampEndRPM = 5.0
	}
	if config.RampDownDurationS == 0 {
		config.RampDownDurationS = 2.0
	}

	// Machine constants
	if config.SlotsPerRev == 0 {
		config.SlotsPerRev = config.EncoderSlotsPerRev
	}
	if config.SlotsPerRev == 0 {
		config.SlotsPerRev = spindle.DefaultSlotsPerRev
	}
	if config.LeadScrewPitchMM == 0 {
		config.LeadScrewPitchMM = planner.DefaultLeadPitchMM
	}
	if config.StepsPerRev == 0 {
		config.StepsPerRev = planner.DefaultStepsPerRev
	}
	if config.MinStepDelayMS == 0 {
		config.MinStepDelayMS = 1.0
	}

	// Speed loop
	if config.MotorDutyStart == 0 {
		config.MotorDutyStart = spindle.DefaultStartDuty
	}
	if config.SpeedControlIntervalMS == 0 {
		config.SpeedControlIntervalMS = int(spindle.DefaultInterval / time.Millisecond)
	}
	if config.SpeedControlKp == 0 {
		config.SpeedControlKp = spindle.DefaultKp
	}
}

// Validate rejects a configuration before any motion. Geometry problems wrap
// core.ErrInvalidGeometry.
func (c *Config) Validate() error {
	if c.TotalTurns < 0 || c.NumLayers < 0 {
		return fmt.Errorf("%w: total_turns %d, num_layers %d", core.ErrInvalidGeometry, c.TotalTurns, c.NumLayers)
	}
	if c.TotalTurns == 0 && c.NumLayers == 0 {
		return fmt.Errorf("%w: total_turns or num_layers is required", core.ErrInvalidGeometry)
	}
	if c.SpoolWidthMM <= 0 || c.LeadScrewPitchMM <= 0 || c.StepsPerRev <= 0 || c.SlotsPerRev <= 0 {
		return fmt.Errorf("%w: spool %.3f mm, pitch %.3f mm, %d steps/rev, %d slots/rev",
			core.ErrInvalidGeometry, c.SpoolWidthMM, c.LeadScrewPitchMM, c.StepsPerRev, c.SlotsPerRev)
	}
	if _, err := c.WireDiameter(); err != nil {
		return err
	}
	if c.MinStepDelayMS <= 0 {
		return fmt.Errorf("min_step_delay_ms must be > 0")
	}
	if c.RampStartRPM <= 0 || c.RampEndRPM <= 0 || c.RampDurationS <= 0 || c.RampDownDurationS <= 0 || c.RampDownWires <= 0 {
		return fmt.Errorf("ramp parameters must be > 0")
	}
	if c.MotorDutyStart <= 0 || c.MotorDutyStart > int(core.MaxDuty) {
		return fmt.Errorf("motor_duty_start must be in 1..%d", core.MaxDuty)
	}
	if c.SpeedControlIntervalMS <= 0 {
		return fmt.Errorf("speed_control_interval_ms must be > 0")
	}
	if c.SpeedControlKp <= 0 {
		return fmt.Errorf("speed_control_kp_duty_per_cpm must be > 0")
	}
	return nil
}

// WireDiameter returns the explicit diameter or looks the gauge up
func (c *Config) WireDiameter() (float64, error) {
	if c.WireDiameterMM > 0 {
		return c.WireDiameterMM, nil
	}
	wire, err := planner.ParseWireType(c.WireType)
	if err != nil {
		return 0, err
	}
	return planner.Diameter(c.AWGSize, wire)
}

func (c *Config) Geometry() planner.Geometry {
	return planner.Geometry{StepsPerRev: c.StepsPerRev, LeadPitchMM: c.LeadScrewPitchMM}
}

func (c *Config) MinStepDelay() time.Duration {
	return time.Duration(c.MinStepDelayMS * float64(time.Millisecond))
}

// Plan builds the layer plan. Without total_turns it fills num_layers whole
// layers; with both set, num_layers caps the plan.
func (c *Config) Plan() (*planner.Plan, error) {
	d, err := c.WireDiameter()
	if err != nil {
		return nil, err
	}
	turns := c.TotalTurns
	if turns == 0 {
		if turns, err = planner.TurnsForLayers(c.NumLayers, c.SpoolWidthMM, d); err != nil {
			return nil, err
		}
	}
	p, err := planner.New(turns, c.SpoolWidthMM, d, c.Geometry())
	if err != nil {
		return nil, err
	}
	if c.NumLayers > 0 && len(p.Layers) > c.NumLayers {
		p.Layers = p.Layers[:c.NumLayers]
	}
	return p, nil
}

// Ramp converts the ramp fields
func (c *Config) Ramp() spindle.Ramp {
	return spindle.Ramp{
		StartRPM:     c.RampStartRPM,
		Duration:     seconds(c.RampDurationS),
		DownTurns:    float64(c.RampDownWires),
		EndRPM:       c.RampEndRPM,
		DownDuration: seconds(c.RampDownDurationS),
	}
}

// ControllerConfig converts the speed-loop fields. maxCPM caps the setpoint.
func (c *Config) ControllerConfig(maxCPM float64) spindle.ControllerConfig {
	cc := spindle.DefaultControllerConfig()
	cc.SlotsPerRev = c.SlotsPerRev
	cc.Interval = time.Duration(c.SpeedControlIntervalMS) * time.Millisecond
	cc.Kp = c.SpeedControlKp
	cc.StartDuty = core.PWMValue(c.MotorDutyStart)
	cc.MaxCPM = maxCPM
	return cc
}

// TargetCPM is the nominal spindle speed for the wire, capped at the speed
// the traversal can follow
func (c *Config) TargetCPM() (target, safe float64, err error) {
	d, err := c.WireDiameter()
	if err != nil {
		return 0, 0, err
	}
	_, safe, err = planner.MaxSpindleRPM(d, c.Geometry(), c.MinStepDelay())
	if err != nil {
		return 0, 0, err
	}
	scale := 1.0
	if c.WireDiameterMM == 0 {
		scale = spindle.GaugeScale(c.AWGSize)
	}
	target = spindle.TargetCPM(spindle.BaseCPM, spindle.ReferencePitchMM, d, scale)
	if target > safe {
		target = safe
	}
	return target, safe, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
