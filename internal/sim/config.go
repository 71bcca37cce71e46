package sim

import (
	"encoding/json"
	"fmt"
)

// Plant model discriminator values used in JSON configs.
const (
	BrakeForceModelName      = "brake_force"
	FrictionLimitedModelName = "friction_limited"
)

// BrakeForceConfig holds the physical constants of the brake-force plant.
// Speeds are in the same arbitrary unit the trend coefficient is expressed in.
type BrakeForceConfig struct {
	InitialSpeed      float64 `json:"initial_speed"`
	PowerCutThreshold float64 `json:"power_cut_threshold"` // brake level above which engine power is cut
	PowerCutRate      float64 `json:"power_cut_rate"`      // power factor decrement per tick while cutting
	PowerRecoverRate  float64 `json:"power_recover_rate"`  // power factor increment per tick while idle
	PowerFactorMin    float64 `json:"power_factor_min"`
	PowerFactorMax    float64 `json:"power_factor_max"`
}

// Validate checks the brake-force constants. Invalid configuration is rejected
// at construction rather than producing NaN mid-run.
func (c BrakeForceConfig) Validate() error {
	if c.InitialSpeed < 0 {
		return fmt.Errorf("initial_speed must be >= 0, got %g", c.InitialSpeed)
	}
	if c.PowerFactorMin < 0 || c.PowerFactorMax <= 0 || c.PowerFactorMin > c.PowerFactorMax {
		return fmt.Errorf("power factor band [%g, %g] is invalid", c.PowerFactorMin, c.PowerFactorMax)
	}
	if c.PowerCutRate < 0 || c.PowerRecoverRate < 0 {
		return fmt.Errorf("power cut/recover rates must be >= 0")
	}
	return nil
}

// FrictionConfig holds the physical constants of the friction-limited plant.
// SI units throughout: kg, m, kg·m², Nm, m/s.
type FrictionConfig struct {
	InitialSpeed float64 `json:"initial_speed"`
	MassKg       float64 `json:"mass_kg"`
	WheelRadiusM float64 `json:"wheel_radius_m"`
	WheelInertia float64 `json:"wheel_inertia"`
	TorqueMaxNm  float64 `json:"torque_max_nm"`
}

// Validate checks the friction-limited constants.
func (c FrictionConfig) Validate() error {
	if c.InitialSpeed < 0 {
		return fmt.Errorf("initial_speed must be >= 0, got %g", c.InitialSpeed)
	}
	if c.MassKg <= 0 {
		return fmt.Errorf("mass_kg must be > 0, got %g", c.MassKg)
	}
	if c.WheelRadiusM <= 0 {
		return fmt.Errorf("wheel_radius_m must be > 0, got %g", c.WheelRadiusM)
	}
	if c.WheelInertia <= 0 {
		return fmt.Errorf("wheel_inertia must be > 0, got %g", c.WheelInertia)
	}
	if c.TorqueMaxNm <= 0 {
		return fmt.Errorf("torque_max_nm must be > 0, got %g", c.TorqueMaxNm)
	}
	return nil
}

// PlantConfig selects and parameterizes a plant model. Exactly one of the
// model sections must be set, matching the Model discriminator.
type PlantConfig struct {
	Model      string            `json:"model"`
	BrakeForce *BrakeForceConfig `json:"brake_force,omitempty"`
	Friction   *FrictionConfig   `json:"friction_limited,omitempty"`
}

// plantConfigJSON is the raw JSON shape before the discriminator is resolved.
type plantConfigJSON struct {
	Model  string          `json:"model"`
	Params json.RawMessage `json:"params"`
}

// UnmarshalJSON accepts either the explicit two-section form or the compact
// {"model": ..., "params": {...}} form, where params is decoded into the
// implementation selected by the model discriminator.
func (c *PlantConfig) UnmarshalJSON(data []byte) error {
	type alias PlantConfig
	var full alias
	if err := json.Unmarshal(data, &full); err == nil && (full.BrakeForce != nil || full.Friction != nil) {
		*c = PlantConfig(full)
		return nil
	}

	var aux plantConfigJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Model = aux.Model
	if len(aux.Params) == 0 {
		return fmt.Errorf("plant config: missing params for model %q", aux.Model)
	}
	switch aux.Model {
	case BrakeForceModelName:
		var bc BrakeForceConfig
		if err := json.Unmarshal(aux.Params, &bc); err != nil {
			return fmt.Errorf("parsing brake_force params: %w", err)
		}
		c.BrakeForce = &bc
	case FrictionLimitedModelName:
		var fc FrictionConfig
		if err := json.Unmarshal(aux.Params, &fc); err != nil {
			return fmt.Errorf("parsing friction_limited params: %w", err)
		}
		c.Friction = &fc
	default:
		return fmt.Errorf("unknown plant model %q", aux.Model)
	}
	return nil
}

// Validate checks that the discriminator and the model section agree.
func (c PlantConfig) Validate() error {
	switch c.Model {
	case BrakeForceModelName:
		if c.BrakeForce == nil {
			return fmt.Errorf("plant model %q requires a brake_force section", c.Model)
		}
		return c.BrakeForce.Validate()
	case FrictionLimitedModelName:
		if c.Friction == nil {
			return fmt.Errorf("plant model %q requires a friction_limited section", c.Model)
		}
		return c.Friction.Validate()
	default:
		return fmt.Errorf("unknown plant model %q", c.Model)
	}
}

// ControllerConfig holds the PID gains and bounds. The output policy and the
// error sign convention are not configurable here: they are bound to the
// plant variant by NewLoop, since braking and throttling invert the actuator
// semantics.
type ControllerConfig struct {
	Kp float64 `json:"kp"`
	Ki float64 `json:"ki"`
	Kd float64 `json:"kd"`

	IntegralClamp float64 `json:"integral_clamp"` // symmetric anti-windup bound
	IntegralDecay float64 `json:"integral_decay"` // integral multiplier while the brake is idle
	MaxBrake      float64 `json:"max_brake"`      // brake command ceiling (brake mode only)
	StableBand    float64 `json:"stable_band"`    // |error| below this reports STABLE
}

// Validate checks the controller bounds.
func (c ControllerConfig) Validate() error {
	if c.IntegralClamp <= 0 {
		return fmt.Errorf("integral_clamp must be > 0, got %g", c.IntegralClamp)
	}
	if c.IntegralDecay < 0 || c.IntegralDecay > 1 {
		return fmt.Errorf("integral_decay must be in [0, 1], got %g", c.IntegralDecay)
	}
	if c.MaxBrake < 0 {
		return fmt.Errorf("max_brake must be >= 0, got %g", c.MaxBrake)
	}
	if c.StableBand < 0 {
		return fmt.Errorf("stable_band must be >= 0, got %g", c.StableBand)
	}
	return nil
}

// LoopConfig is the full construction-time configuration of a traction
// control loop.
type LoopConfig struct {
	Name       string           `json:"name"`
	DT         float64          `json:"dt"` // fixed timestep, seconds
	Plant      PlantConfig      `json:"plant"`
	Controller ControllerConfig `json:"controller"`

	// FaultThreshold latches the loop into the FAULTED state once slip
	// reaches it. Zero or negative disables the latch.
	FaultThreshold float64 `json:"fault_threshold"`

	// SlipWarnBand reports SLIPPING instead of STABLE/TRANSIENT when slip
	// exceeds target + band. Used by the friction-limited presets; zero
	// keeps the STABLE/TRANSIENT classification.
	SlipWarnBand float64 `json:"slip_warn_band"`

	TargetSlip     float64 `json:"target_slip"`
	Scenario       float64 `json:"scenario"`        // initial ground trend or friction coefficient
	DriverThrottle float64 `json:"driver_throttle"` // throttle mode only, 0..1
}

// Validate checks the loop configuration, including the nested plant and
// controller sections.
func (c LoopConfig) Validate() error {
	if c.DT <= 0 {
		return fmt.Errorf("dt must be > 0, got %g", c.DT)
	}
	if c.TargetSlip <= 0 || c.TargetSlip >= 1 {
		return fmt.Errorf("target_slip must be in (0, 1), got %g", c.TargetSlip)
	}
	if c.DriverThrottle < 0 || c.DriverThrottle > 1 {
		return fmt.Errorf("driver_throttle must be in [0, 1], got %g", c.DriverThrottle)
	}
	if err := c.Plant.Validate(); err != nil {
		return fmt.Errorf("plant: %w", err)
	}
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("controller: %w", err)
	}
	return nil
}

// Preset names for the three shipped tunings.
const (
	PresetBrake        = "brake"         // brake-force plant, aggressive gains, no fault latch
	PresetBrakeLatched = "brake-latched" // brake-force plant with the 0.80 fault latch
	PresetFriction     = "friction"      // friction-limited torque plant, throttle trim
)

// PresetNames lists the shipped loop presets.
func PresetNames() []string {
	return []string{PresetBrake, PresetBrakeLatched, PresetFriction}
}

// Preset returns one of the shipped loop configurations by name.
func Preset(name string) (LoopConfig, error) {
	switch name {
	case PresetBrake:
		return LoopConfig{
			Name: PresetBrake,
			DT:   1,
			Plant: PlantConfig{
				Model: BrakeForceModelName,
				BrakeForce: &BrakeForceConfig{
					InitialSpeed:      80.0,
					PowerCutThreshold: 10.0,
					PowerCutRate:      0.05,
					PowerRecoverRate:  0.005,
					PowerFactorMin:    0.2,
					PowerFactorMax:    1.0,
				},
			},
			Controller: ControllerConfig{
				Kp:            8.0,
				Ki:            32.0,
				Kd:            35.0,
				IntegralClamp: 100.0,
				IntegralDecay: 0.95,
				MaxBrake:      400.0,
				StableBand:    0.02,
			},
			TargetSlip: 0.20,
		}, nil
	case PresetBrakeLatched:
		return LoopConfig{
			Name: PresetBrakeLatched,
			DT:   2,
			Plant: PlantConfig{
				Model: BrakeForceModelName,
				BrakeForce: &BrakeForceConfig{
					InitialSpeed:      80.0,
					PowerCutThreshold: 5.0,
					PowerCutRate:      0.1,
					PowerRecoverRate:  0.005,
					PowerFactorMin:    0.2,
					PowerFactorMax:    1.0,
				},
			},
			Controller: ControllerConfig{
				Kp:            5.0,
				Ki:            5.0,
				Kd:            20.0,
				IntegralClamp: 50.0,
				IntegralDecay: 0.9,
				MaxBrake:      400.0,
				StableBand:    0.02,
			},
			FaultThreshold: 0.80,
			TargetSlip:     0.20,
		}, nil
	case PresetFriction:
		return LoopConfig{
			Name: PresetFriction,
			DT:   0.05,
			Plant: PlantConfig{
				Model: FrictionLimitedModelName,
				Friction: &FrictionConfig{
					InitialSpeed: 8.0,
					MassKg:       350,
					WheelRadiusM: 0.3,
					WheelInertia: 1.0,
					TorqueMaxNm:  600,
				},
			},
			Controller: ControllerConfig{
				Kp:            4.0,
				Ki:            0.1,
				Kd:            0.05,
				IntegralClamp: 100.0,
				IntegralDecay: 1.0, // throttle mode never decays
				StableBand:    0.02,
			},
			SlipWarnBand:   0.05,
			TargetSlip:     0.15,
			Scenario:       0.9,
			DriverThrottle: 0.95,
		}, nil
	default:
		return LoopConfig{}, fmt.Errorf("unknown preset %q", name)
	}
}
