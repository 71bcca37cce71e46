// Package sim implements the traction control simulation core: the wheel/
// vehicle plant models, the slip PID controller, and the loop that ties them
// together one fixed timestep at a time.
//
// Adding a new plant model requires only implementing Plant and registering
// it in the PlantConfig discriminator; the loop itself never needs to change.
package sim

import (
	"fmt"
	"math"
)

const (
	// minReferenceSpeed guards the slip division. Below it slip is reported
	// as exactly 0 rather than computed.
	minReferenceSpeed = 0.1

	// slipGripEpsilon is the wheel-over-vehicle speed margin above which the
	// friction-limited plant considers the wheel to be spinning.
	slipGripEpsilon = 0.1

	gravity = 9.81
)

// State is the kinematic state of one wheel/vehicle pair. WheelSpeed is the
// wheel's equivalent linear speed, so WheelSpeed >= VehicleSpeed holds
// whenever the wheel is driven.
type State struct {
	VehicleSpeed float64 `json:"vehicle_speed"`
	WheelSpeed   float64 `json:"wheel_speed"`
}

// Plant advances wheel/vehicle kinematics by one fixed timestep given an
// actuator command and the current ground coefficient. Implementations are
// purely sequential; a Plant instance is owned by exactly one loop.
type Plant interface {
	// Slip returns the normalized slip for the current state. Each model
	// defines its own reference speed and clamping policy.
	Slip() float64

	// Step applies the actuator command (brake force or throttle fraction,
	// per model) under the given ground coefficient and integrates one
	// timestep. It reports true when the step re-clamped the wheel to the
	// vehicle speed, i.e. traction was fully restored.
	Step(command, ground float64) (restored bool)

	// Coast integrates one timestep with all actuator authority cut, leaving
	// only the ground's natural trend. Used while the loop is fault-latched.
	Coast(ground float64)

	// Reset returns the plant to its initial speeds.
	Reset()

	// State returns the current kinematic state.
	State() State
}

// BrakeForcePlant models the wheel as a speed that integrates motor thrust
// minus brake force. The ground coefficient is a spin trend: the thrust the
// motor develops on that surface at full power.
//
// Slip here is diagnostic: it is referenced to vehicle speed and deliberately
// unclamped, so transients may push it negative or above 1.
type BrakeForcePlant struct {
	cfg BrakeForceConfig
	dt  float64

	vehicle     float64
	wheel       float64
	powerFactor float64
}

// NewBrakeForcePlant validates cfg and returns a plant at its initial state.
func NewBrakeForcePlant(cfg BrakeForceConfig, dt float64) (*BrakeForcePlant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &BrakeForcePlant{cfg: cfg, dt: dt}
	p.Reset()
	return p, nil
}

func (p *BrakeForcePlant) Slip() float64 {
	if p.vehicle <= minReferenceSpeed {
		return 0
	}
	return (p.wheel - p.vehicle) / p.vehicle
}

func (p *BrakeForcePlant) Step(brake, trend float64) bool {
	// Power-train assist: cut engine power while braking hard, recover it
	// slowly once the brake releases.
	if brake > p.cfg.PowerCutThreshold {
		p.powerFactor -= p.cfg.PowerCutRate
	} else {
		p.powerFactor += p.cfg.PowerRecoverRate
	}
	p.powerFactor = clamp(p.powerFactor, p.cfg.PowerFactorMin, p.cfg.PowerFactorMax)

	thrust := trend * p.powerFactor
	p.wheel += (thrust - brake) * p.dt

	// A wheel cannot rotate slower than the ground track speed.
	if p.wheel < p.vehicle {
		p.wheel = p.vehicle
		return true
	}
	return false
}

func (p *BrakeForcePlant) Coast(trend float64) {
	p.wheel += trend * p.dt
	if p.wheel < p.vehicle {
		p.wheel = p.vehicle
	}
}

func (p *BrakeForcePlant) Reset() {
	p.vehicle = p.cfg.InitialSpeed
	p.wheel = p.cfg.InitialSpeed
	p.powerFactor = p.cfg.PowerFactorMax
}

func (p *BrakeForcePlant) State() State {
	return State{VehicleSpeed: p.vehicle, WheelSpeed: p.wheel}
}

// PowerFactor exposes the current engine power fraction for display.
func (p *BrakeForcePlant) PowerFactor() float64 { return p.powerFactor }

// TractionPlant models torque transfer through a friction-limited contact
// patch. The ground coefficient is the friction coefficient μ. The ground can
// resist at most μ·m·g·r of torque: under grip it opposes exactly what the
// motor delivers (up to that bound), and once the wheel spins it opposes with
// the full bound. The reaction force is what accelerates the vehicle.
//
// Slip is referenced to wheel speed and clamped to [0, 1].
type TractionPlant struct {
	cfg FrictionConfig
	dt  float64

	vehicle float64
	wheel   float64
}

// NewTractionPlant validates cfg and returns a plant at its initial state.
func NewTractionPlant(cfg FrictionConfig, dt float64) (*TractionPlant, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &TractionPlant{cfg: cfg, dt: dt}
	p.Reset()
	return p, nil
}

func (p *TractionPlant) Slip() float64 {
	if p.wheel <= minReferenceSpeed {
		return 0
	}
	return clamp((p.wheel-p.vehicle)/p.wheel, 0, 1)
}

func (p *TractionPlant) Step(throttle, friction float64) bool {
	motorTorque := throttle * p.cfg.TorqueMaxNm
	groundMaxTorque := friction * p.cfg.MassKg * gravity * p.cfg.WheelRadiusM

	var resistive float64
	if p.wheel > p.vehicle+slipGripEpsilon {
		// Spinning: the ground opposes with its full friction bound.
		resistive = groundMaxTorque
	} else {
		// Static grip: the ground pushes back exactly as hard as the motor,
		// up to the friction bound.
		resistive = math.Min(motorTorque, groundMaxTorque)
	}

	tractionForce := resistive / p.cfg.WheelRadiusM
	vehicleAccel := tractionForce / p.cfg.MassKg
	wheelAccel := (motorTorque - resistive) / p.cfg.WheelInertia

	p.vehicle += vehicleAccel * p.dt
	p.wheel += wheelAccel * p.cfg.WheelRadiusM * p.dt

	if p.wheel < p.vehicle {
		p.wheel = p.vehicle
	}
	return false
}

func (p *TractionPlant) Coast(friction float64) {
	p.Step(0, friction)
}

func (p *TractionPlant) Reset() {
	p.vehicle = p.cfg.InitialSpeed
	p.wheel = p.cfg.InitialSpeed
}

func (p *TractionPlant) State() State {
	return State{VehicleSpeed: p.vehicle, WheelSpeed: p.wheel}
}

// newPlant builds the plant selected by cfg's model discriminator.
func newPlant(cfg PlantConfig, dt float64) (Plant, error) {
	switch cfg.Model {
	case BrakeForceModelName:
		if cfg.BrakeForce == nil {
			return nil, fmt.Errorf("plant model %q requires a brake_force section", cfg.Model)
		}
		return NewBrakeForcePlant(*cfg.BrakeForce, dt)
	case FrictionLimitedModelName:
		if cfg.Friction == nil {
			return nil, fmt.Errorf("plant model %q requires a friction_limited section", cfg.Model)
		}
		return NewTractionPlant(*cfg.Friction, dt)
	default:
		return nil, fmt.Errorf("unknown plant model %q", cfg.Model)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
