package sim

import "math"

// controlMode fixes the actuator semantics of a SlipController. It is derived
// from the plant variant at construction: braking and throttling invert both
// the error sign and the output policy.
type controlMode int

const (
	// modeBrake: positive error means too much slip, the output is a brake
	// force in [0, MaxBrake]. While the raw output is non-driving the
	// integral decays to avoid wind-up.
	modeBrake controlMode = iota

	// modeThrottle: positive error means slip is under target, the output is
	// a throttle fraction that may only trim the driver's request downward.
	modeThrottle
)

// Output is the result of one controller update.
type Output struct {
	Command float64 // brake force or throttle fraction, per mode
	Error   float64
	Status  Status
}

// SlipController is a PID controller over slip error with integral clamping
// and an output policy bound to the plant's actuator semantics.
type SlipController struct {
	cfg  ControllerConfig
	dt   float64
	mode controlMode

	integral  float64
	prevError float64
}

// NewSlipController validates cfg and returns a zeroed controller.
func NewSlipController(cfg ControllerConfig, dt float64, mode controlMode) (*SlipController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlipController{cfg: cfg, dt: dt, mode: mode}, nil
}

// Update advances the controller by one tick. While fault is set the output
// is forced to zero and no internal state is touched, so clearing the fault
// resumes from the pre-fault state.
func (c *SlipController) Update(slip, target, driverThrottle float64, fault bool) Output {
	if fault {
		return Output{Command: 0, Status: StatusFault}
	}

	var err float64
	switch c.mode {
	case modeBrake:
		err = slip - target
	case modeThrottle:
		err = target - slip
	}

	c.integral = clamp(c.integral+err*c.dt, -c.cfg.IntegralClamp, c.cfg.IntegralClamp)
	derivative := (err - c.prevError) / c.dt
	raw := c.cfg.Kp*err + c.cfg.Ki*c.integral + c.cfg.Kd*derivative
	c.prevError = err

	var cmd float64
	switch c.mode {
	case modeBrake:
		if raw > 0 {
			cmd = math.Min(raw, c.cfg.MaxBrake)
		} else {
			// Non-driving: relax the integral so it does not stay pinned
			// once braking resumes.
			cmd = 0
			c.integral *= c.cfg.IntegralDecay
		}
	case modeThrottle:
		// The controller may only reduce throttle below the driver's
		// request, never add power.
		cmd = clamp(driverThrottle+raw, 0, driverThrottle)
	}

	status := StatusTransient
	if math.Abs(err) < c.cfg.StableBand {
		status = StatusStable
	}
	return Output{Command: cmd, Error: err, Status: status}
}

// Reset zeroes the integral and derivative memory.
func (c *SlipController) Reset() {
	c.integral = 0
	c.prevError = 0
}

// ResetIntegral clears only the accumulated integral. Called by the loop when
// the plant reports traction fully restored, so stale wind-up does not carry
// into the next transient.
func (c *SlipController) ResetIntegral() {
	c.integral = 0
}

// Integral exposes the accumulated integral term for tests and display.
func (c *SlipController) Integral() float64 { return c.integral }
