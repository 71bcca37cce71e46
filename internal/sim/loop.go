package sim

// Status is the display-facing classification of one tick.
type Status string

const (
	StatusStable    Status = "STABLE"
	StatusTransient Status = "TRANSIENT"
	StatusSlipping  Status = "SLIPPING"
	StatusFault     Status = "FAULT"
)

// LoopState is the safety state of the loop.
type LoopState string

const (
	StateNormal  LoopState = "normal"
	StateFaulted LoopState = "faulted"
)

// TickResult is the public output of one simulation tick.
type TickResult struct {
	Tick         int     `json:"tick"`
	T            float64 `json:"t"` // seconds since start/reset
	Slip         float64 `json:"slip"`
	Command      float64 `json:"command"` // brake force or throttle fraction
	Status       Status  `json:"status"`
	VehicleSpeed float64 `json:"vehicle_speed"`
	WheelSpeed   float64 `json:"wheel_speed"`
	TargetSlip   float64 `json:"target_slip"`
	Scenario     float64 `json:"scenario"`
}

// TractionControlLoop composes a plant and a slip controller into the
// closed-loop tick sequence: slip → fault check → controller → plant step.
//
// The loop is strictly sequential and owns all of its state; drive it from
// one goroutine only. It has no notion of wall-clock time: each Tick advances
// exactly one DT.
type TractionControlLoop struct {
	cfg   LoopConfig
	plant Plant
	ctrl  *SlipController

	state LoopState
	tick  int
	t     float64

	targetSlip     float64
	scenario       float64
	driverThrottle float64
}

// NewLoop validates cfg and builds the loop with its plant and controller.
func NewLoop(cfg LoopConfig) (*TractionControlLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	plant, err := newPlant(cfg.Plant, cfg.DT)
	if err != nil {
		return nil, err
	}

	mode := modeBrake
	if cfg.Plant.Model == FrictionLimitedModelName {
		mode = modeThrottle
	}
	ctrl, err := NewSlipController(cfg.Controller, cfg.DT, mode)
	if err != nil {
		return nil, err
	}

	return &TractionControlLoop{
		cfg:            cfg,
		plant:          plant,
		ctrl:           ctrl,
		state:          StateNormal,
		targetSlip:     cfg.TargetSlip,
		scenario:       cfg.Scenario,
		driverThrottle: cfg.DriverThrottle,
	}, nil
}

// Tick advances the simulation by one DT and returns the tick's outputs.
func (l *TractionControlLoop) Tick() TickResult {
	slip := l.plant.Slip()

	// One-way latch: once slip reaches the threshold the loop stays faulted
	// until an explicit Reset.
	if l.cfg.FaultThreshold > 0 && slip >= l.cfg.FaultThreshold {
		l.state = StateFaulted
	}

	var out Output
	if l.state == StateFaulted {
		out = l.ctrl.Update(slip, l.targetSlip, l.driverThrottle, true)
		// No actuator authority: the plant integrates the natural ground
		// trend only, so slip keeps diverging. That is the point of the
		// latch: it demonstrates the failure physics, not a recovery path.
		l.plant.Coast(l.scenario)
	} else {
		out = l.ctrl.Update(slip, l.targetSlip, l.driverThrottle, false)
		if restored := l.plant.Step(out.Command, l.scenario); restored {
			l.ctrl.ResetIntegral()
		}
	}

	status := out.Status
	if l.state == StateNormal && l.cfg.SlipWarnBand > 0 {
		if slip > l.targetSlip+l.cfg.SlipWarnBand {
			status = StatusSlipping
		} else {
			status = StatusStable
		}
	}

	l.tick++
	l.t += l.cfg.DT
	st := l.plant.State()
	return TickResult{
		Tick:         l.tick,
		T:            l.t,
		Slip:         slip,
		Command:      out.Command,
		Status:       status,
		VehicleSpeed: st.VehicleSpeed,
		WheelSpeed:   st.WheelSpeed,
		TargetSlip:   l.targetSlip,
		Scenario:     l.scenario,
	}
}

// Reset returns the plant, the controller, and the safety state to their
// initial values. Inputs set via the setters are kept.
func (l *TractionControlLoop) Reset() {
	l.plant.Reset()
	l.ctrl.Reset()
	l.state = StateNormal
	l.tick = 0
	l.t = 0
}

// SetTargetSlip changes the slip reference. Takes effect on the next Tick.
func (l *TractionControlLoop) SetTargetSlip(v float64) { l.targetSlip = v }

// SetScenario changes the ground trend or friction coefficient. Takes effect
// on the next Tick.
func (l *TractionControlLoop) SetScenario(v float64) { l.scenario = v }

// SetDriverThrottle changes the driver's requested throttle (throttle-mode
// plants only). Takes effect on the next Tick.
func (l *TractionControlLoop) SetDriverThrottle(v float64) { l.driverThrottle = v }

// State returns the loop's safety state.
func (l *TractionControlLoop) State() LoopState { return l.state }

// Config returns the construction-time configuration.
func (l *TractionControlLoop) Config() LoopConfig { return l.cfg }

// PlantState returns the current kinematic state without advancing time.
func (l *TractionControlLoop) PlantState() State { return l.plant.State() }
