// Package runner drives a traction control loop from a scenario profile and
// collects the resulting samples, playing the role the animation timer has in
// an interactive frontend.
package runner

import (
	"fmt"
	"math"

	"traction-sim/internal/models"
	"traction-sim/internal/parser"
	"traction-sim/internal/sim"
)

// BuildLoop resolves a profile's loop selection: an inline config wins over a
// preset name; fallbackPreset applies when the profile names neither.
func BuildLoop(prof *parser.Profile, fallbackPreset string) (*sim.TractionControlLoop, sim.LoopConfig, error) {
	var (
		cfg sim.LoopConfig
		err error
	)
	switch {
	case prof.Config != nil:
		cfg = *prof.Config
	case prof.Preset != "":
		cfg, err = sim.Preset(prof.Preset)
	case fallbackPreset != "":
		cfg, err = sim.Preset(fallbackPreset)
	default:
		return nil, sim.LoopConfig{}, fmt.Errorf("profile selects no loop config or preset")
	}
	if err != nil {
		return nil, sim.LoopConfig{}, err
	}

	loop, err := sim.NewLoop(cfg)
	if err != nil {
		return nil, sim.LoopConfig{}, err
	}
	return loop, cfg, nil
}

// Ticks returns the number of whole DT steps covering the profile duration.
func Ticks(prof *parser.Profile, dt float64) int {
	return int(math.Ceil(prof.Duration / dt))
}

// Execute runs the loop for ticks steps, feeding it the profile's inputs
// before each tick, and returns one sample per tick.
func Execute(loop *sim.TractionControlLoop, prof *parser.Profile, ticks int) []models.Sample {
	dt := loop.Config().DT
	samples := make([]models.Sample, 0, ticks)

	for i := 0; i < ticks; i++ {
		in := prof.At(float64(i) * dt)
		loop.SetScenario(in.Ground)
		if in.TargetSlip > 0 {
			loop.SetTargetSlip(in.TargetSlip)
		}
		if in.Throttle > 0 {
			loop.SetDriverThrottle(in.Throttle)
		}

		res := loop.Tick()
		samples = append(samples, models.Sample{
			Seq:          res.Tick,
			T:            res.T,
			Slip:         res.Slip,
			Command:      res.Command,
			TargetSlip:   res.TargetSlip,
			Scenario:     res.Scenario,
			VehicleSpeed: res.VehicleSpeed,
			WheelSpeed:   res.WheelSpeed,
			Status:       string(res.Status),
		})
	}

	return samples
}
