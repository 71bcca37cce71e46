package models

import "gonum.org/v1/gonum/stat"

// Summarize aggregates a run's samples into a RunSummary. Samples are assumed
// to be in sequence order; an empty slice yields a zero summary with
// FaultSeq = -1.
func Summarize(runID int64, samples []Sample) RunSummary {
	s := RunSummary{RunID: runID, TotalSamples: len(samples), FaultSeq: -1}
	if len(samples) == 0 {
		return s
	}

	slips := make([]float64, len(samples))
	above := 0
	for i, sm := range samples {
		slips[i] = sm.Slip
		if sm.Slip > s.MaxSlip {
			s.MaxSlip = sm.Slip
		}
		if sm.Command > s.MaxCommand {
			s.MaxCommand = sm.Command
		}
		if sm.Slip > sm.TargetSlip {
			above++
		}
		if s.FaultSeq < 0 && sm.Status == "FAULT" {
			s.FaultSeq = sm.Seq
		}
	}

	s.MeanSlip = stat.Mean(slips, nil)
	if len(slips) > 1 {
		s.StdDevSlip = stat.StdDev(slips, nil)
	}
	s.AboveTargetFrac = float64(above) / float64(len(samples))
	s.FinalSpeed = samples[len(samples)-1].VehicleSpeed
	return s
}
