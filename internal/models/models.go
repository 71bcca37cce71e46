package models

import "time"

// Run represents one recorded simulation run.
type Run struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Model      string    `json:"model"` // plant model discriminator
	DT         float64   `json:"dt"`
	Ticks      int       `json:"ticks"`
	ConfigJSON string    `json:"config_json,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sample is a single persisted simulation tick.
type Sample struct {
	ID           int64   `json:"id"`
	RunID        int64   `json:"run_id"`
	Seq          int     `json:"seq"`
	T            float64 `json:"t"` // seconds since run start
	Slip         float64 `json:"slip"`
	Command      float64 `json:"command"` // brake force or throttle fraction
	TargetSlip   float64 `json:"target_slip"`
	Scenario     float64 `json:"scenario"` // ground trend or friction coefficient
	VehicleSpeed float64 `json:"vehicle_speed"`
	WheelSpeed   float64 `json:"wheel_speed"`
	Status       string  `json:"status"`
}

// SampleQuery represents query parameters for sample searches.
type SampleQuery struct {
	RunID   int64
	Status  string
	MinSlip float64
	MaxSlip float64
	Limit   int
	Offset  int
}

// RunSummary provides aggregated statistics over one run's slip trace.
type RunSummary struct {
	RunID           int64   `json:"run_id"`
	TotalSamples    int     `json:"total_samples"`
	MeanSlip        float64 `json:"mean_slip"`
	MaxSlip         float64 `json:"max_slip"`
	StdDevSlip      float64 `json:"stddev_slip"`
	AboveTargetFrac float64 `json:"above_target_frac"` // fraction of ticks with slip > target
	MaxCommand      float64 `json:"max_command"`
	FinalSpeed      float64 `json:"final_speed"`
	FaultSeq        int     `json:"fault_seq"` // first FAULT sample, -1 when none
}
