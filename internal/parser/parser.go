// Package parser loads scenario profile files: replayable, time-segmented
// schedules of ground coefficient, target slip, and driver throttle that
// stand in for the interactive sliders and buttons a UI would provide.
package parser

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"traction-sim/internal/sim"
)

// Segment is one time window of a profile. T1 < 0 means "until the end of
// the run". TargetSlip and Throttle are optional overrides; nil keeps the
// profile defaults.
type Segment struct {
	T0         float64  `json:"t0"`
	T1         float64  `json:"t1"`
	Ground     float64  `json:"ground"`
	TargetSlip *float64 `json:"target_slip,omitempty"`
	Throttle   *float64 `json:"throttle,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// Defaults are the inputs applied outside every segment.
type Defaults struct {
	Ground     float64 `json:"ground"`
	TargetSlip float64 `json:"target_slip,omitempty"`
	Throttle   float64 `json:"throttle,omitempty"`
}

// Profile is a complete scenario schedule. Either Preset or Config selects
// the loop; when both are empty the caller chooses.
type Profile struct {
	Name     string          `json:"name"`
	Preset   string          `json:"preset,omitempty"`
	Config   *sim.LoopConfig `json:"config,omitempty"`
	Duration float64         `json:"duration"` // seconds
	Defaults Defaults        `json:"defaults"`
	Segments []Segment       `json:"segments"`
}

// Inputs are the per-tick external inputs resolved from a profile at a given
// time. A zero TargetSlip or Throttle means "keep the loop's current value".
type Inputs struct {
	Ground     float64
	TargetSlip float64
	Throttle   float64
}

// At resolves the inputs active at time t: the defaults, overridden by the
// first segment containing t.
func (p *Profile) At(t float64) Inputs {
	in := Inputs{
		Ground:     p.Defaults.Ground,
		TargetSlip: p.Defaults.TargetSlip,
		Throttle:   p.Defaults.Throttle,
	}
	for _, seg := range p.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = p.Duration
		}
		if t >= seg.T0 && t < t1 {
			in.Ground = seg.Ground
			if seg.TargetSlip != nil {
				in.TargetSlip = *seg.TargetSlip
			}
			if seg.Throttle != nil {
				in.Throttle = *seg.Throttle
			}
			break
		}
	}
	return in
}

// Parser handles parsing of scenario profile files.
type Parser struct {
	format string
}

// NewParser creates a new parser with the specified format ("json" or "csv").
func NewParser(format string) *Parser {
	return &Parser{format: format}
}

// ParseFile parses a scenario profile file.
func (p *Parser) ParseFile(filename string) (Profile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	switch strings.ToLower(p.format) {
	case "json":
		return p.parseJSON(file)
	case "csv":
		return p.parseCSV(file)
	default:
		return Profile{}, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// parseJSON parses a full JSON profile.
func (p *Parser) parseJSON(r io.Reader) (Profile, error) {
	var prof Profile
	if err := json.NewDecoder(r).Decode(&prof); err != nil {
		return Profile{}, fmt.Errorf("invalid profile JSON: %w", err)
	}
	return prof, nil
}

// parseCSV parses a segment table: columns t0, t1, ground, and optionally
// target_slip, throttle, comment. The profile's duration is derived from the
// last segment end; name, preset, and defaults are left for the caller.
func (p *Parser) parseCSV(r io.Reader) (Profile, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	header, err := reader.Read()
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read header: %w", err)
	}

	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var prof Profile
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return prof, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		seg, err := recordToSegment(record, indices)
		if err != nil {
			// Log error but continue parsing
			fmt.Printf("Warning: line %d: %v\n", lineNum, err)
			continue
		}
		prof.Segments = append(prof.Segments, seg)
		if seg.T1 > prof.Duration {
			prof.Duration = seg.T1
		}
	}

	return prof, nil
}

// recordToSegment converts a CSV record to a Segment.
func recordToSegment(record []string, indices map[string]int) (Segment, error) {
	getValue := func(key string) string {
		if idx, ok := indices[key]; ok && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}

	var seg Segment
	var err error

	if seg.T0, err = strconv.ParseFloat(getValue("t0"), 64); err != nil {
		return seg, fmt.Errorf("invalid t0: %w", err)
	}
	if seg.T1, err = strconv.ParseFloat(getValue("t1"), 64); err != nil {
		return seg, fmt.Errorf("invalid t1: %w", err)
	}
	if seg.Ground, err = strconv.ParseFloat(getValue("ground"), 64); err != nil {
		return seg, fmt.Errorf("invalid ground: %w", err)
	}

	if v := getValue("target_slip"); v != "" {
		ts, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return seg, fmt.Errorf("invalid target_slip: %w", err)
		}
		seg.TargetSlip = &ts
	}
	if v := getValue("throttle"); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return seg, fmt.Errorf("invalid throttle: %w", err)
		}
		seg.Throttle = &th
	}
	seg.Comment = getValue("comment")

	return seg, nil
}

// ValidateProfile validates a profile. Returns one message per problem.
func ValidateProfile(p *Profile) []string {
	var errors []string

	if p.Duration <= 0 {
		errors = append(errors, "duration must be > 0")
	}
	if p.Defaults.Ground < 0 || math.IsNaN(p.Defaults.Ground) {
		errors = append(errors, "default ground must be a finite value >= 0")
	}
	if p.Defaults.TargetSlip < 0 || p.Defaults.TargetSlip >= 1 {
		errors = append(errors, "default target_slip must be in [0, 1)")
	}
	if p.Defaults.Throttle < 0 || p.Defaults.Throttle > 1 {
		errors = append(errors, "default throttle must be in [0, 1]")
	}

	for i, seg := range p.Segments {
		if seg.T1 >= 0 && seg.T1 <= seg.T0 {
			errors = append(errors, fmt.Sprintf("segment %d: t1 must be > t0 (or negative for open-ended)", i))
		}
		if seg.Ground < 0 || math.IsNaN(seg.Ground) {
			errors = append(errors, fmt.Sprintf("segment %d: ground must be a finite value >= 0", i))
		}
		if seg.TargetSlip != nil && (*seg.TargetSlip <= 0 || *seg.TargetSlip >= 1) {
			errors = append(errors, fmt.Sprintf("segment %d: target_slip must be in (0, 1)", i))
		}
		if seg.Throttle != nil && (*seg.Throttle < 0 || *seg.Throttle > 1) {
			errors = append(errors, fmt.Sprintf("segment %d: throttle must be in [0, 1]", i))
		}
	}

	return errors
}
