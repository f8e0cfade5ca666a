// Package profile describes how the simulated production line behaves.
package profile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Range is an inclusive [min, max] interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

func (r Range) validate(name string) error {
	if r.Min < 0 || r.Max < r.Min {
		return fmt.Errorf("%s: invalid range [%g, %g]", name, r.Min, r.Max)
	}
	return nil
}

// Shift scales output between two UTC hours, From inclusive, To exclusive.
type Shift struct {
	From       int     `yaml:"from"`
	To         int     `yaml:"to"`
	Multiplier float64 `yaml:"multiplier"`
}

// Efficiency holds the efficiency sampled in each machine state.
type Efficiency struct {
	Run   Range `yaml:"run"`
	Idle  Range `yaml:"idle"`
	Error Range `yaml:"error"`
}

// Profile is the full behaviour of the line.
type Profile struct {
	Equipment []string      `yaml:"equipment"`
	Tick      time.Duration `yaml:"tick"`
	// Seed makes runs reproducible; nil seeds from the clock.
	Seed *int64 `yaml:"seed"`

	BaseMean       float64 `yaml:"base_mean"`
	BaseStd        float64 `yaml:"base_std"`
	RecoveryBoost  float64 `yaml:"recovery_boost"`
	IdleOutput     float64 `yaml:"idle_output"`
	CapacityFactor Range   `yaml:"capacity_factor"`

	MTBFHours           Range `yaml:"mtbf_hours"`
	MTTRMinutes         Range `yaml:"mttr_minutes"`
	IdleIntervalMinutes Range `yaml:"idle_interval_minutes"`
	IdleDurationSeconds Range `yaml:"idle_duration_seconds"`
	// MinRepair is the shortest ERROR period.
	MinRepair time.Duration `yaml:"min_repair"`
	ScrapRate Range         `yaml:"scrap_rate"`

	Efficiency Efficiency `yaml:"efficiency"`
	Shifts     []Shift    `yaml:"shifts"`
	// DefaultShift applies to hours no shift covers.
	DefaultShift float64 `yaml:"default_shift"`
}

// Default returns the four-machine line.
func Default() *Profile {
	return &Profile{
		Equipment:           []string{"M1", "M2", "M3", "M4"},
		Tick:                5 * time.Second,
		BaseMean:            10,
		BaseStd:             3,
		RecoveryBoost:       1.35,
		IdleOutput:          0.12,
		CapacityFactor:      Range{0.85, 1.15},
		MTBFHours:           Range{8, 24},
		MTTRMinutes:         Range{2, 8},
		IdleIntervalMinutes: Range{20, 60},
		IdleDurationSeconds: Range{20, 120},
		MinRepair:           5 * time.Second,
		ScrapRate:           Range{0.02, 0.10},
		Efficiency: Efficiency{
			Run:   Range{0.86, 0.98},
			Idle:  Range{0.45, 0.70},
			Error: Range{0.05, 0.20},
		},
		Shifts: []Shift{
			{From: 0, To: 7, Multiplier: 0.6},
			{From: 7, To: 12, Multiplier: 1.0},
			{From: 12, To: 13, Multiplier: 0.4},
			{From: 13, To: 18, Multiplier: 1.0},
			{From: 18, To: 22, Multiplier: 0.8},
		},
		DefaultShift: 0.6,
	}
}

// Load reads a YAML profile from path. Fields the file omits keep their
// defaults.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML profile. Unknown keys are rejected.
func Parse(data []byte) (*Profile, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("profile validation failed: %w", err)
	}
	return p, nil
}

// Validate checks that the profile can drive a simulation.
func (p *Profile) Validate() error {
	if len(p.Equipment) == 0 {
		return errors.New("equipment list is empty")
	}
	seen := make(map[string]bool, len(p.Equipment))
	for _, id := range p.Equipment {
		if id == "" || seen[id] {
			return fmt.Errorf("equipment id %q is empty or repeated", id)
		}
		seen[id] = true
	}
	if p.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", p.Tick)
	}
	if p.BaseMean < 0 || p.BaseStd < 0 || p.RecoveryBoost < 1 {
		return errors.New("base_mean and base_std must be >= 0 and recovery_boost >= 1")
	}
	if p.IdleOutput < 0 || p.IdleOutput > 1 {
		return fmt.Errorf("idle_output must be within [0, 1], got %g", p.IdleOutput)
	}
	ranges := map[string]Range{
		"capacity_factor":       p.CapacityFactor,
		"mtbf_hours":            p.MTBFHours,
		"mttr_minutes":          p.MTTRMinutes,
		"idle_interval_minutes": p.IdleIntervalMinutes,
		"idle_duration_seconds": p.IdleDurationSeconds,
		"scrap_rate":            p.ScrapRate,
		"efficiency.run":        p.Efficiency.Run,
		"efficiency.idle":       p.Efficiency.Idle,
		"efficiency.error":      p.Efficiency.Error,
	}
	for name, r := range ranges {
		if err := r.validate(name); err != nil {
			return err
		}
	}
	if p.ScrapRate.Max > 1 {
		return fmt.Errorf("scrap_rate above 1: %g", p.ScrapRate.Max)
	}
	for _, s := range p.Shifts {
		if s.From < 0 || s.To > 24 || s.From >= s.To || s.Multiplier < 0 {
			return fmt.Errorf("invalid shift %d-%d x%g", s.From, s.To, s.Multiplier)
		}
	}
	return nil
}

// ShiftMultiplier returns the output multiplier for the UTC hour of t.
func (p *Profile) ShiftMultiplier(t time.Time) float64 {
	h := t.UTC().Hour()
	for _, s := range p.Shifts {
		if h >= s.From && h < s.To {
			return s.Multiplier
		}
	}
	return p.DefaultShift
}
