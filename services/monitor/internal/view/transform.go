// Package view turns a window snapshot into named display series.
package view

import (
	"fmt"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

// SeriesMode selects which series are rendered.
type SeriesMode string

// ValueMode selects running totals or per-interval increases.
type ValueMode string

const (
	Aggregate SeriesMode = "aggregate"
	PerEntity SeriesMode = "perEntity"

	Cumulative ValueMode = "cumulative"
	Delta      ValueMode = "delta"
)

// AggregateName is the series name used in aggregate mode.
const AggregateName = "Total"

// Y-axis labels per value mode.
const (
	CumulativeAxisLabel = "Total production (cumulative)"
	DeltaAxisLabel      = "Output per interval"
)

// Modes is the display configuration consumed by the core.
type Modes struct {
	SeriesMode SeriesMode
	ValueMode  ValueMode
	MaxPoints  int
}

// Validate checks the enumerated fields.
func (m Modes) Validate() error {
	switch m.SeriesMode {
	case Aggregate, PerEntity:
	default:
		return fmt.Errorf("unknown series mode %q", m.SeriesMode)
	}
	switch m.ValueMode {
	case Cumulative, Delta:
	default:
		return fmt.Errorf("unknown value mode %q", m.ValueMode)
	}
	if m.MaxPoints < 1 {
		return fmt.Errorf("max points must be positive, got %d", m.MaxPoints)
	}
	return nil
}

// Next toggles aggregate and per-entity.
func (m SeriesMode) Next() SeriesMode {
	if m == PerEntity {
		return Aggregate
	}
	return PerEntity
}

// Next toggles cumulative and delta.
func (m ValueMode) Next() ValueMode {
	if m == Delta {
		return Cumulative
	}
	return Delta
}

// Series is one named line aligned to Frame.Labels.
type Series struct {
	Name   string
	Values []window.Value
}

// Frame is everything a renderer needs for one draw.
type Frame struct {
	Labels     []window.Timestamp
	Series     []Series
	YAxisLabel string
	SeriesMode SeriesMode
	ValueMode  ValueMode
}

// Transform builds a frame from snap. It does not retain or modify snap.
func Transform(snap window.Snapshot, seriesMode SeriesMode, valueMode ValueMode) Frame {
	f := Frame{
		Labels:     append([]window.Timestamp(nil), snap.Labels...),
		SeriesMode: seriesMode,
		ValueMode:  valueMode,
		YAxisLabel: CumulativeAxisLabel,
	}
	if valueMode == Delta {
		f.YAxisLabel = DeltaAxisLabel
	}

	if seriesMode == PerEntity {
		f.Series = make([]Series, 0, len(snap.Entities))
		for _, e := range snap.Entities {
			vals := append([]window.Value(nil), e.Values...)
			if valueMode == Delta {
				vals = DeltaOf(vals)
			}
			f.Series = append(f.Series, Series{Name: e.ID, Values: vals})
		}
		return f
	}

	vals := make([]window.Value, len(snap.Aggregate))
	for i, v := range snap.Aggregate {
		vals[i] = window.Of(v)
	}
	if valueMode == Delta {
		vals = DeltaOf(vals)
	}
	f.Series = []Series{{Name: AggregateName, Values: vals}}
	return f
}

// DeltaOf returns per-interval increases of a cumulative series. Index 0 is
// zero, negative steps clamp to zero and a step touching a gap is a gap.
func DeltaOf(s []window.Value) []window.Value {
	out := make([]window.Value, len(s))
	for i := range s {
		switch {
		case !s[i].Present:
			out[i] = window.Absent()
		case i == 0:
			out[i] = window.Of(0)
		case !s[i-1].Present:
			out[i] = window.Absent()
		default:
			d := s[i].V - s[i-1].V
			if d < 0 {
				d = 0
			}
			out[i] = window.Of(d)
		}
	}
	return out
}

// Range returns the min and max of the present values across all series.
// ok is false when no value is present.
func (f Frame) Range() (lo, hi float64, ok bool) {
	for _, s := range f.Series {
		for _, v := range s.Values {
			if !v.Present {
				continue
			}
			if !ok {
				lo, hi, ok = v.V, v.V, true
				continue
			}
			if v.V < lo {
				lo = v.V
			}
			if v.V > hi {
				hi = v.V
			}
		}
	}
	return lo, hi, ok
}

// Latest returns the last present value of each series.
func (f Frame) Latest() map[string]window.Value {
	out := make(map[string]window.Value, len(f.Series))
	for _, s := range f.Series {
		v := window.Absent()
		for i := len(s.Values) - 1; i >= 0; i-- {
			if s.Values[i].Present {
				v = s.Values[i]
				break
			}
		}
		out[s.Name] = v
	}
	return out
}
