package view

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

func ts(i int) window.Timestamp {
	return window.Timestamp(fmt.Sprintf("2024-01-01T08:00:%02dZ", i))
}

func vals(in ...interface{}) []window.Value {
	out := make([]window.Value, len(in))
	for i, v := range in {
		if v == nil {
			out[i] = window.Absent()
			continue
		}
		switch n := v.(type) {
		case int:
			out[i] = window.Of(float64(n))
		case float64:
			out[i] = window.Of(n)
		}
	}
	return out
}

func snapshot() window.Snapshot {
	return window.Snapshot{
		Labels:    []window.Timestamp{ts(1), ts(2), ts(3)},
		Aggregate: []float64{10, 15, 12},
		Entities: []window.EntitySeries{
			{ID: "E1", Values: vals(3, 7, nil)},
			{ID: "E2", Values: vals(nil, 2, 5)},
		},
		Last:      ts(3),
		HasLast:   true,
		MaxPoints: 3,
	}
}

func TestDeltaOf(t *testing.T) {
	cases := []struct {
		name string
		in   []window.Value
		want []window.Value
	}{
		{"empty", nil, []window.Value{}},
		{"single", vals(5), vals(0)},
		{"increasing", vals(5, 9, 9, 14), vals(0, 4, 0, 5)},
		{"reset clamps", vals(10, 4, 6), vals(0, 0, 2)},
		{"trailing gap", vals(3, 7, nil), vals(0, 4, nil)},
		{"leading gap", vals(nil, 2, 5), vals(nil, nil, 3)},
		{"inner gap", vals(1, nil, 4, 6), vals(0, nil, nil, 2)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeltaOf(tc.in))
		})
	}
}

func TestDeltaIsNonNegative(t *testing.T) {
	in := vals(5, 1, 8, 8, 3, nil, 2, 20, 0)
	for i, v := range DeltaOf(in) {
		if v.Present {
			assert.GreaterOrEqual(t, v.V, float64(0), "index %d", i)
		}
	}
}

func TestTransformAggregate(t *testing.T) {
	r := require.New(t)

	f := Transform(snapshot(), Aggregate, Cumulative)
	r.Len(f.Series, 1)
	r.Equal(AggregateName, f.Series[0].Name)
	r.Equal(vals(10, 15, 12), f.Series[0].Values)
	r.Equal(CumulativeAxisLabel, f.YAxisLabel)

	f = Transform(snapshot(), Aggregate, Delta)
	r.Equal(vals(0, 5, 0), f.Series[0].Values)
	r.Equal(DeltaAxisLabel, f.YAxisLabel)
}

func TestTransformPerEntity(t *testing.T) {
	r := require.New(t)

	f := Transform(snapshot(), PerEntity, Delta)
	r.Len(f.Series, 2)
	r.Equal("E1", f.Series[0].Name)
	r.Equal(vals(0, 4, nil), f.Series[0].Values)
	r.Equal(vals(nil, nil, 3), f.Series[1].Values)

	for _, s := range f.Series {
		r.Len(s.Values, len(f.Labels))
	}
}

func TestTransformIsPure(t *testing.T) {
	snap := snapshot()
	a := Transform(snap, PerEntity, Delta)
	b := Transform(snap, PerEntity, Delta)
	assert.Equal(t, a, b)
	assert.Equal(t, snapshot(), snap)

	a.Series[0].Values[0] = window.Of(99)
	assert.Equal(t, snapshot(), snap)
}

func TestFrameRangeAndLatest(t *testing.T) {
	r := require.New(t)
	f := Transform(snapshot(), PerEntity, Cumulative)

	lo, hi, ok := f.Range()
	r.True(ok)
	r.Equal(float64(2), lo)
	r.Equal(float64(7), hi)

	latest := f.Latest()
	r.Equal(window.Of(7), latest["E1"])
	r.Equal(window.Of(5), latest["E2"])

	_, _, ok = Frame{}.Range()
	r.False(ok)
}

func TestModesValidate(t *testing.T) {
	assert.NoError(t, Modes{SeriesMode: Aggregate, ValueMode: Delta, MaxPoints: 20}.Validate())
	assert.Error(t, Modes{SeriesMode: "lines", ValueMode: Delta, MaxPoints: 20}.Validate())
	assert.Error(t, Modes{SeriesMode: Aggregate, ValueMode: "rate", MaxPoints: 20}.Validate())
	assert.Error(t, Modes{SeriesMode: Aggregate, ValueMode: Delta}.Validate())

	assert.Equal(t, PerEntity, Aggregate.Next())
	assert.Equal(t, Cumulative, Delta.Next())
}

func TestFromResponse(t *testing.T) {
	r := require.New(t)
	resp := metrics.Response{
		Total: []metrics.Sample{{TS: ts(1), Production: 3}, {TS: ts(2), Production: 9}},
		ByEquipment: []metrics.EntityPoints{
			{EquipmentID: "M1", Points: []metrics.Sample{{TS: ts(1), Production: 3}, {TS: ts(2), Production: 5}}},
			{EquipmentID: "M2", Points: []metrics.Sample{{TS: ts(2), Production: 4}}},
		},
	}

	f, err := FromResponse(resp, PerEntity, Cumulative)
	r.NoError(err)
	r.Equal([]window.Timestamp{ts(1), ts(2)}, f.Labels)
	r.Equal(vals(3, 5), f.Series[0].Values)
	r.Equal(vals(nil, 4), f.Series[1].Values)

	f, err = FromResponse(metrics.Response{}, Aggregate, Cumulative)
	r.NoError(err)
	r.Empty(f.Labels)
}
