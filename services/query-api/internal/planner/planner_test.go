package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanRealtime(t *testing.T) {
	qp := NewQueryPlanner(Options{RealtimeTTL: 2 * time.Second})

	p, err := qp.Plan("", 0)
	require.NoError(t, err)
	assert.Equal(t, RangeRealtime, p.Range)
	assert.True(t, p.Since.IsZero())
	assert.Equal(t, 60, p.Batches)
	assert.Zero(t, p.Resolution)
	assert.Equal(t, 2*time.Second, p.TTL)

	p, err = qp.Plan(RangeRealtime, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, p.Batches)
	assert.Equal(t, "metrics:realtime:20", p.CacheKey())
}

func TestPlanHistory(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	qp := NewQueryPlanner(Options{HistoryPoints: 360})
	qp.now = func() time.Time { return now }

	tests := []struct {
		rangeName  string
		since      time.Time
		resolution time.Duration
	}{
		{Range1h, now.Add(-time.Hour), 10 * time.Second},
		{Range6h, now.Add(-6 * time.Hour), time.Minute},
		{Range24h, now.Add(-24 * time.Hour), 4 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.rangeName, func(t *testing.T) {
			p, err := qp.Plan(tt.rangeName, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.since, p.Since)
			assert.Equal(t, tt.resolution, p.Resolution)
			assert.Equal(t, 20000, p.Batches)
		})
	}
}

func TestPlanRejects(t *testing.T) {
	qp := NewQueryPlanner(Options{MaxBatches: 100})

	_, err := qp.Plan("7d", 0)
	assert.ErrorIs(t, err, ErrUnknownRange)

	_, err = qp.Plan(RangeRealtime, -1)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	_, err = qp.Plan(RangeRealtime, 101)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}
