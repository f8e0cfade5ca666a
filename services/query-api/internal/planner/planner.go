// Package planner turns a requested time range into store bounds.
package planner

import (
	"errors"
	"fmt"
	"time"
)

// Range names accepted by /api/metrics.
const (
	RangeRealtime = "realtime"
	Range1h       = "1h"
	Range6h       = "6h"
	Range24h      = "24h"
)

var (
	// ErrUnknownRange is returned for range strings outside the list above.
	ErrUnknownRange = errors.New("planner: unknown range")
	// ErrInvalidLimit is returned for negative or oversized limits.
	ErrInvalidLimit = errors.New("planner: invalid limit")
)

var windows = map[string]time.Duration{
	Range1h:  time.Hour,
	Range6h:  6 * time.Hour,
	Range24h: 24 * time.Hour,
}

// Plan bounds one metrics query.
type Plan struct {
	Range string
	// Since is the lower time bound; zero for realtime.
	Since time.Time
	// Batches caps the number of distinct batch timestamps read.
	Batches int
	// Resolution is the bucket width used to thin historical results; zero
	// keeps every batch.
	Resolution time.Duration
	// TTL is how long the response may be cached.
	TTL time.Duration
}

// Options configures a QueryPlanner.
type Options struct {
	RealtimeBatches int           `mapstructure:"realtime_batches"`
	MaxBatches      int           `mapstructure:"max_batches"`
	HistoryPoints   int           `mapstructure:"history_points"`
	RealtimeTTL     time.Duration `mapstructure:"realtime_ttl"`
	HistoryTTL      time.Duration `mapstructure:"history_ttl"`
}

// QueryPlanner creates plans for metrics queries
type QueryPlanner struct {
	opts Options
	now  func() time.Time
}

// NewQueryPlanner creates a new query planner
func NewQueryPlanner(opts Options) *QueryPlanner {
	if opts.RealtimeBatches <= 0 {
		opts.RealtimeBatches = 60
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = 20000
	}
	if opts.HistoryPoints <= 0 {
		opts.HistoryPoints = 360
	}
	return &QueryPlanner{opts: opts, now: time.Now}
}

// Plan creates a plan for rangeName. A zero limit selects the default for
// the range.
func (qp *QueryPlanner) Plan(rangeName string, limit int) (Plan, error) {
	if rangeName == "" {
		rangeName = RangeRealtime
	}
	if limit < 0 || limit > qp.opts.MaxBatches {
		return Plan{}, fmt.Errorf("%w: %d (max %d)", ErrInvalidLimit, limit, qp.opts.MaxBatches)
	}

	if rangeName == RangeRealtime {
		if limit == 0 {
			limit = qp.opts.RealtimeBatches
		}
		return Plan{Range: rangeName, Batches: limit, TTL: qp.opts.RealtimeTTL}, nil
	}

	window, ok := windows[rangeName]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownRange, rangeName)
	}
	if limit == 0 {
		limit = qp.opts.MaxBatches
	}
	resolution := (window / time.Duration(qp.opts.HistoryPoints)).Truncate(time.Second)
	return Plan{
		Range:      rangeName,
		Since:      qp.now().Add(-window),
		Batches:    limit,
		Resolution: resolution,
		TTL:        qp.opts.HistoryTTL,
	}, nil
}

// CacheKey identifies the response of a plan. Historical plans are keyed
// by range only, their lower bound moves with the clock.
func (p Plan) CacheKey() string {
	return fmt.Sprintf("metrics:%s:%d", p.Range, p.Batches)
}
