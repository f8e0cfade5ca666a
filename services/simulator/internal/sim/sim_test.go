package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/simulator/internal/profile"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func seeded(seed int64) *profile.Profile {
	p := profile.Default()
	p.Seed = &seed
	return p
}

func TestStepIsDeterministicForASeed(t *testing.T) {
	a, b := New(seeded(7)), New(seeded(7))
	for i := 0; i < 50; i++ {
		now := t0.Add(time.Duration(i) * 5 * time.Second)
		require.Equal(t, a.Step(now), b.Step(now))
	}
}

func TestReadingsAreValid(t *testing.T) {
	p := seeded(1)
	s := New(p)
	for i := 0; i < 200; i++ {
		now := t0.Add(time.Duration(i) * p.Tick)
		readings := s.Step(now)
		require.Len(t, readings, len(p.Equipment))
		for j, rd := range readings {
			require.NoError(t, rd.Validate())
			assert.Equal(t, p.Equipment[j], rd.EquipmentID)
			assert.True(t, rd.TS.Equal(now))

			var eff profile.Range
			switch rd.Status {
			case store.StatusRun:
				eff = p.Efficiency.Run
			case store.StatusIdle:
				eff = p.Efficiency.Idle
			case store.StatusError:
				eff = p.Efficiency.Error
				assert.Zero(t, rd.Produced)
			default:
				t.Fatalf("unexpected status %q", rd.Status)
			}
			assert.GreaterOrEqual(t, rd.Efficiency, eff.Min-0.005)
			assert.LessOrEqual(t, rd.Efficiency, eff.Max+0.005)
		}
	}
}

func TestFailureRepairCycle(t *testing.T) {
	r := require.New(t)
	p := seeded(3)
	p.Equipment = []string{"M1"}
	p.MTBFHours = profile.Range{Min: 1e-6, Max: 1e-6}
	p.MTTRMinutes = profile.Range{Min: 1e-6, Max: 1e-6}
	p.MinRepair = 10 * time.Second
	p.IdleIntervalMinutes = profile.Range{Min: 1e4, Max: 1e4}
	s := New(p)

	r.Equal(store.StatusRun, s.Step(t0)[0].Status)

	rd := s.Step(t0.Add(5 * time.Second))[0]
	r.Equal(store.StatusError, rd.Status)
	r.Zero(rd.Produced)

	r.Equal(store.StatusError, s.Step(t0.Add(10*time.Second))[0].Status)
	r.Equal(store.StatusRun, s.Step(t0.Add(15*time.Second))[0].Status)
	r.Equal(store.StatusError, s.Step(t0.Add(20*time.Second))[0].Status)
}

func TestIdleProducesLittle(t *testing.T) {
	p := seeded(5)
	p.Equipment = []string{"M1"}
	p.MTBFHours = profile.Range{Min: 1e3, Max: 1e3}
	p.IdleIntervalMinutes = profile.Range{Min: 1e-6, Max: 1e-6}
	p.IdleDurationSeconds = profile.Range{Min: 60, Max: 60}
	p.BaseStd = 0
	p.ScrapRate = profile.Range{}
	s := New(p)

	s.Step(t0)
	rd := s.Step(t0.Add(5 * time.Second))[0]
	require.Equal(t, store.StatusIdle, rd.Status)
	// base 10 x factor <= 1.15 x 0.12 idle output
	assert.LessOrEqual(t, rd.Produced, int64(1))

	assert.Equal(t, store.StatusIdle, s.Step(t0.Add(60*time.Second))[0].Status)
	assert.Equal(t, store.StatusRun, s.Step(t0.Add(65*time.Second))[0].Status)
}
