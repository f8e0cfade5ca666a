// Package sim steps the machine state model and emits one reading per
// machine per tick.
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/simulator/internal/profile"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

// machine is the state of one simulated machine.
type machine struct {
	id     string
	mode   string
	until  time.Time
	boost  bool
	factor float64

	mtbf         time.Duration
	mttr         time.Duration
	idleInterval time.Duration

	nextFail time.Time
	nextIdle time.Time
}

// Simulator owns the machines of one line. It is not safe for concurrent
// use.
type Simulator struct {
	profile  *profile.Profile
	rng      *rand.Rand
	machines []*machine
}

// New creates a simulator for p. Machines are initialised lazily on the
// first Step.
func New(p *profile.Profile) *Simulator {
	seed := time.Now().UnixNano()
	if p.Seed != nil {
		seed = *p.Seed
	}
	return &Simulator{profile: p, rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulator) uniform(r profile.Range) float64 {
	return r.Min + s.rng.Float64()*(r.Max-r.Min)
}

// expSample draws an exponentially distributed interval with the given mean.
func (s *Simulator) expSample(mean time.Duration) time.Duration {
	if mean <= 0 {
		mean = time.Second
	}
	return time.Duration(s.rng.ExpFloat64() * float64(mean))
}

func minutes(v float64) time.Duration { return time.Duration(v * float64(time.Minute)) }

func (s *Simulator) init(now time.Time) {
	p := s.profile
	s.machines = make([]*machine, 0, len(p.Equipment))
	for _, id := range p.Equipment {
		m := &machine{
			id:           id,
			mode:         store.StatusRun,
			factor:       s.uniform(p.CapacityFactor),
			mtbf:         minutes(s.uniform(p.MTBFHours) * 60),
			mttr:         minutes(s.uniform(p.MTTRMinutes)),
			idleInterval: minutes(s.uniform(p.IdleIntervalMinutes)),
		}
		m.nextFail = now.Add(s.expSample(m.mtbf))
		m.nextIdle = now.Add(s.expSample(m.idleInterval))
		s.machines = append(s.machines, m)
	}
}

// transition moves m to its state at now. A failure due at the same instant
// as an idle period wins.
func (s *Simulator) transition(m *machine, now time.Time) {
	if m.mode != store.StatusRun && !now.Before(m.until) {
		m.mode = store.StatusRun
		m.until = time.Time{}
		m.boost = true
	}
	if m.mode != store.StatusRun {
		return
	}

	switch {
	case !now.Before(m.nextFail):
		repair := s.expSample(m.mttr)
		if repair < s.profile.MinRepair {
			repair = s.profile.MinRepair
		}
		m.mode = store.StatusError
		m.until = now.Add(repair)
		m.nextFail = m.until.Add(s.expSample(m.mtbf))
	case !now.Before(m.nextIdle):
		r := s.profile.IdleDurationSeconds
		secs := int(r.Min) + s.rng.Intn(int(r.Max)-int(r.Min)+1)
		m.mode = store.StatusIdle
		m.until = now.Add(time.Duration(secs) * time.Second)
		m.nextIdle = m.until.Add(s.expSample(m.idleInterval))
	}
}

// output returns the units m produced this tick and its efficiency.
func (s *Simulator) output(m *machine, now time.Time) (int64, float64) {
	p := s.profile
	base := math.Max(0, math.Trunc(s.rng.NormFloat64()*p.BaseStd+p.BaseMean))
	base *= p.ShiftMultiplier(now) * m.factor

	var produced int64
	var eff float64
	switch m.mode {
	case store.StatusError:
		eff = s.uniform(p.Efficiency.Error)
	case store.StatusIdle:
		produced = int64(base * p.IdleOutput)
		eff = s.uniform(p.Efficiency.Idle)
	default:
		produced = int64(base)
		if m.boost {
			produced = int64(float64(produced) * p.RecoveryBoost)
			m.boost = false
		}
		eff = s.uniform(p.Efficiency.Run)
	}

	scrap := s.uniform(p.ScrapRate)
	produced = int64(math.Round(float64(produced) * (1 - scrap)))
	return produced, math.Round(eff*100) / 100
}

// Step advances every machine to now and returns their readings in
// equipment order.
func (s *Simulator) Step(now time.Time) []reading.Reading {
	now = now.UTC()
	if s.machines == nil {
		s.init(now)
	}
	out := make([]reading.Reading, 0, len(s.machines))
	for _, m := range s.machines {
		s.transition(m, now)
		produced, eff := s.output(m, now)
		out = append(out, reading.Reading{
			EquipmentID: m.id,
			TS:          now,
			Produced:    produced,
			Efficiency:  eff,
			Status:      m.mode,
		})
	}
	return out
}
