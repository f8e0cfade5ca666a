package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker down")

func fail() error { return errBroker }
func ok() error   { return nil }

func TestBreakerOpensAndRecovers(t *testing.T) {
	r := require.New(t)
	now := time.Unix(0, 0)
	b := NewBreaker(2, time.Second, 4*time.Second)
	b.now = func() time.Time { return now }

	var transitions []string
	b.OnStateChange(func(from, to State) { transitions = append(transitions, from.String()+">"+to.String()) })

	r.ErrorIs(b.Call(fail), errBroker)
	r.Equal(StateClosed, b.State())
	r.ErrorIs(b.Call(fail), errBroker)
	r.Equal(StateOpen, b.State())

	called := false
	r.ErrorIs(b.Call(func() error { called = true; return nil }), ErrCircuitOpen)
	r.False(called)
	r.Equal(uint64(1), b.Rejected())

	// failed probe doubles the cooldown
	now = now.Add(time.Second)
	r.ErrorIs(b.Call(fail), errBroker)
	r.Equal(StateOpen, b.State())
	now = now.Add(time.Second)
	r.ErrorIs(b.Call(ok), ErrCircuitOpen)

	now = now.Add(time.Second)
	r.NoError(b.Call(ok))
	r.Equal(StateClosed, b.State())

	r.Equal([]string{
		"closed>open",
		"open>half-open",
		"half-open>open",
		"open>half-open",
		"half-open>closed",
	}, transitions)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(2, time.Second, time.Second)
	b.Call(fail)
	b.Call(ok)
	b.Call(fail)
	assert.Equal(t, StateClosed, b.State())
}
