package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	r := require.New(t)
	p, err := Parse([]byte(`
equipment: [A, B]
tick: 2s
seed: 42
mtbf_hours: {min: 1, max: 2}
shifts:
  - {from: 0, to: 24, multiplier: 0.5}
`))
	r.NoError(err)
	r.Equal([]string{"A", "B"}, p.Equipment)
	r.Equal(2*time.Second, p.Tick)
	r.NotNil(p.Seed)
	r.Equal(int64(42), *p.Seed)
	r.Equal(Range{1, 2}, p.MTBFHours)
	r.Equal(Range{2, 8}, p.MTTRMinutes)
	r.Equal(0.5, p.ShiftMultiplier(time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC)))
}

func TestParseEmptyDocumentKeepsDefaults(t *testing.T) {
	p, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":  `speed: 3`,
		"bad range":      `scrap_rate: {min: 0.5, max: 0.1}`,
		"scrap above 1":  `scrap_rate: {min: 0.5, max: 1.5}`,
		"duplicate id":   `equipment: [M1, M1]`,
		"zero tick":      `tick: 0s`,
		"bad shift":      `shifts: [{from: 10, to: 8, multiplier: 1}]`,
		"weak recovery":  `recovery_boost: 0.5`,
		"malformed yaml": `equipment: [`,
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestShiftMultiplier(t *testing.T) {
	p := Default()
	at := func(h int) time.Time { return time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC) }
	assert.Equal(t, 0.6, p.ShiftMultiplier(at(3)))
	assert.Equal(t, 1.0, p.ShiftMultiplier(at(9)))
	assert.Equal(t, 0.4, p.ShiftMultiplier(at(12)))
	assert.Equal(t, 0.8, p.ShiftMultiplier(at(21)))
	assert.Equal(t, 0.6, p.ShiftMultiplier(at(23)))
	// local times are read in UTC
	assert.Equal(t, 0.4, p.ShiftMultiplier(time.Date(2024, 1, 1, 20, 0, 0, 0, time.FixedZone("CST", 8*3600))))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "line.yaml")
	require.NoError(t, os.WriteFile(path, []byte("equipment: [X1]\n"), 0o644))
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"X1"}, p.Equipment)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
