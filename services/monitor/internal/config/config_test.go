package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
)

func TestLoadDefaults(t *testing.T) {
	r := require.New(t)
	chdir(t, t.TempDir())

	cfg, _, err := Load("")
	r.NoError(err)
	r.Equal("http://localhost:8000", cfg.API.BaseURL)
	r.Equal(5*time.Second, cfg.Poll.Interval)
	r.Equal(40, cfg.Window.MaxPoints)
	r.Equal([]int{20, 40, 60}, cfg.Window.Sizes)
	r.True(cfg.Window.TrackIdleEntities)
	r.Equal(view.Modes{SeriesMode: view.Aggregate, ValueMode: view.Cumulative, MaxPoints: 40}, cfg.Modes())
}

func TestLoadFileAndEnv(t *testing.T) {
	r := require.New(t)
	path := filepath.Join(t.TempDir(), "monitor.yaml")
	r.NoError(os.WriteFile(path, []byte(`
api:
  base_url: http://api:8000
poll:
  interval: 2s
  range: 6h
window:
  max_points: 20
  value_mode: delta
`), 0o644))
	t.Setenv("MONITOR_WINDOW_SERIES_MODE", "perEntity")

	cfg, v, err := Load(path)
	r.NoError(err)
	r.Equal(path, v.ConfigFileUsed())
	r.Equal("http://api:8000", cfg.API.BaseURL)
	r.Equal(2*time.Second, cfg.Poll.Interval)
	r.Equal("6h", cfg.Poll.Range)
	r.Equal(view.Modes{SeriesMode: view.PerEntity, ValueMode: view.Delta, MaxPoints: 20}, cfg.Modes())
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"size":  "window:\n  max_points: 25\n",
		"range": "poll:\n  range: 7d\n",
		"mode":  "window:\n  series_mode: stacked\n",
		"level": "log:\n  level: loud\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, _, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// chdir changes the working directory to dir for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) on older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
