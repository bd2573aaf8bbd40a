package rtconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, runtime.NumCPU(), cfg.Threads)
	assert.True(t, cfg.Fair)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"threads": 3,
		"fair": false,
		"detectLeaks": true,
		"quiescenceTimeout": "750us",
		"debugAddr": "127.0.0.1:0",
		"requiredAPI": ">= 1.0, < 2"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Threads)
	assert.False(t, cfg.Fair)
	assert.True(t, cfg.DetectLeaks)
	assert.Equal(t, 750*time.Microsecond, time.Duration(cfg.QuiescenceTimeout))
	assert.Equal(t, "127.0.0.1:0", cfg.DebugAddr)
}

func TestLoadConfigFillsThreadDefault(t *testing.T) {
	path := writeConfig(t, `{"threads": 0}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), cfg.Threads)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Threads = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RequiredAPI = "not a constraint"
	assert.Error(t, cfg.Validate())
}

func TestValidateAPIConstraint(t *testing.T) {
	cfg := Default()
	cfg.RequiredAPI = ">= 1.2, < 2"
	assert.NoError(t, cfg.Validate())

	cfg.RequiredAPI = ">= 2"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), APIVersion)
}

func TestDurationNumericForm(t *testing.T) {
	path := writeConfig(t, `{"quiescenceTimeout": 1000000}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, time.Duration(cfg.QuiescenceTimeout))
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `{"threads": 1}`)

	changes := make(chan Config, 4)
	stop, err := Watch(path, func(c Config) { changes <- c }, nil)
	require.NoError(t, err)
	defer func() { _ = stop() }()

	// Give the watcher a moment to register before mutating the file.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"threads": 2, "fair": true}`), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(t, 2, cfg.Threads)
		assert.True(t, cfg.Fair)
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher never delivered the update")
	}
}

func TestWatchReportsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `{"threads": 1}`)

	errs := make(chan error, 4)
	stop, err := Watch(path, func(Config) {}, func(e error) { errs <- e })
	require.NoError(t, err)
	defer func() { _ = stop() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"threads": -3}`), 0o644))

	select {
	case <-errs:
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher never surfaced the invalid config")
	}
}
