// Package rtconfig loads and watches the runtime's configuration.
package rtconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/Masterminds/semver/v3"
)

// APIVersion is the runtime's embedder-facing API version. Embedders pin a
// constraint in their configuration and fail fast on mismatch rather than
// discovering an incompatibility mid-run.
const APIVersion = "1.2.0"

// Config is the embedder-supplied runtime configuration.
type Config struct {
	// Threads is the scheduler thread count; 0 means one per CPU.
	Threads int `json:"threads"`
	// Fair enables token-driven fairness stealing.
	Fair bool `json:"fair"`
	// DetectLeaks records cowns leaked at teardown instead of freeing them.
	DetectLeaks bool `json:"detectLeaks"`
	// QuiescenceTimeout bounds the idle spin before a thread parks.
	QuiescenceTimeout Duration `json:"quiescenceTimeout"`
	// DebugAddr serves the scheduler debug endpoints when non-empty.
	DebugAddr string `json:"debugAddr"`
	// MetricsAddr serves the metrics endpoint when non-empty.
	MetricsAddr string `json:"metricsAddr"`
	// DebugHTTP3 serves the debug endpoints over HTTP/3 instead of TCP.
	DebugHTTP3 bool `json:"debugHTTP3"`
	// RequiredAPI is a semver constraint the runtime API must satisfy,
	// e.g. ">= 1.2, < 2".
	RequiredAPI string `json:"requiredAPI"`
}

// Duration wraps time.Duration with JSON string forms like "750us".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("rtconfig: bad duration %q: %w", s, perr)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("rtconfig: bad duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the runtime's default configuration.
func Default() Config {
	return Config{
		Threads: runtime.NumCPU(),
		Fair:    true,
	}
}

// Load reads a JSON config file, fills defaults and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rtconfig: read %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("rtconfig: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate normalises the config and checks the API constraint.
func (c *Config) Validate() error {
	if c.Threads < 0 {
		return fmt.Errorf("rtconfig: negative thread count %d", c.Threads)
	}
	if c.Threads == 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.QuiescenceTimeout < 0 {
		return fmt.Errorf("rtconfig: negative quiescence timeout")
	}
	if c.RequiredAPI != "" {
		constraint, err := semver.NewConstraint(c.RequiredAPI)
		if err != nil {
			return fmt.Errorf("rtconfig: bad requiredAPI %q: %w", c.RequiredAPI, err)
		}
		v := semver.MustParse(APIVersion)
		if !constraint.Check(v) {
			return fmt.Errorf("rtconfig: runtime API %s does not satisfy %q", APIVersion, c.RequiredAPI)
		}
	}
	return nil
}
