// Package config holds the engine configuration: retry budgets, quality
// thresholds, timeouts, and paths. Every knob the state machine or the
// validation pipeline consults lives here as an explicit field — nothing
// is hardcoded inside the loop, so a run is fully described by
// (specification, Config).
//
// Configuration is resolved in three layers, later layers winning:
// built-in defaults, an optional anvil.json file, and ANVIL_* environment
// variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config controls a single engine run.
type Config struct {
	// OutDir is where the export tool writes the final artifacts.
	OutDir string `json:"out_dir"`

	// MaxTurns caps the total number of decision turns in a run,
	// independent of per-phase retry budgets.
	MaxTurns int `json:"max_turns"`

	// RetryLimit is the default per-phase retry budget. A phase's
	// counter increments on every failed attempt; when it reaches the
	// limit the run goes to Failed.
	RetryLimit int `json:"retry_limit"`

	// PhaseRetryLimits overrides RetryLimit for individual phases,
	// keyed by phase name (e.g. "implement": 3).
	PhaseRetryLimits map[string]int `json:"phase_retry_limits,omitempty"`

	// MinTests is the quality-gate floor for the number of generated
	// test functions.
	MinTests int `json:"min_tests"`

	// RequireEdgeCaseTest enables the edge-case test heuristic in the
	// quality gates.
	RequireEdgeCaseTest bool `json:"require_edge_case_test"`

	// ExtraAllowedImports extends the Python stdlib allowlist used by
	// the dependency gate when the specification is stdlib-only.
	ExtraAllowedImports []string `json:"extra_allowed_imports,omitempty"`

	// DeniedImports are rejected even when the specification allows
	// arbitrary imports.
	DeniedImports []string `json:"denied_imports,omitempty"`

	// PythonBin is the interpreter used for compile and test checks.
	PythonBin string `json:"python_bin"`

	// Model is the Gemini model used for automatic runs.
	Model string `json:"model"`

	// DecisionTimeout bounds a single Decision Interface call.
	DecisionTimeout time.Duration `json:"-"`

	// ValidationTimeout bounds a single validation pipeline execution.
	ValidationTimeout time.Duration `json:"-"`

	// HistoryPath is the sqlite database for run history. Empty
	// disables history recording.
	HistoryPath string `json:"history_path"`
}

// configFile is the JSON shape of anvil.json. Durations are seconds so
// the file stays editable by hand.
type configFile struct {
	Config
	DecisionTimeoutSec   int `json:"decision_timeout_sec,omitempty"`
	ValidationTimeoutSec int `json:"validation_timeout_sec,omitempty"`
}

// ConfigFileName is the per-project configuration file.
const ConfigFileName = "anvil.json"

// Default returns the built-in configuration. The retry and quality
// defaults fix the open thresholds as explicit configuration rather
// than guesses buried in the loop.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		OutDir:              "generated",
		MaxTurns:            24,
		RetryLimit:          2,
		MinTests:            3,
		RequireEdgeCaseTest: true,
		PythonBin:           "python3",
		Model:               "gemini-2.5-flash",
		DecisionTimeout:     60 * time.Second,
		ValidationTimeout:   120 * time.Second,
		HistoryPath:         filepath.Join(home, ".anvil", "history.db"),
	}
}

// Load resolves the configuration for a project directory: defaults,
// then <dir>/anvil.json if present, then environment overrides.
func Load(dir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(dir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file — defaults plus env.
	case err != nil:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	default:
		var f configFile
		f.Config = cfg
		if err := json.Unmarshal(data, &f); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
		cfg = f.Config
		if f.DecisionTimeoutSec > 0 {
			cfg.DecisionTimeout = time.Duration(f.DecisionTimeoutSec) * time.Second
		}
		if f.ValidationTimeoutSec > 0 {
			cfg.ValidationTimeout = time.Duration(f.ValidationTimeoutSec) * time.Second
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays ANVIL_* environment variables onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ANVIL_OUT_DIR"); v != "" {
		cfg.OutDir = v
	}
	if v := os.Getenv("ANVIL_PYTHON"); v != "" {
		cfg.PythonBin = v
	}
	if v := os.Getenv("ANVIL_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("ANVIL_HISTORY"); v != "" {
		cfg.HistoryPath = v
	}
	if v := os.Getenv("ANVIL_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTurns = n
		}
	}
	if v := os.Getenv("ANVIL_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetryLimit = n
		}
	}
	if v := os.Getenv("ANVIL_MIN_TESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinTests = n
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive, got %d", c.MaxTurns)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry_limit must be >= 0, got %d", c.RetryLimit)
	}
	if c.MinTests < 1 {
		return fmt.Errorf("min_tests must be >= 1, got %d", c.MinTests)
	}
	if c.PythonBin == "" {
		return fmt.Errorf("python_bin must not be empty")
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir must not be empty")
	}
	return nil
}

// RetryLimitFor returns the retry budget for a phase, honoring
// per-phase overrides.
func (c Config) RetryLimitFor(phase string) int {
	if limit, ok := c.PhaseRetryLimits[phase]; ok && limit >= 0 {
		return limit
	}
	return c.RetryLimit
}
