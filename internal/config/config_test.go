package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_PassesValidation(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.MaxTurns != want.MaxTurns || cfg.RetryLimit != want.RetryLimit || cfg.PythonBin != want.PythonBin {
		t.Errorf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	content := `{
  "out_dir": "artifacts",
  "max_turns": 50,
  "retry_limit": 4,
  "phase_retry_limits": {"implement": 6},
  "min_tests": 2,
  "python_bin": "python3.12",
  "validation_timeout_sec": 30
}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OutDir != "artifacts" || cfg.MaxTurns != 50 || cfg.RetryLimit != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.PythonBin != "python3.12" {
		t.Errorf("PythonBin = %q", cfg.PythonBin)
	}
	if cfg.ValidationTimeout != 30*time.Second {
		t.Errorf("ValidationTimeout = %v, want 30s", cfg.ValidationTimeout)
	}
	if cfg.DecisionTimeout != Default().DecisionTimeout {
		t.Errorf("DecisionTimeout = %v, want the default preserved", cfg.DecisionTimeout)
	}
	if got := cfg.RetryLimitFor("implement"); got != 6 {
		t.Errorf("RetryLimitFor(implement) = %d, want 6", got)
	}
	if got := cfg.RetryLimitFor("validate"); got != 4 {
		t.Errorf("RetryLimitFor(validate) = %d, want the default 4", got)
	}
}

func TestLoad_MalformedFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	content := `{"max_turns": 50, "out_dir": "from_file"}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("ANVIL_MAX_TURNS", "7")
	t.Setenv("ANVIL_OUT_DIR", "from_env")
	t.Setenv("ANVIL_RETRY_LIMIT", "not-a-number") // ignored, keeps prior value

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want the env override 7", cfg.MaxTurns)
	}
	if cfg.OutDir != "from_env" {
		t.Errorf("OutDir = %q, want the env override", cfg.OutDir)
	}
	if cfg.RetryLimit != Default().RetryLimit {
		t.Errorf("RetryLimit = %d, want unparseable env ignored", cfg.RetryLimit)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero max turns", func(c *Config) { c.MaxTurns = 0 }, true},
		{"negative retry limit", func(c *Config) { c.RetryLimit = -1 }, true},
		{"zero retry limit is allowed", func(c *Config) { c.RetryLimit = 0 }, false},
		{"zero min tests", func(c *Config) { c.MinTests = 0 }, true},
		{"empty python bin", func(c *Config) { c.PythonBin = "" }, true},
		{"empty out dir", func(c *Config) { c.OutDir = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

func TestRetryLimitFor_NegativeOverrideIgnored(t *testing.T) {
	cfg := Default()
	cfg.PhaseRetryLimits = map[string]int{"implement": -2}
	if got := cfg.RetryLimitFor("implement"); got != cfg.RetryLimit {
		t.Errorf("RetryLimitFor = %d, want fallback %d for a negative override", got, cfg.RetryLimit)
	}
}
