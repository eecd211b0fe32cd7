// Package config loads and validates the sf-bench evaluation engine configuration.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like "60s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the single knob record for the evaluation engine. All timeouts,
// retries, pool sizes, and paths live here; there are no open-ended kwargs
// anywhere in the pipeline.
type Config struct {
	General     General     `toml:"general"`
	Timeouts    Timeouts    `toml:"timeouts"`
	Retries     Retries     `toml:"retries"`
	Dispatch    Dispatch    `toml:"dispatch"`
	OrgProvider OrgProvider `toml:"org_provider"`
	Paths       Paths       `toml:"paths"`
}

// General holds top-level run configuration.
type General struct {
	MaxWorkers     int    `toml:"max_workers"`     // bounded worker pool size (default 3)
	Deterministic  bool   `toml:"deterministic"`   // recorded in the config; retry jitter does not consult it
	Seed           int64  `toml:"seed"`            // recorded in the config; no random source is seeded from it
	LogLevel       string `toml:"log_level"`       // debug, info, warn, error
	LogDev         bool   `toml:"log_dev"`         // text handler instead of JSON
	Backend        string `toml:"backend"`         // "pool" (default) or "durable" (temporal)
	SchemaVersion  string `toml:"schema_version"`  // EvaluationReport schema version, default "2.0"
}

// Timeouts carries every wall-clock budget used by the pipeline. All values
// are positive; Task-level timeouts must be positive too, and these are the
// engine-wide fallbacks when a task doesn't override them.
type Timeouts struct {
	Clone          Duration `toml:"clone"`           // git clone (default 300s)
	Checkout       Duration `toml:"checkout"`        // git checkout (default 300s)
	PatchApply     Duration `toml:"patch_apply"`     // per-strategy patch apply attempt (default 60s)
	Setup          Duration `toml:"setup"`           // runner setup fallback
	Run            Duration `toml:"run"`             // runner evaluate fallback
	FunctionalTest Duration `toml:"functional_test"` // functional validator step fallback
	OrgCreate      Duration `toml:"org_create"`      // scratch org creation
	OrgDelete      Duration `toml:"org_delete"`      // scratch org deletion
}

// Retries carries every backoff policy used by the pipeline.
type Retries struct {
	PatchPipeline RetryPolicy `toml:"patch_pipeline"` // up to 3 retries, base 1s, factor 2
	OrgCreation   RetryPolicy `toml:"org_creation"`   // 3 attempts, initial 2s, factor 2
	GitOperations RetryPolicy `toml:"git_operations"` // clone/checkout transient retry
}

// RetryPolicy controls exponential backoff for a retryable operation.
type RetryPolicy struct {
	MaxRetries    int      `toml:"max_retries"`
	InitialDelay  Duration `toml:"initial_delay"`
	BackoffFactor float64  `toml:"backoff_factor"`
	MaxDelay      Duration `toml:"max_delay"`
}

// Dispatch controls the subprocess gateway.
type Dispatch struct {
	Containerized    bool     `toml:"containerized"`      // run commands inside ephemeral containers via docker/docker
	ContainerImage   string   `toml:"container_image"`    // image used when Containerized is set
	WarningPrefixes  []string `toml:"warning_prefixes"`   // stderr lines to strip before classification
	AgentRateLimit   int      `toml:"agent_rate_limit"`   // calls/minute per agent for the optional patch producer (default 60)
}

// OrgProvider controls scratch-org provisioning.
type OrgProvider struct {
	DefinitionTemplateDir string `toml:"definition_template_dir"` // templates/ dir searched for a canonical scratch-org definition file
	DurationDays          int    `toml:"duration_days"`           // scratch org lifetime
	DailyCapacityFloor    int    `toml:"daily_capacity_floor"`    // CapacityInventory refuses to start below this
	ActiveCapacityFloor   int    `toml:"active_capacity_floor"`
}

// Paths controls where artifacts land.
type Paths struct {
	Workspace      string `toml:"workspace"`       // <workspace>/<instance_id> per-task clone dirs
	Results        string `toml:"results"`         // results/<instance_id>.json, results/summary.json
	Logs           string `toml:"logs"`            // logs/<run_id>/<model>/<instance_id>/*.log
	CheckpointDir  string `toml:"checkpoint_dir"`  // <checkpoint_dir>/<evaluation_id>_checkpoint.json
	HistoryDB      string `toml:"history_db"`      // sqlite run-history database
}

// Default returns the built-in zero-config defaults.
func Default() *Config {
	return &Config{
		General: General{
			MaxWorkers:    3,
			LogLevel:      "info",
			Backend:       "pool",
			SchemaVersion: "2.0",
		},
		Timeouts: Timeouts{
			Clone:          Duration{300 * time.Second},
			Checkout:       Duration{300 * time.Second},
			PatchApply:     Duration{60 * time.Second},
			Setup:          Duration{600 * time.Second},
			Run:            Duration{600 * time.Second},
			FunctionalTest: Duration{300 * time.Second},
			OrgCreate:      Duration{600 * time.Second},
			OrgDelete:      Duration{120 * time.Second},
		},
		Retries: Retries{
			PatchPipeline: RetryPolicy{
				MaxRetries: 3, InitialDelay: Duration{time.Second}, BackoffFactor: 2.0, MaxDelay: Duration{30 * time.Second},
			},
			OrgCreation: RetryPolicy{
				MaxRetries: 2, InitialDelay: Duration{2 * time.Second}, BackoffFactor: 2.0, MaxDelay: Duration{60 * time.Second},
			},
			GitOperations: RetryPolicy{
				MaxRetries: 3, InitialDelay: Duration{time.Second}, BackoffFactor: 2.0, MaxDelay: Duration{30 * time.Second},
			},
		},
		Dispatch: Dispatch{
			WarningPrefixes: []string{"Warning: @salesforce/cli update available"},
			AgentRateLimit:  60,
		},
		OrgProvider: OrgProvider{
			DurationDays:        1,
			DailyCapacityFloor:  1,
			ActiveCapacityFloor: 1,
		},
		Paths: Paths{
			Workspace:     "workspace",
			Results:       "results",
			Logs:          "logs",
			CheckpointDir: "checkpoints",
			HistoryDB:     "history.db",
		},
	}
}

// Load reads and validates a TOML configuration file, then applies
// SF_BENCH_<KEY> environment overrides on top of the merged result.
// Precedence (lowest to highest): built-in defaults, file values, environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.General.MaxWorkers <= 0 {
		return fmt.Errorf("general.max_workers must be positive, got %d", cfg.General.MaxWorkers)
	}
	if cfg.Timeouts.Clone.Duration <= 0 || cfg.Timeouts.Checkout.Duration <= 0 {
		return fmt.Errorf("clone/checkout timeouts must be positive")
	}
	if cfg.Timeouts.PatchApply.Duration <= 0 {
		return fmt.Errorf("patch_apply timeout must be positive")
	}
	switch cfg.General.Backend {
	case "pool", "durable":
	default:
		return fmt.Errorf("unsupported general.backend %q (want pool or durable)", cfg.General.Backend)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without racing a shared config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Dispatch.WarningPrefixes = append([]string(nil), c.Dispatch.WarningPrefixes...)
	return &cp
}

// applyEnvOverrides walks the Config struct by reflection, looking for
// SF_BENCH_<SECTION>_<FIELD> environment variables (upper-snake-case of the
// TOML tag path) and coercing them from string.
func applyEnvOverrides(cfg *Config) error {
	return overrideStruct("SF_BENCH", reflect.ValueOf(cfg).Elem())
}

func overrideStruct(prefix string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("toml")
		if tag == "" || tag == "-" {
			continue
		}
		name := prefix + "_" + strings.ToUpper(tag)
		fv := v.Field(i)

		switch fv.Kind() {
		case reflect.Struct:
			if fv.Type() == reflect.TypeOf(Duration{}) {
				if raw, ok := os.LookupEnv(name); ok {
					d, err := time.ParseDuration(raw)
					if err != nil {
						return fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
					}
					fv.Set(reflect.ValueOf(Duration{d}))
				}
				continue
			}
			if err := overrideStruct(name, fv); err != nil {
				return err
			}
		case reflect.Map:
			// Maps (e.g. future per-project overrides) are not addressed by
			// environment overrides; skip them.
			continue
		case reflect.Slice:
			if raw, ok := os.LookupEnv(name); ok {
				parts := strings.Split(raw, ",")
				for i := range parts {
					parts[i] = strings.TrimSpace(parts[i])
				}
				fv.Set(reflect.ValueOf(parts))
			}
		default:
			raw, ok := os.LookupEnv(name)
			if !ok {
				continue
			}
			if err := setScalar(fv, raw, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func setScalar(fv reflect.Value, raw, name string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid bool %q: %w", name, raw, err)
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid int %q: %w", name, raw, err)
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid float %q: %w", name, raw, err)
		}
		fv.SetFloat(f)
	default:
		return fmt.Errorf("%s: unsupported override type %s", name, fv.Kind())
	}
	return nil
}
