// Package config manages application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	ythttp "ytsheets/http"
	"ytsheets/internal/retry"
	"ytsheets/pipeline"
	"ytsheets/quota"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names an explicit config file, skipping the search.
const EnvConfigPath = "YTSHEETS_CONFIG"

// Config holds all application configuration for a sync.
type Config struct {
	// APIKey is the YouTube Data API key.
	APIKey string `json:"api_key" yaml:"api_key"`
	// CredentialsFile is a Google service account JSON used for Sheets.
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`

	DailyQuota         int     `json:"daily_quota" yaml:"daily_quota" validate:"gt=0"`
	WarningThreshold   float64 `json:"warning_threshold" yaml:"warning_threshold" validate:"gt=0"`
	CriticalThreshold  float64 `json:"critical_threshold" yaml:"critical_threshold" validate:"gtfield=WarningThreshold"`
	ExhaustedThreshold float64 `json:"exhausted_threshold" yaml:"exhausted_threshold" validate:"gtfield=CriticalThreshold,lte=100"`
	QuotaHistoryDays   int     `json:"quota_history_days" yaml:"quota_history_days" validate:"gt=0"`
	// QuotaStateFile persists quota usage across runs. Empty keeps it in memory.
	QuotaStateFile string `json:"quota_state_file" yaml:"quota_state_file"`

	CacheEnabled bool `json:"cache_enabled" yaml:"cache_enabled"`
	// CacheFile persists ETag responses across runs. Empty keeps them in memory.
	CacheFile string `json:"cache_file" yaml:"cache_file"`

	// HistoryFile records runs and per-channel sync state. Empty disables it.
	HistoryFile string `json:"history_file" yaml:"history_file"`
	HistoryRuns int    `json:"history_runs" yaml:"history_runs" validate:"gt=0"`

	MaxConcurrency   int     `json:"max_concurrency" yaml:"max_concurrency" validate:"gt=0"`
	MinWorkers       int     `json:"min_workers" yaml:"min_workers" validate:"gt=0"`
	BatchFraction    float64 `json:"batch_fraction" yaml:"batch_fraction" validate:"gt=0,lte=1"`
	MinBatchSize     int     `json:"min_batch_size" yaml:"min_batch_size" validate:"gt=0"`
	MaxBatchSize     int     `json:"max_batch_size" yaml:"max_batch_size" validate:"gtefield=MinBatchSize"`
	HydrateBatchSize int     `json:"hydrate_batch_size" yaml:"hydrate_batch_size" validate:"min=1,max=50"`

	SuccessThreshold   float64       `json:"success_threshold" yaml:"success_threshold" validate:"gt=0,lte=1"`
	ShortFormThreshold time.Duration `json:"short_form_threshold" yaml:"short_form_threshold" validate:"gt=0"`

	RequestTimeout    time.Duration `json:"request_timeout" yaml:"request_timeout" validate:"gt=0"`
	RequestDelay      time.Duration `json:"request_delay" yaml:"request_delay" validate:"gte=0"`
	MaxRetries        int           `json:"max_retries" yaml:"max_retries" validate:"gte=0"`
	InitialBackoff    time.Duration `json:"initial_backoff" yaml:"initial_backoff" validate:"gt=0"`
	MaxBackoff        time.Duration `json:"max_backoff" yaml:"max_backoff" validate:"gtefield=InitialBackoff"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier" validate:"gt=1"`

	// DefaultMaxResults is used when a sync does not set --max.
	DefaultMaxResults int `json:"default_max_results" yaml:"default_max_results" validate:"min=1,max=500"`
}

// DefaultConfig returns configuration with safe defaults. State files live
// under the user cache directory when one exists.
func DefaultConfig() *Config {
	var quotaFile, cacheFile, historyFile string
	if dir, err := os.UserCacheDir(); err == nil {
		quotaFile = filepath.Join(dir, "ytsheets", "quota.json")
		cacheFile = filepath.Join(dir, "ytsheets", "cache.json")
		historyFile = filepath.Join(dir, "ytsheets", "history.json")
	}

	return &Config{
		DailyQuota:         10000,
		WarningThreshold:   70,
		CriticalThreshold:  85,
		ExhaustedThreshold: 95,
		QuotaHistoryDays:   30,
		QuotaStateFile:     quotaFile,
		CacheEnabled:       true,
		CacheFile:          cacheFile,
		HistoryFile:        historyFile,
		HistoryRuns:        100,
		MaxConcurrency:     10,
		MinWorkers:         5,
		BatchFraction:      0.1,
		MinBatchSize:       10,
		MaxBatchSize:       500,
		HydrateBatchSize:   50,
		SuccessThreshold:   0.8,
		ShortFormThreshold: 60 * time.Second,
		RequestTimeout:     15 * time.Second,
		RequestDelay:       100 * time.Millisecond,
		MaxRetries:         3,
		InitialBackoff:     1 * time.Second,
		MaxBackoff:         30 * time.Second,
		BackoffMultiplier:  2.0,
		DefaultMaxResults:  50,
	}
}

// Load loads configuration from environment variables, config file, and applies defaults.
// Priority: env vars > config file > defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(searchPaths()); err != nil {
		// Config file is optional
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// searchPaths lists candidate config files, most specific first. An
// explicit YTSHEETS_CONFIG replaces the search.
func searchPaths() []string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return []string{p}
	}
	home, _ := os.UserHomeDir()
	dir := filepath.Join(home, ".config", "ytsheets")
	return []string{
		"ytsheets.yaml",
		"ytsheets.yml",
		"ytsheets.json",
		filepath.Join(dir, "ytsheets.yaml"),
		filepath.Join(dir, "ytsheets.json"),
	}
}

// loadFromFile decodes the first existing path over c. JSON files go
// through the YAML decoder too, so durations may be written as "15s" in
// either format.
func (c *Config) loadFromFile(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}

		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadFromEnv overrides config with YTSHEETS_* environment variables. A
// malformed value is an error rather than silently ignored.
func (c *Config) loadFromEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("YTSHEETS_API_KEY", &c.APIKey)
	str("YTSHEETS_CREDENTIALS_FILE", &c.CredentialsFile)
	num("YTSHEETS_DAILY_QUOTA", &c.DailyQuota)
	str("YTSHEETS_QUOTA_STATE_FILE", &c.QuotaStateFile)
	boolean("YTSHEETS_CACHE_ENABLED", &c.CacheEnabled)
	str("YTSHEETS_CACHE_FILE", &c.CacheFile)
	str("YTSHEETS_HISTORY_FILE", &c.HistoryFile)
	num("YTSHEETS_MAX_CONCURRENCY", &c.MaxConcurrency)
	float("YTSHEETS_SUCCESS_THRESHOLD", &c.SuccessThreshold)
	dur("YTSHEETS_SHORT_FORM_THRESHOLD", &c.ShortFormThreshold)
	dur("YTSHEETS_REQUEST_TIMEOUT", &c.RequestTimeout)
	dur("YTSHEETS_REQUEST_DELAY", &c.RequestDelay)
	num("YTSHEETS_MAX_RETRIES", &c.MaxRetries)
	dur("YTSHEETS_INITIAL_BACKOFF", &c.InitialBackoff)
	dur("YTSHEETS_MAX_BACKOFF", &c.MaxBackoff)
	num("YTSHEETS_DEFAULT_MAX_RESULTS", &c.DefaultMaxResults)

	return errors.Join(errs...)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		validate = v
	})
	return validate
}

// Validate checks that configuration values are valid and consistent.
// The error names the first offending key.
func (c *Config) Validate() error {
	err := validatorInstance().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("config: %w", err)
	}
	fe := verrs[0]
	return fmt.Errorf("config: invalid %s: %s", fe.Field(), constraint(fe))
}

func constraint(fe validator.FieldError) string {
	field := func(name string) string {
		if f, ok := reflect.TypeOf(Config{}).FieldByName(name); ok {
			if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" {
				return tag
			}
		}
		return name
	}
	switch fe.Tag() {
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be negative"
	case "lte", "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "gtfield":
		return "must be greater than " + field(fe.Param())
	case "gtefield":
		return "must be at least " + field(fe.Param())
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// QuotaConfig projects c onto the quota tracker settings.
func (c *Config) QuotaConfig() quota.Config {
	return quota.Config{
		DailyBudget:      c.DailyQuota,
		WarningPercent:   c.WarningThreshold,
		CriticalPercent:  c.CriticalThreshold,
		ExhaustedPercent: c.ExhaustedThreshold,
		HistoryDays:      c.QuotaHistoryDays,
		StatePath:        c.QuotaStateFile,
	}
}

// RetryConfig projects c onto the backoff policy shared by both APIs.
func (c *Config) RetryConfig() retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = c.MaxRetries
	rc.InitialBackoff = c.InitialBackoff
	rc.MaxBackoff = c.MaxBackoff
	rc.Multiplier = c.BackoffMultiplier
	return rc
}

// TransportConfig projects c onto the HTTP transport settings.
func (c *Config) TransportConfig() ythttp.TransportConfig {
	tc := ythttp.DefaultTransportConfig()
	tc.RequestTimeout = c.RequestTimeout
	tc.RequestDelay = c.RequestDelay
	return tc
}

// OrchestratorConfig projects c onto the sync orchestrator settings.
func (c *Config) OrchestratorConfig() pipeline.Config {
	return pipeline.Config{
		MaxConcurrency:     c.MaxConcurrency,
		MinWorkers:         c.MinWorkers,
		BatchFraction:      c.BatchFraction,
		MinBatchSize:       c.MinBatchSize,
		MaxBatchSize:       c.MaxBatchSize,
		HydrateBatchSize:   c.HydrateBatchSize,
		SuccessThreshold:   c.SuccessThreshold,
		ShortFormThreshold: c.ShortFormThreshold,
	}
}
