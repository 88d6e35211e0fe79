package pipeline

import (
	"errors"
	"testing"
	"time"
)

func validRunConfig() RunConfig {
	return RunConfig{
		Channels: []string{"@creator", "UC0123456789abcdefghijkl"},
		Filter:   FilterSpec{MaxResults: 50},
		Destination: Destination{
			SpreadsheetID: "1abcDEF",
			Tab:           "Videos",
		},
	}
}

func TestRunConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*RunConfig)
		wantField string
	}{
		{name: "valid", mutate: func(*RunConfig) {}},
		{
			name:      "no channels",
			mutate:    func(c *RunConfig) { c.Channels = nil },
			wantField: "channels",
		},
		{
			name:      "bad channel ref",
			mutate:    func(c *RunConfig) { c.Channels = []string{"@creator", "not a channel"} },
			wantField: "channels[1]",
		},
		{
			name:      "missing spreadsheet",
			mutate:    func(c *RunConfig) { c.Destination.SpreadsheetID = "" },
			wantField: "destination.spreadsheet_id",
		},
		{
			name:      "empty tab",
			mutate:    func(c *RunConfig) { c.Destination.Tab = "" },
			wantField: "destination.tab",
		},
		{
			name:      "tab with slash",
			mutate:    func(c *RunConfig) { c.Destination.Tab = "a/b" },
			wantField: "destination.tab",
		},
		{
			name:      "max results zero",
			mutate:    func(c *RunConfig) { c.Filter.MaxResults = 0 },
			wantField: "filter.max_results",
		},
		{
			name:      "max results too large",
			mutate:    func(c *RunConfig) { c.Filter.MaxResults = 501 },
			wantField: "filter.max_results",
		},
		{
			name:      "unknown mode",
			mutate:    func(c *RunConfig) { c.Filter.Mode = "maybe" },
			wantField: "filter.mode",
		},
		{
			name:      "negative min duration",
			mutate:    func(c *RunConfig) { c.Filter.MinDuration = -time.Second },
			wantField: "filter.min_duration",
		},
		{
			name:      "empty keyword",
			mutate:    func(c *RunConfig) { c.Filter.Keywords = []string{"ok", ""} },
			wantField: "filter.keywords[1]",
		},
		{
			name:      "negative batch size",
			mutate:    func(c *RunConfig) { c.BatchSize = -1 },
			wantField: "batch_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validRunConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %T is not a *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (%v)", verr.Field, tt.wantField, err)
			}
		})
	}
}

func TestValidatorRegistersCustomTags(t *testing.T) {
	v, err := validatorInstance()
	if err != nil {
		t.Fatalf("validatorInstance() error = %v", err)
	}
	if err := v.Var("@creator", "channelref"); err != nil {
		t.Errorf("channelref rejected a handle: %v", err)
	}
	if err := v.Var("a/b", "tabname"); err == nil {
		t.Error("tabname accepted a slash")
	}
}
