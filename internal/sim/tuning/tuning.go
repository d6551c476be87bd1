// Package tuning holds the knobs an operator may change without a rebuild:
// tuning.yaml first, then LW_* environment overrides.
package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"loreweave.ai/internal/content"
	"loreweave.ai/internal/sim/chronicle"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Chronicle Chronicle `yaml:"chronicle" envPrefix:"LW_CHRONICLE_"`
	Narration Narration `yaml:"narration" envPrefix:"LW_NARRATION_"`
	Content   Content   `yaml:"content" envPrefix:"LW_CONTENT_"`
	Persist   Persist   `yaml:"persist" envPrefix:"LW_PERSIST_"`
}

type Chronicle struct {
	// Threshold is the active-window budget in CostUnit.
	Threshold        int     `yaml:"threshold" env:"THRESHOLD"`
	SegmentFraction  float64 `yaml:"segment_fraction" env:"SEGMENT_FRACTION"`
	MaxEntities      int     `yaml:"max_entities" env:"MAX_ENTITIES"`
	SummaryTimeoutMs int     `yaml:"summary_timeout_ms" env:"SUMMARY_TIMEOUT_MS"`
	CostUnit         string  `yaml:"cost_unit" env:"COST_UNIT"` // tokens | chars | words
}

type Narration struct {
	TimeoutMs    int     `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	Model        string  `yaml:"model" env:"MODEL"`
	SummaryModel string  `yaml:"summary_model" env:"SUMMARY_MODEL"`
	Temperature  float32 `yaml:"temperature" env:"TEMPERATURE"`
}

type Content struct {
	MaxFileBytes        int `yaml:"max_file_bytes" env:"MAX_FILE_BYTES"`
	MaxLocations        int `yaml:"max_locations" env:"MAX_LOCATIONS"`
	MaxDescriptionBytes int `yaml:"max_description_bytes" env:"MAX_DESCRIPTION_BYTES"`
}

type Persist struct {
	RegistryDebounceMs int  `yaml:"registry_debounce_ms" env:"REGISTRY_DEBOUNCE_MS"`
	JournalEnabled     bool `yaml:"journal_enabled" env:"JOURNAL_ENABLED"`
}

func Defaults() Tuning {
	lim := content.DefaultLimits()
	return Tuning{
		ProtocolVersion: "1.0",
		Chronicle: Chronicle{
			Threshold:        6000,
			SegmentFraction:  0.25,
			MaxEntities:      32,
			SummaryTimeoutMs: 30000,
			CostUnit:         "tokens",
		},
		Narration: Narration{
			TimeoutMs:    45000,
			Model:        "gemini-2.5-flash",
			SummaryModel: "gemini-2.5-flash",
			Temperature:  0.8,
		},
		Content: Content{
			MaxFileBytes:        lim.MaxFileBytes,
			MaxLocations:        lim.MaxLocations,
			MaxDescriptionBytes: lim.MaxDescriptionBytes,
		},
		Persist: Persist{
			RegistryDebounceMs: 250,
			JournalEnabled:     true,
		},
	}
}

// Load reads path over Defaults and applies environment overrides. An empty
// path skips the file.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	if err := env.Parse(&t); err != nil {
		return t, fmt.Errorf("tuning env: %w", err)
	}
	return t, t.Validate()
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Chronicle.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("chronicle.threshold must be positive"))
	}
	if t.Chronicle.SegmentFraction <= 0 || t.Chronicle.SegmentFraction > 1 {
		errs = append(errs, fmt.Errorf("chronicle.segment_fraction must be in (0,1]"))
	}
	if _, err := chronicle.CostByName(t.Chronicle.CostUnit); err != nil {
		errs = append(errs, fmt.Errorf("chronicle.cost_unit: %w", err))
	}
	if t.Narration.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("narration.timeout_ms must be positive"))
	}
	return errors.Join(errs...)
}

func (t Tuning) ChronicleConfig() chronicle.Config {
	cost, err := chronicle.CostByName(t.Chronicle.CostUnit)
	if err != nil {
		cost = chronicle.TokenEstimate
	}
	return chronicle.Config{
		Threshold:       t.Chronicle.Threshold,
		SegmentFraction: t.Chronicle.SegmentFraction,
		MaxEntities:     t.Chronicle.MaxEntities,
		SummaryTimeout:  time.Duration(t.Chronicle.SummaryTimeoutMs) * time.Millisecond,
		Cost:            cost,
	}
}

func (t Tuning) NarrationTimeout() time.Duration {
	return time.Duration(t.Narration.TimeoutMs) * time.Millisecond
}

func (t Tuning) ContentLimits() content.Limits {
	return content.Limits{
		MaxFileBytes:        t.Content.MaxFileBytes,
		MaxLocations:        t.Content.MaxLocations,
		MaxDescriptionBytes: t.Content.MaxDescriptionBytes,
	}
}
