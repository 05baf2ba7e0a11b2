package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Driver tick; finishes are checked once per tick.
	TickRateHz int `yaml:"tick_rate_hz"`

	SnapshotEveryFinishes int    `yaml:"snapshot_every_finishes"`
	DefaultVariant        string `yaml:"default_variant"`

	// Multiplies every task duration. 0.01 makes a 10s task take 100ms.
	// Development only: any value other than 1 finishes tasks off their
	// authored duration.
	DurationScale float64 `yaml:"duration_scale"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	ActPerSecond float64 `yaml:"act_per_second"`
	ActBurst     int     `yaml:"act_burst"`
}

// DevSpeed reports that task durations are scaled away from the catalog.
func (t Tuning) DevSpeed() bool { return t.DurationScale != 1 }

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:       "1.0",
		TickRateHz:            10,
		SnapshotEveryFinishes: 50,
		DefaultVariant:        "universe",
		DurationScale:         1,
		RateLimits: RateLimits{
			ActPerSecond: 5,
			ActBurst:     10,
		},
	}
}

// Load reads path over Defaults; missing or non-positive fields keep the
// default value.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	var in Tuning
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.merge(in)
	return t, nil
}

func (t *Tuning) merge(in Tuning) {
	if in.ProtocolVersion != "" {
		t.ProtocolVersion = in.ProtocolVersion
	}
	if in.TickRateHz > 0 {
		t.TickRateHz = in.TickRateHz
	}
	if in.SnapshotEveryFinishes > 0 {
		t.SnapshotEveryFinishes = in.SnapshotEveryFinishes
	}
	if in.DefaultVariant != "" {
		t.DefaultVariant = in.DefaultVariant
	}
	if in.DurationScale > 0 {
		t.DurationScale = in.DurationScale
	}
	if in.RateLimits.ActPerSecond > 0 {
		t.RateLimits.ActPerSecond = in.RateLimits.ActPerSecond
	}
	if in.RateLimits.ActBurst > 0 {
		t.RateLimits.ActBurst = in.RateLimits.ActBurst
	}
}
