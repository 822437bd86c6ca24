package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz       int `yaml:"tick_rate_hz"`
	DBPersistEveryMs int `yaml:"db_persist_every_ms"`
	MaxBatchSize     int `yaml:"max_batch_size"`

	PositionThreshold float64 `yaml:"position_threshold"`
	RotationThreshold float64 `yaml:"rotation_threshold"`

	MaxSyncDistance float64 `yaml:"max_sync_distance"`
	CellSize        float64 `yaml:"cell_size"`

	PriorityTiers PriorityTiers `yaml:"priority_tiers"`
}

// PriorityTiers are the distance bands that throttle how often a source's
// deltas are relayed to a recipient.
type PriorityTiers struct {
	High    float64 `yaml:"high"`
	Medium  float64 `yaml:"medium"`
	Low     float64 `yaml:"low"`
	Minimal float64 `yaml:"minimal"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:   "1.0",
		TickRateHz:        20,
		DBPersistEveryMs:  5000,
		MaxBatchSize:      50,
		PositionThreshold: 0.01,
		RotationThreshold: 0.01,
		MaxSyncDistance:   2000,
		CellSize:          256,
		PriorityTiers: PriorityTiers{
			High:    50,
			Medium:  150,
			Low:     500,
			Minimal: 1000,
		},
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
