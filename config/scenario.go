// Package config loads driver-level scenario parameters for the
// towersim simulator. It never overrides the kernel's build-time
// protocol constants (types.NumNodes, types.Threshold, and friends) —
// those stay fixed, per spec, regardless of what a scenario file asks
// for.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PartitionWindow describes a span of slots during which a set of
// validator IDs is cut off from the rest, specified as [start, end).
type PartitionWindow struct {
	Start    uint64   `yaml:"start"`
	End      uint64   `yaml:"end"`
	Isolated []uint64 `yaml:"isolated"`
}

// Scenario is the set of parameters a towersim run reads from a yaml
// file: how many slots to simulate and when, if ever, to partition
// visibility.
type Scenario struct {
	Slots      uint64            `yaml:"slots"`
	Partitions []PartitionWindow `yaml:"partitions"`
}

// LoadScenario reads and parses a scenario file. A missing slots count
// defaults to 100.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Slots == 0 {
		s.Slots = 100
	}
	return &s, nil
}
