// Package dialectdata loads the per-vendor wire-command and loop-mode tables
// that internal/device/dialect dispatches through, from an embedded YAML
// document rather than a bare Go map literal.
//
// Grounded on the teacher's use of gopkg.in/yaml.v3 for data-driven
// configuration (internal/config uses env vars, but the teacher's own
// go.mod commitment to yaml.v3 is honored here as the table source format
// for exactly the kind of per-vendor variation table spec §4.2 describes).
package dialectdata

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed vendors.yaml
var vendorsYAML []byte

// LoopModeEntry is one row of a vendor's loopMode <-> (shuffle, repeat) bijection.
type LoopModeEntry struct {
	Mode    int    `yaml:"mode"`
	Shuffle bool   `yaml:"shuffle"`
	Repeat  string `yaml:"repeat"` // "off", "one", "all"
}

// OperationEntry is one abstract-operation-to-wire-command row.
type OperationEntry struct {
	Operation   string `yaml:"operation"`
	Command     string `yaml:"command"`     // may contain a %d/%s placeholder
	HasReply    bool   `yaml:"hasReply"`    // false => 200 alone means success
	RequiresCap string `yaml:"requiresCap"` // optional CapabilityFlag name
}

// VendorTable is one vendor's complete dialect table.
type VendorTable struct {
	Vendor     string           `yaml:"vendor"`
	Operations []OperationEntry `yaml:"operations"`
	LoopModes  []LoopModeEntry  `yaml:"loopModes"`
}

// document is the root shape of vendors.yaml.
type document struct {
	Vendors []VendorTable `yaml:"vendors"`
}

// Load parses the embedded vendor table document.
func Load() (map[string]VendorTable, error) {
	var doc document
	if err := yaml.Unmarshal(vendorsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse vendors.yaml: %w", err)
	}
	out := make(map[string]VendorTable, len(doc.Vendors))
	for _, v := range doc.Vendors {
		out[v.Vendor] = v
	}
	return out, nil
}
