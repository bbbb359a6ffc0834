// Package kinds holds the job kind table: which kinds exist, which are
// composite (decomposed into ordered child jobs at creation), and which are
// background/system kinds for retention reporting. Component precedence is
// deployment policy, so the built-in table can be replaced wholesale from a
// YAML file.
package kinds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Definition struct {
	// Components lists child job kinds in execution precedence order.
	// Empty for simple kinds.
	Components []string `yaml:"components"`

	// System marks background/system-scheduled kinds, reported separately
	// from user-initiated work by the retention compactor.
	System bool `yaml:"system"`
}

type Registry struct {
	kinds map[string]Definition
}

// Defaults returns the built-in kind table. Firmware components follow the
// vendor-recommended flash order: BMC first so the management controller can
// supervise the rest, drives last.
func Defaults() *Registry {
	return &Registry{kinds: map[string]Definition{
		// simple kinds
		"firmware-flash":       {},
		"power-cycle":          {},
		"vm-clone":             {},
		"vm-migrate":           {},
		"replication-sync":     {System: true},
		"health-scan":          {System: true},
		"agent-upgrade":        {System: true},
		"firmware-bmc":         {},
		"firmware-bios":        {},
		"firmware-cpld":        {},
		"firmware-raid":        {},
		"firmware-nic":         {},
		"firmware-drives":      {},
		"provision-firmware":   {},
		"provision-hypervisor": {},
		"provision-network":    {},

		// composite kinds
		"full-update": {Components: []string{
			"firmware-bmc",
			"firmware-bios",
			"firmware-cpld",
			"firmware-raid",
			"firmware-nic",
			"firmware-drives",
		}},
		"host-provision": {Components: []string{
			"provision-firmware",
			"provision-hypervisor",
			"provision-network",
		}},
	}}
}

// Load reads a kind table from a YAML file, replacing the defaults. The file
// maps kind name to definition:
//
//	full-update:
//	  components: [firmware-bmc, firmware-bios]
//	health-scan:
//	  system: true
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var table map[string]Definition
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("invalid kind table %s: %w", path, err)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("kind table %s defines no kinds", path)
	}

	r := &Registry{kinds: table}
	for kind, def := range table {
		for _, comp := range def.Components {
			child, ok := table[comp]
			if !ok {
				return nil, fmt.Errorf("kind %s references unknown component %s", kind, comp)
			}
			if len(child.Components) > 0 {
				return nil, fmt.Errorf("kind %s: component %s is itself composite", kind, comp)
			}
		}
	}
	return r, nil
}

func (r *Registry) Known(kind string) bool {
	_, ok := r.kinds[kind]
	return ok
}

// Components returns the ordered child kinds of a composite kind, or nil
// for simple or unknown kinds.
func (r *Registry) Components(kind string) []string {
	return r.kinds[kind].Components
}

func (r *Registry) IsComposite(kind string) bool {
	return len(r.kinds[kind].Components) > 0
}

func (r *Registry) IsSystem(kind string) bool {
	return r.kinds[kind].System
}

// SystemKinds returns the names of all background/system kinds.
func (r *Registry) SystemKinds() []string {
	var out []string
	for kind, def := range r.kinds {
		if def.System {
			out = append(out, kind)
		}
	}
	return out
}
