/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package seed loads the governance runtime's static startup fixtures:
// the built-in system CapabilityBundles and the risk executor's
// provider→downgrade-target map. An operator can override the embedded
// default by pointing Load at a file on disk.
package seed

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/juanpasaflipz/legator-governance/internal/governance/capability"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// bundleSpec mirrors capability.Bundle's seed-relevant fields in the YAML
// fixture's naming.
type bundleSpec struct {
	Name    string   `yaml:"name"`
	ToolSet []string `yaml:"tool_set"`
}

type fixture struct {
	SystemBundles    []bundleSpec      `yaml:"system_bundles"`
	DowngradeTargets map[string]string `yaml:"downgrade_targets"`
}

// Fixture is the parsed startup seed data.
type Fixture struct {
	SystemBundles    []*capability.Bundle
	DowngradeTargets map[string]string
}

// Load parses the embedded default fixture, or the file at path if
// non-empty.
func Load(path string) (Fixture, error) {
	data := defaultsYAML
	if path != "" {
		d, err := os.ReadFile(path)
		if err != nil {
			return Fixture{}, fmt.Errorf("seed: read %s: %w", path, err)
		}
		data = d
	}

	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("seed: parse fixture: %w", err)
	}

	bundles := make([]*capability.Bundle, 0, len(f.SystemBundles))
	for _, b := range f.SystemBundles {
		bundles = append(bundles, &capability.Bundle{Name: b.Name, ToolSet: b.ToolSet, IsSystem: true})
	}

	return Fixture{SystemBundles: bundles, DowngradeTargets: f.DowngradeTargets}, nil
}
