package orchestrator

import (
	"fmt"
	"strings"

	"github.com/opentalon/autopilot/internal/capability"
)

// Catalog is the flattened capability list a plan is built against.
type Catalog []capability.Entry

func (c Catalog) Has(provider, name string) bool {
	for _, e := range c {
		if e.Provider.Name == provider && e.Capability.Name == name {
			return true
		}
	}
	return false
}

// Describe renders the catalog for the planning prompt.
func (c Catalog) Describe() string {
	var sb strings.Builder
	for _, e := range c {
		fmt.Fprintf(&sb, "- provider: %s\n  capability: %s\n", e.Provider.Name, e.Capability.Name)
		if e.Capability.Description != "" {
			fmt.Fprintf(&sb, "  description: %s\n", oneLine(e.Capability.Description))
		}
		fmt.Fprintf(&sb, "  arguments: %s\n", e.Capability.Schema.String())
	}
	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
