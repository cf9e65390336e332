// Package pattern holds the target patterns playback planning
// consumes. Patterns are authored externally in isotropic pattern
// space and are read-only here.
package pattern

import (
	"encoding/json"
	"fmt"
	"os"
)

// Point is one target in isotropic pattern space [-1,1]^2 with a
// stable identifier.
type Point struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Pattern is an ordered set of target points.
type Pattern struct {
	Name   string  `json:"name,omitempty"`
	Points []Point `json:"points"`
}

// Load reads a pattern from a JSON file.
func Load(path string) (*Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pattern: read %s: %w", path, err)
	}
	var p Pattern
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("pattern: parse %s: %w", path, err)
	}
	for i, pt := range p.Points {
		if pt.ID == "" {
			return nil, fmt.Errorf("pattern: point %d has no id", i)
		}
	}
	return &p, nil
}
