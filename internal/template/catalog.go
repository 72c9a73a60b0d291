// Package template ships the static preset library: named, versioned
// rule definitions authors clone into editable rules. Presets are data
// only; they carry no runtime behavior of their own.
package template

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/inboxkit/mailflow/internal/rule"
)

//go:embed presets.yaml
var presetsYAML []byte

// Preset is one catalog entry.
type Preset struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Category    string     `json:"category" yaml:"category"`
	Description string     `json:"description" yaml:"description"`
	Rule        *rule.Rule `json:"rule" yaml:"rule"`
}

// Catalog is the loaded preset library.
type Catalog struct {
	Version string   `json:"version" yaml:"version"`
	Presets []Preset `json:"presets" yaml:"presets"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(presetsYAML, &c); err != nil {
		return nil, fmt.Errorf("parse preset catalog: %w", err)
	}
	return &c, nil
}

// Get returns the preset with the given id.
func (c *Catalog) Get(id string) (*Preset, error) {
	for i := range c.Presets {
		if c.Presets[i].ID == id {
			return &c.Presets[i], nil
		}
	}
	return nil, fmt.Errorf("preset %q not found", id)
}

// Clone deep-copies a preset's rule into a fresh, inactive Rule with
// its own id, ready for the author to review and enable.
func (c *Catalog) Clone(presetID string) (*rule.Rule, error) {
	p, err := c.Get(presetID)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(p.Rule)
	if err != nil {
		return nil, fmt.Errorf("copy preset %s: %w", presetID, err)
	}
	var r rule.Rule
	if err := json.Unmarshal(buf, &r); err != nil {
		return nil, fmt.Errorf("copy preset %s: %w", presetID, err)
	}
	r.ID = uuid.New().String()
	r.Active = false
	r.ExecutionCount = 0
	return &r, nil
}
