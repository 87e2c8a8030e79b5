// Package evaluation stores evaluator results and derives per-participant competency summaries.
package evaluation

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Competency describes one evaluated competency.
type Competency struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	NameEn string `yaml:"name_en" json:"nameEn"`
}

// Catalog is the ordered set of competencies the evaluator scores.
type Catalog struct {
	Competencies []Competency `yaml:"competencies"`
	byID         map[string]Competency
}

// DefaultCatalog returns the built-in case-study competencies.
func DefaultCatalog() *Catalog {
	c := &Catalog{Competencies: []Competency{
		{ID: "strategic_thinking", Name: "Tư duy chiến lược", NameEn: "Strategic Thinking"},
		{ID: "innovation", Name: "Đổi mới sáng tạo", NameEn: "Innovation"},
		{ID: "risk_balance", Name: "Cân bằng rủi ro", NameEn: "Risk Balance"},
		{ID: "digital_transformation", Name: "Chuyển đổi số", NameEn: "Digital Transformation"},
	}}
	c.index()
	return c
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse competency catalog: %w", err)
	}
	if len(c.Competencies) == 0 {
		return nil, fmt.Errorf("competency catalog is empty")
	}
	seen := make(map[string]bool, len(c.Competencies))
	for _, comp := range c.Competencies {
		if comp.ID == "" {
			return nil, fmt.Errorf("competency catalog entry without id")
		}
		if seen[comp.ID] {
			return nil, fmt.Errorf("duplicate competency id %q", comp.ID)
		}
		seen[comp.ID] = true
	}
	c.index()
	return &c, nil
}

// LoadCatalog reads a YAML catalog file. An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read competency catalog: %w", err)
	}
	return ParseCatalog(data)
}

func (c *Catalog) index() {
	c.byID = make(map[string]Competency, len(c.Competencies))
	for _, comp := range c.Competencies {
		c.byID[comp.ID] = comp
	}
}

// Lookup returns the competency with the given id.
func (c *Catalog) Lookup(id string) (Competency, bool) {
	comp, ok := c.byID[id]
	return comp, ok
}

// Name returns the display name for id, or id itself when unknown.
func (c *Catalog) Name(id string) string {
	if comp, ok := c.byID[id]; ok && comp.Name != "" {
		return comp.Name
	}
	return id
}

// Order returns the catalog position of id; unknown ids sort after known ones.
func (c *Catalog) Order(id string) int {
	for i, comp := range c.Competencies {
		if comp.ID == id {
			return i
		}
	}
	return len(c.Competencies)
}
