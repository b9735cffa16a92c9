// Package pricing converts token usage into USD cost from a rate
// table. Costs are accounting signals only; nothing gates on them.
package pricing

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rates are per 1000 tokens. Combined applies when a model has no
// split input/output rates.
type Rates struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

// Table maps model names to rates. The zero Table prices everything
// at zero, which is the right behavior when no table is configured.
type Table struct {
	Default Rates            `yaml:"default"`
	Models  map[string]Rates `yaml:"models"`
}

// Load reads a rate table from a YAML file. A missing file returns an
// empty table, not an error.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, err
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Cost prices one call. Model lookup is exact first, then by prefix so
// dated snapshots ("gpt-4o-2024-08-06") inherit the base model's rates.
func (t *Table) Cost(model string, promptTokens, completionTokens int) float64 {
	r, ok := t.Models[model]
	if !ok {
		for name, candidate := range t.Models {
			if strings.HasPrefix(model, name) {
				r, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		r = t.Default
	}
	if r.InputPer1K == 0 && r.OutputPer1K == 0 {
		return r.CombinedPer1K * float64(promptTokens+completionTokens) / 1000
	}
	return r.InputPer1K*float64(promptTokens)/1000 +
		r.OutputPer1K*float64(completionTokens)/1000
}
