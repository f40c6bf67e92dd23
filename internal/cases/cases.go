// Package cases loads candidate rewrites from JSON or YAML seed files.
package cases

import (
	"fmt"
	"os"
	"strings"

	"quill/internal/validation"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Case is one (schema, original, optimized) triple plus its annotations.
type Case struct {
	ID               string `json:"id" yaml:"id"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	Schema           string `json:"schema" yaml:"schema"`
	OriginalQuery    string `json:"original_query" yaml:"original_query"`
	OptimizedQuery   string `json:"optimized_query" yaml:"optimized_query"`
	OptimizationType string `json:"optimization_type,omitempty" yaml:"optimization_type,omitempty"`
	Explanation      string `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

type rawCase struct {
	ID               any    `yaml:"id"`
	Description      string `yaml:"description"`
	Schema           string `yaml:"schema"`
	OriginalQuery    string `yaml:"original_query"`
	OptimizedQuery   string `yaml:"optimized_query"`
	SlowQuery        string `yaml:"slow_query"`
	FastQuery        string `yaml:"fast_query"`
	OptimizationType string `yaml:"optimization_type"`
	Explanation      string `yaml:"explanation"`
}

const caseFileSchemaJSON = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["schema"],
    "properties": {
      "id": {"type": ["string", "integer"]},
      "description": {"type": "string"},
      "schema": {"type": "string"},
      "original_query": {"type": "string"},
      "optimized_query": {"type": "string"},
      "slow_query": {"type": "string"},
      "fast_query": {"type": "string"},
      "optimization_type": {"type": "string"},
      "explanation": {"type": "string"}
    },
    "anyOf": [
      {"required": ["original_query"]},
      {"required": ["slow_query"]}
    ]
  }
}`

var caseFileSchema = validation.MustCompileSchema(caseFileSchemaJSON, "cases.schema.json")

// Load reads a case file. JSON is accepted as YAML.
func Load(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read cases %s", path)
	}
	out, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "cases %s", path)
	}
	return out, nil
}

// Parse decodes and validates a list of cases.
func Parse(data []byte) ([]Case, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode cases")
	}
	if doc == nil {
		return nil, nil
	}
	if err := caseFileSchema.Validate(doc); err != nil {
		return nil, errors.Wrap(err, "invalid case file")
	}
	var raws []rawCase
	if err := yaml.Unmarshal(data, &raws); err != nil {
		return nil, errors.Wrap(err, "decode cases")
	}
	out := make([]Case, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for i, raw := range raws {
		c := raw.normalize(i)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, ok := seen[c.ID]; ok {
			return nil, errors.Errorf("duplicate case id %s", c.ID)
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func (r rawCase) normalize(idx int) Case {
	id := ""
	if r.ID != nil {
		id = strings.TrimSpace(fmt.Sprint(r.ID))
	}
	if id == "" {
		id = fmt.Sprintf("case-%03d", idx+1)
	}
	original := r.OriginalQuery
	if strings.TrimSpace(original) == "" {
		original = r.SlowQuery
	}
	optimized := r.OptimizedQuery
	if strings.TrimSpace(optimized) == "" {
		optimized = r.FastQuery
	}
	return Case{
		ID:               id,
		Description:      strings.TrimSpace(r.Description),
		Schema:           strings.TrimSpace(r.Schema),
		OriginalQuery:    strings.TrimSpace(original),
		OptimizedQuery:   strings.TrimSpace(optimized),
		OptimizationType: strings.TrimSpace(r.OptimizationType),
		Explanation:      strings.TrimSpace(r.Explanation),
	}
}

// Validate rejects cases that cannot be evaluated.
func (c Case) Validate() error {
	switch {
	case c.Schema == "":
		return errors.Errorf("case %s: schema is empty", c.ID)
	case c.OriginalQuery == "":
		return errors.Errorf("case %s: original query is empty", c.ID)
	case c.OptimizedQuery == "":
		return errors.Errorf("case %s: optimized query is empty", c.ID)
	}
	return nil
}
