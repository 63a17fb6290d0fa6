package datasource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/new-bakery/nga/pkg/apperrors"
)

// FieldSpec describes one connection parameter.
type FieldSpec struct {
	Required bool     `json:"required"`
	Title    string   `json:"title"`
	Hint     string   `json:"hint,omitempty"`
	Default  any      `json:"default,omitempty"`
	Secret   bool     `json:"secret,omitempty"`
	Allowed  []string `json:"allowed_values,omitempty"`

	// File upload fields
	FileUploader bool     `json:"file_uploader,omitempty"`
	Multiple     bool     `json:"multiple,omitempty"`
	AllowedExts  []string `json:"allowed_exts,omitempty"`
}

// ConnectionSchema maps parameter name to its description.
type ConnectionSchema map[string]FieldSpec

// Resolve validates params against the schema and returns a copy with
// defaults applied. Unknown parameters are passed through.
func (s ConnectionSchema) Resolve(params map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(s)+len(params))
	for k, v := range params {
		resolved[k] = v
	}

	var problems []string
	for _, name := range s.fieldNames() {
		spec := s[name]
		value, present := resolved[name]
		if !present || isBlank(value) {
			if spec.Default != nil {
				resolved[name] = spec.Default
				continue
			}
			if spec.Required {
				problems = append(problems, fmt.Sprintf("%s is required", name))
			}
			continue
		}

		if len(spec.Allowed) > 0 {
			str := fmt.Sprint(value)
			if !contains(spec.Allowed, str) {
				problems = append(problems, fmt.Sprintf("%s must be one of [%s], got %q",
					name, strings.Join(spec.Allowed, ", "), str))
			}
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrConfiguration, strings.Join(problems, "; "))
	}
	return resolved, nil
}

// SecretFields returns the names of secret parameters, sorted.
func (s ConnectionSchema) SecretFields() []string {
	var names []string
	for _, name := range s.fieldNames() {
		if s[name].Secret {
			names = append(names, name)
		}
	}
	return names
}

func (s ConnectionSchema) fieldNames() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	}
	return false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
