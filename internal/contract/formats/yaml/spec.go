package yaml

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is the runtime form of a YAML payload contract.
type Spec struct {
	Event       string            `yaml:"event"`
	Version     int               `yaml:"version"`
	Description string            `yaml:"description,omitempty"`
	StrictMode  bool              `yaml:"strictMode,omitempty"`
	Fields      map[string]*Field `yaml:"fields"`
}

// Field defines a single payload field.
//
// Fields support two declaration styles:
//
//	Shorthand (scalar): email: string!
//	Long form (mapping): plan:
//	                        type: string!
//	                        enum: [free, pro]
//
// Type names: string, bool, int32, int64, float, double, timestamp, bytes, decimal.
// Append "!" to mark a field as required.
type Field struct {
	// Type is the internal tag: "string", "boolean", "number", "timestamp", "bytes" or "decimal".
	Type string `yaml:"type"`

	// Kind is the numeric precision for number fields (int32, int64, float, double).
	Kind string `yaml:"-"`

	Required bool `yaml:"required,omitempty"`

	Enum []interface{} `yaml:"enum,omitempty"`

	Min *float64 `yaml:"min,omitempty"`
	Max *float64 `yaml:"max,omitempty"`

	MinLength *int   `yaml:"minLength,omitempty"`
	MaxLength *int   `yaml:"maxLength,omitempty"`
	Pattern   string `yaml:"pattern,omitempty"`

	compiledPattern *regexp.Regexp
}

// UnmarshalYAML accepts both the shorthand and the long form.
func (f *Field) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		return f.parseTypeString(value.Value)
	}

	type fieldAlias Field
	var alias fieldAlias
	if err := value.Decode(&alias); err != nil {
		return err
	}
	*f = Field(alias)

	if f.Type == "" {
		return fmt.Errorf("field missing 'type'")
	}
	return f.parseTypeString(f.Type)
}

func (f *Field) parseTypeString(s string) error {
	if strings.HasSuffix(s, "!") {
		f.Required = true
		s = strings.TrimSuffix(s, "!")
	}

	switch s {
	case "string":
		f.Type = "string"
	case "bool":
		f.Type = "boolean"
	case "int32", "int64", "float", "double":
		f.Type = "number"
		f.Kind = s
	case "timestamp", "bytes", "decimal":
		f.Type = s
	default:
		return fmt.Errorf("unsupported type %q (must be: string, bool, int32, int64, float, double, timestamp, bytes, decimal)", s)
	}
	return nil
}

// Validate checks the spec is structurally sound and compiles patterns.
func (s *Spec) Validate() error {
	if s.Event == "" {
		return fmt.Errorf("event type is required")
	}
	if s.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("contract must define at least one field")
	}

	for name, field := range s.Fields {
		if field == nil {
			return fmt.Errorf("field %q: type cannot be empty", name)
		}
		if err := field.validate(); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func (f *Field) validate() error {
	switch f.Type {
	case "string":
		return f.validateStringField()
	case "number":
		return f.validateNumberField()
	case "boolean", "timestamp", "bytes", "decimal":
		if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
			return fmt.Errorf("%s fields do not support length or pattern constraints", f.Type)
		}
		if len(f.Enum) > 0 {
			return fmt.Errorf("%s fields do not support enum constraints", f.Type)
		}
		if f.Type != "decimal" && (f.Min != nil || f.Max != nil) {
			return fmt.Errorf("%s fields do not support min/max constraints", f.Type)
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %q", f.Type)
	}
}

func (f *Field) validateStringField() error {
	if f.MinLength != nil && *f.MinLength < 0 {
		return fmt.Errorf("minLength cannot be negative")
	}
	if f.MaxLength != nil && *f.MaxLength < 0 {
		return fmt.Errorf("maxLength cannot be negative")
	}
	if f.MinLength != nil && f.MaxLength != nil && *f.MinLength > *f.MaxLength {
		return fmt.Errorf("minLength (%d) cannot exceed maxLength (%d)", *f.MinLength, *f.MaxLength)
	}

	if f.Pattern != "" {
		if len(f.Pattern) > 1000 {
			return fmt.Errorf("pattern too long (max 1000 chars)")
		}
		compiled, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		f.compiledPattern = compiled
	}

	for i, val := range f.Enum {
		if _, ok := val.(string); !ok {
			return fmt.Errorf("enum[%d]: expected string, got %T", i, val)
		}
	}
	return nil
}

func (f *Field) validateNumberField() error {
	switch f.Kind {
	case "int32", "int64", "float", "double":
	default:
		return fmt.Errorf("invalid number kind %q (must be: int32, int64, float, double)", f.Kind)
	}

	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("min (%v) cannot exceed max (%v)", *f.Min, *f.Max)
	}

	for i, val := range f.Enum {
		switch val.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Errorf("enum[%d]: expected number, got %T", i, val)
		}
	}

	if f.MinLength != nil || f.MaxLength != nil || f.Pattern != "" {
		return fmt.Errorf("number fields do not support length or pattern constraints")
	}
	return nil
}

// String returns a human-readable description of the field type.
func (f *Field) String() string {
	parts := []string{f.Type}
	if f.Kind != "" {
		parts = append(parts, fmt.Sprintf("(%s)", f.Kind))
	}
	if f.Required {
		parts = append(parts, "required")
	}
	if len(f.Enum) > 0 {
		parts = append(parts, fmt.Sprintf("enum[%d]", len(f.Enum)))
	}
	return strings.Join(parts, " ")
}
