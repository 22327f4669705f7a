package yaml

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aevon-lab/eventkernel/internal/contract"
	"github.com/shopspring/decimal"
)

// Validator validates payloads against YAML contracts. Payloads may be in
// JSON shape (times and bytes as strings) or native shape (time.Time, []byte,
// decimal.Decimal).
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) ValidateData(ctx context.Context, compiled *contract.Compiled, data map[string]interface{}) error {
	specIntf, err := compiled.GetYAMLSpec()
	if err != nil {
		return err
	}
	spec, ok := specIntf.(*Spec)
	if !ok {
		return fmt.Errorf("compiled contract is not a YAML Spec: %T", specIntf)
	}

	if compiled.StrictMode {
		var unknown []string
		for key := range data {
			if _, exists := spec.Fields[key]; !exists {
				unknown = append(unknown, key)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return contract.NewUnknownFieldsError(compiled.EventType, compiled.Version, unknown)
		}
	}

	names := make([]string, 0, len(spec.Fields))
	for name := range spec.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []*contract.ValidationError
	for _, name := range names {
		field := spec.Fields[name]
		value, exists := data[name]

		if !exists {
			if field.Required {
				ve := contract.NewRequiredFieldError(compiled.EventType, compiled.Version, name)
				ve.Format = string(contract.FormatYaml)
				errs = append(errs, ve)
			}
			continue
		}

		if ve := validateField(compiled, name, field, value); ve != nil {
			ve.Format = string(contract.FormatYaml)
			errs = append(errs, ve)
		}
	}

	if len(errs) > 0 {
		return &contract.MultiValidationError{Errors: errs}
	}
	return nil
}

func fieldError(c *contract.Compiled, field, format string, args ...interface{}) *contract.ValidationError {
	return &contract.ValidationError{
		EventType: c.EventType,
		Version:   c.Version,
		Field:     field,
		Message:   fmt.Sprintf(format, args...),
	}
}

func validateField(c *contract.Compiled, name string, spec *Field, value interface{}) *contract.ValidationError {
	if value == nil {
		if spec.Required {
			return fieldError(c, name, "required field cannot be null")
		}
		return nil
	}

	switch spec.Type {
	case "string":
		return validateString(c, name, spec, value)
	case "boolean":
		if _, ok := value.(bool); !ok {
			return contract.NewTypeMismatchError(c.EventType, c.Version, name, "boolean", jsonTypeName(value))
		}
		return nil
	case "number":
		return validateNumber(c, name, spec, value)
	case "timestamp":
		return validateTimestamp(c, name, value)
	case "bytes":
		return validateBytes(c, name, value)
	case "decimal":
		return validateDecimal(c, name, spec, value)
	default:
		return fieldError(c, name, "unknown field type: %s", spec.Type)
	}
}

func validateString(c *contract.Compiled, name string, spec *Field, value interface{}) *contract.ValidationError {
	str, ok := value.(string)
	if !ok {
		return contract.NewTypeMismatchError(c.EventType, c.Version, name, "string", jsonTypeName(value))
	}

	if len(spec.Enum) > 0 {
		found := false
		for _, allowed := range spec.Enum {
			if s, ok := allowed.(string); ok && s == str {
				found = true
				break
			}
		}
		if !found {
			return fieldError(c, name, "value %q not in enum %v", str, spec.Enum)
		}
	}

	length := len(str)
	if spec.MinLength != nil && length < *spec.MinLength {
		return fieldError(c, name, "string length %d is less than minimum %d", length, *spec.MinLength)
	}
	if spec.MaxLength != nil && length > *spec.MaxLength {
		return fieldError(c, name, "string length %d exceeds maximum %d", length, *spec.MaxLength)
	}
	if spec.compiledPattern != nil && !spec.compiledPattern.MatchString(str) {
		return fieldError(c, name, "string does not match pattern %q", spec.Pattern)
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func validateNumber(c *contract.Compiled, name string, spec *Field, value interface{}) *contract.ValidationError {
	num, ok := toFloat(value)
	if !ok {
		return contract.NewTypeMismatchError(c.EventType, c.Version, name, "number", jsonTypeName(value))
	}

	switch spec.Kind {
	case "int32":
		if num != math.Trunc(num) {
			return fieldError(c, name, "expected integer, got float with fractional part")
		}
		if num < math.MinInt32 || num > math.MaxInt32 {
			return fieldError(c, name, "value %v out of range for int32", num)
		}
	case "int64":
		if num != math.Trunc(num) {
			return fieldError(c, name, "expected integer, got float with fractional part")
		}
		if num < math.MinInt64 || num > math.MaxInt64 {
			return fieldError(c, name, "value %v out of range for int64", num)
		}
	case "float":
		if math.Abs(num) > math.MaxFloat32 {
			return fieldError(c, name, "value %v out of range for float32", num)
		}
	case "double":
	default:
		return fieldError(c, name, "unknown number kind: %s", spec.Kind)
	}

	if len(spec.Enum) > 0 {
		found := false
		for _, allowed := range spec.Enum {
			if n, ok := toFloat(allowed); ok && n == num {
				found = true
				break
			}
		}
		if !found {
			return fieldError(c, name, "value %v not in enum %v", num, spec.Enum)
		}
	}

	if spec.Min != nil && num < *spec.Min {
		return fieldError(c, name, "value %v is less than minimum %v", num, *spec.Min)
	}
	if spec.Max != nil && num > *spec.Max {
		return fieldError(c, name, "value %v exceeds maximum %v", num, *spec.Max)
	}
	return nil
}

func validateTimestamp(c *contract.Compiled, name string, value interface{}) *contract.ValidationError {
	switch t := value.(type) {
	case time.Time:
		return nil
	case string:
		if _, err := time.Parse(time.RFC3339Nano, t); err != nil {
			return fieldError(c, name, "invalid RFC3339 timestamp %q", t)
		}
		return nil
	default:
		return contract.NewTypeMismatchError(c.EventType, c.Version, name, "timestamp", jsonTypeName(value))
	}
}

func validateBytes(c *contract.Compiled, name string, value interface{}) *contract.ValidationError {
	switch b := value.(type) {
	case []byte:
		return nil
	case string:
		if _, err := base64.StdEncoding.DecodeString(b); err != nil {
			return fieldError(c, name, "invalid base64 string")
		}
		return nil
	default:
		return contract.NewTypeMismatchError(c.EventType, c.Version, name, "bytes", jsonTypeName(value))
	}
}

func validateDecimal(c *contract.Compiled, name string, spec *Field, value interface{}) *contract.ValidationError {
	var d decimal.Decimal
	switch n := value.(type) {
	case decimal.Decimal:
		d = n
	case string:
		parsed, err := decimal.NewFromString(n)
		if err != nil {
			return fieldError(c, name, "invalid decimal %q", n)
		}
		d = parsed
	default:
		f, ok := toFloat(value)
		if !ok {
			return contract.NewTypeMismatchError(c.EventType, c.Version, name, "decimal", jsonTypeName(value))
		}
		d = decimal.NewFromFloat(f)
	}

	if spec.Min != nil && d.LessThan(decimal.NewFromFloat(*spec.Min)) {
		return fieldError(c, name, "value %s is less than minimum %v", d, *spec.Min)
	}
	if spec.Max != nil && d.GreaterThan(decimal.NewFromFloat(*spec.Max)) {
		return fieldError(c, name, "value %s exceeds maximum %v", d, *spec.Max)
	}
	return nil
}

func jsonTypeName(v interface{}) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
