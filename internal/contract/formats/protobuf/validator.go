package protobuf

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aevon-lab/eventkernel/internal/contract"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const timestampMessage protoreflect.FullName = "google.protobuf.Timestamp"

// Validator validates payloads against protobuf message descriptors using
// proto3 JSON mapping rules. Every field is optional.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) ValidateData(ctx context.Context, compiled *contract.Compiled, data map[string]interface{}) error {
	md, err := compiled.GetProtoDescriptor()
	if err != nil {
		return err
	}

	errs := v.validateMessage(compiled, md, "", data)
	if len(errs) > 0 {
		if len(errs) == 1 && len(errs[0].UnknownFields) > 0 {
			return errs[0]
		}
		return &contract.MultiValidationError{Errors: errs}
	}
	return nil
}

func (v *Validator) validateMessage(c *contract.Compiled, md protoreflect.MessageDescriptor, prefix string, data map[string]interface{}) []*contract.ValidationError {
	fields := md.Fields()
	known := make(map[string]protoreflect.FieldDescriptor, fields.Len()*2)
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		known[fd.JSONName()] = fd
		known[string(fd.Name())] = fd
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if c.StrictMode {
		var unknown []string
		for _, key := range keys {
			if _, ok := known[key]; !ok {
				unknown = append(unknown, prefix+key)
			}
		}
		if len(unknown) > 0 {
			return []*contract.ValidationError{contract.NewUnknownFieldsError(c.EventType, c.Version, unknown)}
		}
	}

	var errs []*contract.ValidationError
	for _, key := range keys {
		fd, ok := known[key]
		if !ok {
			continue
		}
		errs = append(errs, v.validateField(c, fd, prefix+fd.JSONName(), data[key])...)
	}
	return errs
}

func (v *Validator) validateField(c *contract.Compiled, fd protoreflect.FieldDescriptor, name string, value interface{}) []*contract.ValidationError {
	if value == nil {
		return nil
	}

	if fd.IsMap() {
		m, ok := value.(map[string]interface{})
		if !ok {
			return []*contract.ValidationError{contract.NewTypeMismatchError(c.EventType, c.Version, name, "object", jsonTypeName(value))}
		}
		var errs []*contract.ValidationError
		for k, item := range m {
			errs = append(errs, v.validateScalar(c, fd.MapValue(), fmt.Sprintf("%s[%q]", name, k), item)...)
		}
		return errs
	}

	if fd.IsList() {
		arr, ok := value.([]interface{})
		if !ok {
			return []*contract.ValidationError{contract.NewTypeMismatchError(c.EventType, c.Version, name, "array", jsonTypeName(value))}
		}
		var errs []*contract.ValidationError
		for i, item := range arr {
			errs = append(errs, v.validateScalar(c, fd, fmt.Sprintf("%s[%d]", name, i), item)...)
		}
		return errs
	}

	return v.validateScalar(c, fd, name, value)
}

func (v *Validator) validateScalar(c *contract.Compiled, fd protoreflect.FieldDescriptor, name string, value interface{}) []*contract.ValidationError {
	if value == nil {
		return nil
	}
	mismatch := func(expected string) []*contract.ValidationError {
		return []*contract.ValidationError{contract.NewTypeMismatchError(c.EventType, c.Version, name, expected, jsonTypeName(value))}
	}

	switch fd.Kind() {
	case protoreflect.BoolKind:
		if _, ok := value.(bool); !ok {
			return mismatch("bool")
		}

	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind,
		protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		switch n := value.(type) {
		case int, int32, int64, uint, uint32, uint64:
		case float64:
			if n != float64(int64(n)) {
				return mismatch("integer")
			}
		default:
			return mismatch("integer")
		}

	case protoreflect.FloatKind, protoreflect.DoubleKind:
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return mismatch("number")
		}

	case protoreflect.StringKind:
		if _, ok := value.(string); !ok {
			return mismatch("string")
		}

	case protoreflect.BytesKind:
		switch value.(type) {
		case string, []byte:
		default:
			return mismatch("bytes")
		}

	case protoreflect.EnumKind:
		switch value.(type) {
		case string, float64, int:
		default:
			return mismatch("string or integer (enum)")
		}

	case protoreflect.MessageKind:
		md := fd.Message()
		if md.FullName() == timestampMessage {
			switch t := value.(type) {
			case time.Time:
			case string:
				if _, err := time.Parse(time.RFC3339Nano, t); err != nil {
					return mismatch("RFC3339 timestamp")
				}
			default:
				return mismatch("timestamp")
			}
			return nil
		}
		m, ok := value.(map[string]interface{})
		if !ok {
			return mismatch("object")
		}
		return v.validateMessage(c, md, name+".", m)
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
