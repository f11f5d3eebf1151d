// Package schema derives tool input schemas from Go structs and decodes tool
// input maps back into those structs.
package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/localrivet/sandboxsdk/protocol"
	"github.com/mitchellh/mapstructure"
)

// goTypeToSchemaType maps Go kinds to JSON Schema types.
func goTypeToSchemaType(kind reflect.Kind) string {
	switch kind {
	case reflect.String:
		return "string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	default:
		return "string"
	}
}

// FromStruct generates a protocol.ToolInputSchema from the fields of v.
//
// Property names come from the json tag, falling back to the lowercased field
// name. Non-pointer fields are required. The description, enum and format tags
// fill the matching schema keywords.
func FromStruct(v interface{}) protocol.ToolInputSchema {
	t := reflect.TypeOf(v)
	if t == nil {
		return protocol.ToolInputSchema{Type: "object"}
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return protocol.ToolInputSchema{Type: "object"}
	}

	props := map[string]protocol.PropertyDetail{}
	var required []string
	seen := make(map[string]bool)

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}

		name, omitempty, skip := fieldName(field)
		if skip {
			continue
		}

		fieldType := field.Type
		isPtr := fieldType.Kind() == reflect.Ptr
		if isPtr {
			fieldType = fieldType.Elem()
		}
		if !isPtr && !omitempty && !seen[name] {
			required = append(required, name)
			seen[name] = true
		}

		var enumValues []interface{}
		if enumTag := field.Tag.Get("enum"); enumTag != "" {
			for _, e := range strings.Split(enumTag, ",") {
				enumValues = append(enumValues, strings.TrimSpace(e))
			}
		}

		props[name] = protocol.PropertyDetail{
			Type:        goTypeToSchemaType(fieldType.Kind()),
			Description: field.Tag.Get("description"),
			Enum:        enumValues,
			Format:      field.Tag.Get("format"),
		}
	}

	return protocol.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

func fieldName(field reflect.StructField) (name string, omitempty, skip bool) {
	jsonTag := field.Tag.Get("json")
	if jsonTag == "-" {
		return "", false, true
	}
	parts := strings.Split(jsonTag, ",")
	name = parts[0]
	if name == "" {
		name = strings.ToLower(field.Name)
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

// Decode converts a tool input map into a T. Numbers and strings are coerced
// the way JSON round trips produce them, so a float64 input decodes into an
// int field. Required fields missing from input and values outside an enum
// tag are rejected.
func Decode[T any](input map[string]interface{}) (*T, error) {
	var args T
	if input == nil {
		input = map[string]interface{}{}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating argument decoder: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return nil, fmt.Errorf("parsing arguments: %w", err)
	}

	if err := validate(reflect.TypeOf(args), &args, input); err != nil {
		return nil, err
	}
	return &args, nil
}

func validate(t reflect.Type, args interface{}, input map[string]interface{}) error {
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	s := FromStruct(args)
	for _, name := range s.Required {
		if _, ok := input[name]; !ok {
			return fmt.Errorf("invalid arguments: %s is required", name)
		}
	}

	v := reflect.ValueOf(args).Elem()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		enumTag := field.Tag.Get("enum")
		value := v.Field(i)
		if enumTag == "" || value.Kind() != reflect.String || value.String() == "" {
			continue
		}
		allowed := false
		for _, a := range strings.Split(enumTag, ",") {
			if strings.TrimSpace(a) == value.String() {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("invalid arguments: %s must be one of [%s]", field.Name, enumTag)
		}
	}
	return nil
}
