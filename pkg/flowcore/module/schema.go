package module

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"
)

// Schema is a JSON-Schema style description of a Module input or output.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
	// AdditionalProperties describes map values.
	AdditionalProperties *Schema `json:"additionalProperties,omitempty"`
}

// String renders the schema as compact JSON.
func (s *Schema) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(b)
}

var (
	timeType    = reflect.TypeFor[time.Time]()
	rawJSONType = reflect.TypeFor[json.RawMessage]()
)

// SchemaOf derives a Schema from t. Struct fields follow their json tags;
// a `description` tag documents a field. Interface types and recursive
// references produce an empty (any) schema. A nil t yields nil.
func SchemaOf(t reflect.Type) *Schema {
	if t == nil {
		return nil
	}
	return schemaOf(t, map[reflect.Type]bool{})
}

func schemaOf(t reflect.Type, seen map[reflect.Type]bool) *Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t {
	case timeType:
		return &Schema{Type: "string", Description: "RFC 3339 timestamp"}
	case rawJSONType:
		return &Schema{}
	}

	switch t.Kind() {
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return &Schema{Type: "string", Description: "base64 bytes"}
		}
		return &Schema{Type: "array", Items: schemaOf(t.Elem(), seen)}
	case reflect.Map:
		return &Schema{Type: "object", AdditionalProperties: schemaOf(t.Elem(), seen)}
	case reflect.Struct:
		if seen[t] {
			return &Schema{Type: "object"}
		}
		seen[t] = true
		defer delete(seen, t)
		return structSchema(t, seen)
	default:
		return &Schema{}
	}
}

func structSchema(t reflect.Type, seen map[reflect.Type]bool) *Schema {
	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(f)
		if skip {
			continue
		}
		if f.Anonymous && name == f.Name && f.Type.Kind() == reflect.Struct {
			embedded := schemaOf(f.Type, seen)
			for k, v := range embedded.Properties {
				s.Properties[k] = v
			}
			s.Required = append(s.Required, embedded.Required...)
			continue
		}
		fs := schemaOf(f.Type, seen)
		if desc := f.Tag.Get("description"); desc != "" {
			fs.Description = desc
		}
		s.Properties[name] = fs
		if !omitEmpty && f.Type.Kind() != reflect.Pointer {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func jsonName(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	for _, o := range strings.Split(opts, ",") {
		if o == "omitempty" || o == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}
