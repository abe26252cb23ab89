// Package schema describes record types: their ordered fields, default
// values, sub-store capabilities and identity property.
//
// Definitions are looked up in a Registry by message class (with dotted
// inheritance), by MAPI object type, or by custom type. A definition is
// sealed the first time it is resolved for record creation; after that it
// can no longer be changed.
package schema

import (
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/recsync/internal/ir"
)

// FieldType names the value kind a field holds.
type FieldType string

const (
	TypeAuto   FieldType = "auto"
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
	TypeDate   FieldType = "date"
	TypeList   FieldType = "list"
	TypeObject FieldType = "object"
)

func (t FieldType) valid() bool {
	switch t {
	case TypeAuto, TypeString, TypeInt, TypeBool, TypeDate, TypeList, TypeObject:
		return true
	}
	return false
}

// Field is one named property of a record type.
type Field struct {
	Name          string
	Type          FieldType
	Default       ir.IRValue
	AllowBlank    bool
	ForceProtocol bool
}

// Schema is an immutable ordered list of fields.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema. Field names must be unique.
func NewSchema(fields ...Field) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if f.Name == "" {
			return nil, &DefinitionError{Field: "name", Message: "field name must not be empty"}
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, &DefinitionError{Field: f.Name, Message: "duplicate field name"}
		}
		if f.Type == "" {
			f.Type = TypeAuto
		}
		if !f.Type.valid() {
			return nil, &DefinitionError{Field: f.Name, Message: fmt.Sprintf("unknown field type %q", f.Type)}
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Has reports whether the schema declares name.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Defaults returns a fresh object holding every declared default.
func (s *Schema) Defaults() ir.IRObject {
	out := make(ir.IRObject)
	for _, f := range s.fields {
		if f.Default != nil {
			out[f.Name] = ir.Clone(f.Default)
		}
	}
	return out
}

// Convert coerces v to the declared type of field name. Null is always
// accepted.
func (s *Schema) Convert(name string, v ir.IRValue) (ir.IRValue, error) {
	f, ok := s.Field(name)
	if !ok {
		return nil, &FieldError{Field: name, Message: "unknown field"}
	}
	if ir.IsNull(v) {
		return ir.IRNull{}, nil
	}
	out, err := convert(f.Type, v)
	if err != nil {
		return nil, &FieldError{Field: name, Message: err.Error()}
	}
	return out, nil
}

// ConvertObject converts every key of data that the schema declares and
// drops the rest.
func (s *Schema) ConvertObject(data ir.IRObject) (ir.IRObject, error) {
	out := make(ir.IRObject, len(data))
	for k, v := range data {
		if !s.Has(k) {
			continue
		}
		cv, err := s.Convert(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}

// Validate returns one error per field that disallows blanks and holds a
// blank value.
func (s *Schema) Validate(data ir.IRObject) []error {
	var errs []error
	for _, f := range s.fields {
		if f.AllowBlank {
			continue
		}
		if ir.IsBlank(data[f.Name]) {
			errs = append(errs, &FieldError{Field: f.Name, Message: "must not be blank"})
		}
	}
	return errs
}

func convert(t FieldType, v ir.IRValue) (ir.IRValue, error) {
	switch t {
	case TypeAuto:
		return v, nil
	case TypeString:
		switch val := v.(type) {
		case ir.IRString:
			return val, nil
		case ir.IRInt:
			return ir.IRString(strconv.FormatInt(int64(val), 10)), nil
		case ir.IRBool:
			return ir.IRString(strconv.FormatBool(bool(val))), nil
		}
	case TypeInt:
		switch val := v.(type) {
		case ir.IRInt:
			return val, nil
		case ir.IRBool:
			if val {
				return ir.IRInt(1), nil
			}
			return ir.IRInt(0), nil
		case ir.IRString:
			n, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to int", string(val))
			}
			return ir.IRInt(n), nil
		}
	case TypeBool:
		switch val := v.(type) {
		case ir.IRBool:
			return val, nil
		case ir.IRInt:
			return ir.IRBool(val != 0), nil
		case ir.IRString:
			b, err := strconv.ParseBool(string(val))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to bool", string(val))
			}
			return ir.IRBool(b), nil
		}
	case TypeDate:
		switch val := v.(type) {
		case ir.IRTime:
			return val, nil
		case ir.IRInt:
			return ir.NewIRTimeUnix(int64(val)), nil
		case ir.IRString:
			ts, err := time.Parse(time.RFC3339, string(val))
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to date", string(val))
			}
			return ir.NewIRTime(ts), nil
		}
	case TypeList:
		if val, ok := v.(ir.IRArray); ok {
			return val, nil
		}
	case TypeObject:
		if val, ok := v.(ir.IRObject); ok {
			return val, nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}
