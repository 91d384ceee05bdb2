package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
)

// DateLayout is the ISO date format stored for date fields.
const DateLayout = "2006-01-02"

// Value is a decoded metadata value. The concrete type follows the field type.
type Value interface {
	fieldType() FieldType
}

type (
	TextValue        string
	NumberValue      float64
	BoolValue        bool
	DateValue        time.Time
	SelectValue      string
	MultiSelectValue []string
	AutoIDValue      int64
)

func (TextValue) fieldType() FieldType        { return FieldTypeText }
func (NumberValue) fieldType() FieldType      { return FieldTypeNumber }
func (BoolValue) fieldType() FieldType        { return FieldTypeBoolean }
func (DateValue) fieldType() FieldType        { return FieldTypeDate }
func (SelectValue) fieldType() FieldType      { return FieldTypeSelect }
func (MultiSelectValue) fieldType() FieldType { return FieldTypeMultiSelect }
func (AutoIDValue) fieldType() FieldType      { return FieldTypeAutoID }

// TypeOf returns the field type a value belongs to.
func TypeOf(v Value) FieldType {
	return v.fieldType()
}

// Decode converts a raw metadata value into the tagged value for field f.
func Decode(f FieldDefinition, raw any) (Value, error) {
	invalid := func(detail string, args ...any) error {
		return &FieldError{FieldID: f.ID, Err: ErrInvalidValue, Detail: fmt.Sprintf(detail, args...)}
	}

	switch f.Type {
	case FieldTypeText:
		s, ok := raw.(string)
		if !ok {
			return nil, invalid("want string, got %T", raw)
		}
		return TextValue(s), nil

	case FieldTypeNumber:
		n, ok := toFloat(raw)
		if !ok {
			return nil, invalid("want number, got %T", raw)
		}
		return NumberValue(n), nil

	case FieldTypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, invalid("want boolean, got %T", raw)
		}
		return BoolValue(b), nil

	case FieldTypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, invalid("want ISO date string, got %T", raw)
		}
		d, err := parseDate(s)
		if err != nil {
			return nil, invalid("%q is not an ISO date", s)
		}
		return DateValue(d), nil

	case FieldTypeSelect:
		s, ok := raw.(string)
		if !ok {
			return nil, invalid("want string, got %T", raw)
		}
		if !slices.Contains(f.Options, s) {
			return nil, invalid("%q is not an option", s)
		}
		return SelectValue(s), nil

	case FieldTypeMultiSelect:
		items, ok := toStrings(raw)
		if !ok {
			return nil, invalid("want list of strings, got %T", raw)
		}
		out := make(MultiSelectValue, 0, len(items))
		for _, s := range items {
			if !slices.Contains(f.Options, s) {
				return nil, invalid("%q is not an option", s)
			}
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
		return out, nil

	case FieldTypeAutoID:
		n, ok := toFloat(raw)
		if !ok || n != math.Trunc(n) {
			return nil, invalid("want integer, got %v", raw)
		}
		return AutoIDValue(int64(n)), nil
	}
	return nil, invalid("unknown field type %q", f.Type)
}

// Encode converts a tagged value back into its stored metadata form.
func Encode(v Value) any {
	switch vv := v.(type) {
	case TextValue:
		return string(vv)
	case NumberValue:
		return float64(vv)
	case BoolValue:
		return bool(vv)
	case DateValue:
		return time.Time(vv).Format(DateLayout)
	case SelectValue:
		return string(vv)
	case MultiSelectValue:
		return []string(slices.Clone(vv))
	case AutoIDValue:
		return int64(vv)
	}
	return nil
}

// ValueKind names the shape of value a field editor produces.
type ValueKind string

const (
	KindString   ValueKind = "string"
	KindNumber   ValueKind = "number"
	KindBool     ValueKind = "bool"
	KindDate     ValueKind = "date"
	KindOneOf    ValueKind = "one_of"
	KindSubsetOf ValueKind = "subset_of"
	KindInteger  ValueKind = "integer"
)

// Editor describes the input a field expects.
type Editor struct {
	FieldID  string    `json:"field_id"`
	Label    string    `json:"label"`
	Kind     ValueKind `json:"kind"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
	ReadOnly bool      `json:"read_only"`
	Visible  bool      `json:"visible"`
}

// FieldEditor maps a field to the value shape its editor produces.
func FieldEditor(f FieldDefinition) Editor {
	e := Editor{FieldID: f.ID, Label: f.Label, Required: f.Required, Visible: f.IsVisible()}
	switch f.Type {
	case FieldTypeText:
		e.Kind = KindString
	case FieldTypeNumber:
		e.Kind = KindNumber
	case FieldTypeBoolean:
		e.Kind = KindBool
	case FieldTypeDate:
		e.Kind = KindDate
	case FieldTypeSelect:
		e.Kind = KindOneOf
		e.Options = OptionsFor(f)
	case FieldTypeMultiSelect:
		e.Kind = KindSubsetOf
		e.Options = OptionsFor(f)
	case FieldTypeAutoID:
		e.Kind = KindInteger
		e.ReadOnly = true
		e.Required = false
	}
	return e
}

// Editors returns the editors for every field of c, in order.
func Editors(c *Category) []Editor {
	fields := ListFields(c)
	out := make([]Editor, len(fields))
	for i, f := range fields {
		out[i] = FieldEditor(f)
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func toFloat(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toStrings(raw any) ([]string, bool) {
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func isEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}
