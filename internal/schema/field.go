package schema

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType is the value type of a metadata field.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeNumber      FieldType = "number"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiSelect FieldType = "multi_select"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeDate        FieldType = "date"
	FieldTypeAutoID      FieldType = "auto_id"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeSelect, FieldTypeMultiSelect,
		FieldTypeBoolean, FieldTypeDate, FieldTypeAutoID:
		return true
	}
	return false
}

// HasOptions reports whether fields of this type carry an option list.
func (t FieldType) HasOptions() bool {
	return t == FieldTypeSelect || t == FieldTypeMultiSelect
}

// FieldDefinition describes one metadata attribute of a category. ID is the
// metadata key and is used verbatim.
type FieldDefinition struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
	Visible  *bool     `json:"visible,omitempty"`
}

// Editable reports whether users may supply a value for the field.
func (f FieldDefinition) Editable() bool {
	return f.Type != FieldTypeAutoID
}

// IsVisible reports whether an auto_id field is shown. Other field types are always visible.
func (f FieldDefinition) IsVisible() bool {
	if f.Type != FieldTypeAutoID || f.Visible == nil {
		return true
	}
	return *f.Visible
}

func (f FieldDefinition) clone() FieldDefinition {
	c := f
	if f.Options != nil {
		c.Options = slices.Clone(f.Options)
	}
	if f.Visible != nil {
		v := *f.Visible
		c.Visible = &v
	}
	return c
}

// Category groups shapes and defines their metadata fields.
type Category struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	Color            string            `json:"color"`
	Icon             string            `json:"icon"`
	FieldsDefinition []FieldDefinition `json:"fields_definition"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Field looks up a field definition by id.
func (c *Category) Field(id string) (FieldDefinition, bool) {
	for _, f := range c.FieldsDefinition {
		if f.ID == id {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Clone returns a deep copy of the category.
func (c Category) Clone() Category {
	out := c
	if c.FieldsDefinition != nil {
		out.FieldsDefinition = make([]FieldDefinition, len(c.FieldsDefinition))
		for i, f := range c.FieldsDefinition {
			out.FieldsDefinition[i] = f.clone()
		}
	}
	return out
}

var (
	ErrMissingCategory      = errors.New("category is required")
	ErrUnknownCategory      = errors.New("unknown category")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid field value")
	ErrInvalidDefinition    = errors.New("invalid field definition")
)

// FieldError ties a validation failure to the field that caused it.
type FieldError struct {
	FieldID string
	Err     error
	Detail  string
}

func (e *FieldError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("field %q: %v: %s", e.FieldID, e.Err, e.Detail)
	}
	return fmt.Sprintf("field %q: %v", e.FieldID, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ListFields returns the category's field definitions in order.
func ListFields(c *Category) []FieldDefinition {
	if c == nil {
		return nil
	}
	return c.Clone().FieldsDefinition
}

// InputFields returns the fields shown on create and edit forms; auto_id fields are excluded.
func InputFields(c *Category) []FieldDefinition {
	var out []FieldDefinition
	for _, f := range ListFields(c) {
		if f.Editable() {
			out = append(out, f)
		}
	}
	return out
}

// AutoIDFields returns the category's auto_id fields in order.
func AutoIDFields(c *Category) []FieldDefinition {
	var out []FieldDefinition
	for _, f := range ListFields(c) {
		if f.Type == FieldTypeAutoID {
			out = append(out, f)
		}
	}
	return out
}

// IsValidKey reports whether key names a field in the category's current schema.
func IsValidKey(c *Category, key string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Field(key)
	return ok
}

// StaleKeys lists metadata keys the current schema no longer defines, sorted.
// They are kept on the shape; nothing migrates them.
func StaleKeys(c *Category, metadata map[string]any) []string {
	var out []string
	for k := range metadata {
		if !IsValidKey(c, k) {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// ValidateDefinition checks a category's field list.
func ValidateDefinition(c *Category) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: category name is empty", ErrInvalidDefinition)
	}
	seen := make(map[string]bool, len(c.FieldsDefinition))
	for i, f := range c.FieldsDefinition {
		if strings.TrimSpace(f.ID) == "" {
			return fmt.Errorf("%w: field #%d has empty id", ErrInvalidDefinition, i)
		}
		if seen[f.ID] {
			return fmt.Errorf("%w: duplicate field id %q", ErrInvalidDefinition, f.ID)
		}
		seen[f.ID] = true
		if !f.Type.Valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidDefinition, f.ID, f.Type)
		}
		if f.Type.HasOptions() {
			if len(f.Options) == 0 {
				return fmt.Errorf("%w: field %q needs at least one option", ErrInvalidDefinition, f.ID)
			}
			opts := make(map[string]bool, len(f.Options))
			for _, o := range f.Options {
				if o == "" {
					return fmt.Errorf("%w: field %q has an empty option", ErrInvalidDefinition, f.ID)
				}
				if opts[o] {
					return fmt.Errorf("%w: field %q repeats option %q", ErrInvalidDefinition, f.ID, o)
				}
				opts[o] = true
			}
		} else if len(f.Options) > 0 {
			return fmt.Errorf("%w: field %q of type %s cannot have options", ErrInvalidDefinition, f.ID, f.Type)
		}
		if f.Visible != nil && f.Type != FieldTypeAutoID {
			return fmt.Errorf("%w: field %q: visible applies to auto_id only", ErrInvalidDefinition, f.ID)
		}
	}
	return nil
}
