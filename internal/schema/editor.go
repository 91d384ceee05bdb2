package schema

import (
	"fmt"
	"slices"
)

// OptionsFor returns the ordered option list of a select or multi_select field.
func OptionsFor(f FieldDefinition) []string {
	if !f.Type.HasOptions() {
		return nil
	}
	return slices.Clone(f.Options)
}

// MoveOption moves the option at index from to index to. Stored values are
// option strings, so reordering never touches existing metadata.
func MoveOption(opts []string, from, to int) ([]string, error) {
	return move(opts, from, to)
}

// SchemaEditor edits a copy of a category's field list. Nothing is persisted
// until the result is handed to the store; shapes rendered under the previous
// schema are unaffected while an edit is in progress.
type SchemaEditor struct {
	base   Category
	fields []FieldDefinition
}

// NewSchemaEditor starts an edit session on a copy of c.
func NewSchemaEditor(c Category) *SchemaEditor {
	cc := c.Clone()
	return &SchemaEditor{base: cc, fields: cc.FieldsDefinition}
}

// Fields returns the working field list.
func (e *SchemaEditor) Fields() []FieldDefinition {
	out := make([]FieldDefinition, len(e.fields))
	for i, f := range e.fields {
		out[i] = f.clone()
	}
	return out
}

// SetDetails changes the category's name, color, and icon.
func (e *SchemaEditor) SetDetails(name, color, icon string) {
	e.base.Name = name
	e.base.Color = color
	e.base.Icon = icon
}

// Add appends a field. Its id must not already be in use.
func (e *SchemaEditor) Add(f FieldDefinition) error {
	if e.index(f.ID) >= 0 {
		return fmt.Errorf("%w: duplicate field id %q", ErrInvalidDefinition, f.ID)
	}
	e.fields = append(e.fields, f.clone())
	return nil
}

// Remove deletes the field with the given id.
func (e *SchemaEditor) Remove(id string) error {
	i := e.index(id)
	if i < 0 {
		return fmt.Errorf("%w: no field %q", ErrInvalidDefinition, id)
	}
	e.fields = slices.Delete(e.fields, i, i+1)
	return nil
}

// Move changes a field's position. Identity is unchanged.
func (e *SchemaEditor) Move(from, to int) error {
	moved, err := move(e.fields, from, to)
	if err != nil {
		return err
	}
	e.fields = moved
	return nil
}

// Rename changes a field's id. Metadata stored under the old id stays on
// existing shapes and is no longer recognised by the schema.
func (e *SchemaEditor) Rename(oldID, newID string) error {
	i := e.index(oldID)
	if i < 0 {
		return fmt.Errorf("%w: no field %q", ErrInvalidDefinition, oldID)
	}
	if oldID != newID && e.index(newID) >= 0 {
		return fmt.Errorf("%w: duplicate field id %q", ErrInvalidDefinition, newID)
	}
	e.fields[i].ID = newID
	return nil
}

// Update applies fn to the field with the given id. fn must not change the id; use Rename.
func (e *SchemaEditor) Update(id string, fn func(*FieldDefinition)) error {
	i := e.index(id)
	if i < 0 {
		return fmt.Errorf("%w: no field %q", ErrInvalidDefinition, id)
	}
	f := e.fields[i].clone()
	fn(&f)
	if f.ID != id {
		return fmt.Errorf("%w: field id changed from %q to %q; use Rename", ErrInvalidDefinition, id, f.ID)
	}
	e.fields[i] = f
	return nil
}

// Result validates and returns the edited category.
func (e *SchemaEditor) Result() (Category, error) {
	c := e.base.Clone()
	c.FieldsDefinition = e.Fields()
	if err := ValidateDefinition(&c); err != nil {
		return Category{}, err
	}
	return c, nil
}

func (e *SchemaEditor) index(id string) int {
	return slices.IndexFunc(e.fields, func(f FieldDefinition) bool { return f.ID == id })
}

func move[T any](s []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(s) || to < 0 || to >= len(s) {
		return nil, fmt.Errorf("move %d -> %d out of range [0,%d)", from, to, len(s))
	}
	out := slices.Clone(s)
	item := out[from]
	out = slices.Delete(out, from, from+1)
	out = slices.Insert(out, to, item)
	return out, nil
}
