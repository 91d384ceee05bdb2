package schema

// ValidateRequired fails with a *FieldError wrapping ErrMissingRequiredField
// for the first required, user-editable field whose value is absent or empty.
// A nil category fails with ErrMissingCategory before any field is checked.
func ValidateRequired(c *Category, metadata map[string]any) error {
	if c == nil {
		return ErrMissingCategory
	}
	for _, f := range c.FieldsDefinition {
		if !f.Editable() || !f.Required {
			continue
		}
		if isEmpty(metadata[f.ID]) {
			return &FieldError{FieldID: f.ID, Err: ErrMissingRequiredField}
		}
	}
	return nil
}

// ValidateValues decodes every user-editable field present in metadata.
// auto_id keys and keys the schema no longer defines are skipped. Empty
// values of optional fields are accepted.
func ValidateValues(c *Category, metadata map[string]any) error {
	if c == nil {
		return ErrMissingCategory
	}
	for _, f := range c.FieldsDefinition {
		if !f.Editable() {
			continue
		}
		raw, ok := metadata[f.ID]
		if !ok || isEmpty(raw) {
			continue
		}
		if _, err := Decode(f, raw); err != nil {
			return err
		}
	}
	return nil
}

// Validate runs ValidateRequired followed by ValidateValues.
func Validate(c *Category, metadata map[string]any) error {
	if err := ValidateRequired(c, metadata); err != nil {
		return err
	}
	return ValidateValues(c, metadata)
}

// Normalize returns a copy of metadata with every decodable field value in its
// canonical stored form. Values that fail to decode and unknown keys are copied as is.
func Normalize(c *Category, metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	if c == nil {
		return out
	}
	for _, f := range c.FieldsDefinition {
		raw, ok := metadata[f.ID]
		if !ok || isEmpty(raw) {
			continue
		}
		if v, err := Decode(f, raw); err == nil {
			out[f.ID] = Encode(v)
		}
	}
	return out
}
