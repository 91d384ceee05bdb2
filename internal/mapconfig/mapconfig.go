package mapconfig

import (
	"fmt"
	"slices"

	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// Control names a map control that can be switched off.
type Control string

const (
	ControlAddPoint   Control = "add_point"
	ControlAddLine    Control = "add_line"
	ControlAddPolygon Control = "add_polygon"
	ControlEdit       Control = "edit"
	ControlDelete     Control = "delete"
)

// ControlFor returns the drawing control of a shape type.
func ControlFor(t shape.Type) Control {
	return Control("add_" + string(t))
}

// Config gates which drawing affordances are reachable. A nil *Config allows everything.
type Config struct {
	AllowedShapes   []shape.Type            `json:"allowed_shapes"`
	RoleOverrides   map[string][]shape.Type `json:"role_overrides,omitempty"`
	EnabledControls []Control               `json:"enabled_controls,omitempty"`
}

// Validate rejects unknown shape types.
func (c *Config) Validate() error {
	check := func(ts []shape.Type) error {
		for _, t := range ts {
			if _, err := shape.ParseType(string(t)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := check(c.AllowedShapes); err != nil {
		return fmt.Errorf("allowed_shapes: %w", err)
	}
	for role, ts := range c.RoleOverrides {
		if err := check(ts); err != nil {
			return fmt.Errorf("role_overrides[%s]: %w", role, err)
		}
	}
	return nil
}

// ShapesFor returns the shape types a role may draw. A role override
// replaces the global list; an empty global list allows every type.
func (c *Config) ShapesFor(role string) []shape.Type {
	if c == nil {
		return slices.Clone(shape.Types)
	}
	if ts, ok := c.RoleOverrides[role]; ok {
		return slices.Clone(ts)
	}
	if len(c.AllowedShapes) == 0 {
		return slices.Clone(shape.Types)
	}
	return slices.Clone(c.AllowedShapes)
}

// Enabled reports whether a control is switched on. An empty control list enables everything.
func (c *Config) Enabled(ctl Control) bool {
	if c == nil || len(c.EnabledControls) == 0 {
		return true
	}
	return slices.Contains(c.EnabledControls, ctl)
}

// Allows reports whether role may start drawing a shape of type t.
func (c *Config) Allows(role string, t shape.Type) bool {
	return slices.Contains(c.ShapesFor(role), t) && c.Enabled(ControlFor(t))
}

// Gate returns a predicate bound to role, suitable for a drawing session.
func (c *Config) Gate(role string) func(shape.Type) bool {
	return func(t shape.Type) bool { return c.Allows(role, t) }
}
