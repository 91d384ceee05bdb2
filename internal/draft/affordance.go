package draft

import (
	"fmt"

	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// Action is what pressing an affordance does.
type Action string

const (
	ActionBegin   Action = "begin"
	ActionConfirm Action = "confirm"
)

// Affordance describes one drawing button.
type Affordance struct {
	Kind    shape.Type `json:"kind"`
	Label   string     `json:"label"`
	Action  Action     `json:"action"`
	Visible bool       `json:"visible"`
	Enabled bool       `json:"enabled"`
}

// Affordances returns the add buttons for the current state. A button is
// visible in browse or in its own add mode, and only when its type is allowed.
// In its add mode it is disabled below the point threshold and becomes a
// confirm button once the threshold is met.
func (m *Manager) Affordances() []Affordance {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, adding := m.mode.Kind()
	out := make([]Affordance, 0, len(shape.Types))
	for _, t := range shape.Types {
		a := Affordance{
			Kind:   t,
			Label:  "add " + string(t),
			Action: ActionBegin,
		}
		if !m.allowed(t) || m.busy {
			out = append(out, a)
			continue
		}
		switch {
		case m.mode == ModeBrowse:
			a.Visible = true
			a.Enabled = true
		case adding && current == t:
			a.Visible = true
			if n := len(m.pending); n >= t.MinPoints() {
				a.Enabled = true
				a.Action = ActionConfirm
				a.Label = confirmLabel(n)
			}
		}
		out = append(out, a)
	}
	return out
}

func confirmLabel(n int) string {
	if n == 1 {
		return "confirm (1 point)"
	}
	return fmt.Sprintf("confirm (%d points)", n)
}
