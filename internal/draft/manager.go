package draft

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"github.com/ryanbastic/go-fieldmap/internal/geometry"
	"github.com/ryanbastic/go-fieldmap/internal/mapconfig"
	"github.com/ryanbastic/go-fieldmap/internal/schema"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// CategorySource supplies the current category list.
type CategorySource interface {
	Categories() []schema.Category
}

// State is a snapshot of an editing session.
type State struct {
	Mode          Mode          `json:"mode"`
	PendingPoints []shape.Point `json:"pending_points"`
	SelectedShape *shape.Shape  `json:"selected_shape,omitempty"`
	Busy          bool          `json:"busy"`
}

// Ticket identifies an in-flight save or delete. It goes stale when the
// editor is cancelled or closed before the operation finishes.
type Ticket struct {
	gen uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithUser sets the creator id given to new drafts.
func WithUser(id uuid.UUID) Option {
	return func(m *Manager) { m.user = id }
}

// WithGate restricts which shape types may be drawn.
func WithGate(gate func(shape.Type) bool) Option {
	return func(m *Manager) { m.gate = gate }
}

// WithControls restricts the edit and delete controls.
func WithControls(enabled func(mapconfig.Control) bool) Option {
	return func(m *Manager) { m.controls = enabled }
}

// WithCategories sets the source for the default category of new drafts.
func WithCategories(src CategorySource) Option {
	return func(m *Manager) { m.categories = src }
}

// WithLogger sets the logger used for transition traces.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager is the drawing state machine of one editing session. All state
// changes go through its methods.
type Manager struct {
	mu       sync.Mutex
	mode     Mode
	pending  []shape.Point
	selected *shape.Shape
	busy     bool
	gen      uint64

	user       uuid.UUID
	gate       func(shape.Type) bool
	controls   func(mapconfig.Control) bool
	categories CategorySource
	logger     *slog.Logger

	subs   map[int]func(State)
	nextID int
}

// NewManager returns a Manager in browse mode.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		mode: ModeBrowse,
		subs: make(map[int]func(State)),
	}
	for _, o := range opts {
		o(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

// User returns the session user.
func (m *Manager) User() uuid.UUID {
	return m.user
}

// SetGate replaces the shape-type gate, e.g. after the map configuration changed.
func (m *Manager) SetGate(gate func(shape.Type) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

// SetControls replaces the edit and delete control predicate.
func (m *Manager) SetControls(enabled func(mapconfig.Control) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controls = enabled
}

// Subscribe registers fn to receive a snapshot after every transition.
// The returned func removes the subscription.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// transition runs fn under the lock and notifies subscribers when it succeeds.
func (m *Manager) transition(name string, fn func() error) error {
	m.mu.Lock()
	if err := fn(); err != nil {
		mode := m.mode
		m.mu.Unlock()
		m.logger.Debug("transition refused", "op", name, "mode", mode, "error", err)
		return err
	}
	snap := m.snapshot()
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Debug("transition", "op", name, "mode", snap.Mode, "pending", len(snap.PendingPoints))
	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

func (m *Manager) snapshot() State {
	s := State{
		Mode:          m.mode,
		PendingPoints: slices.Clone(m.pending),
		SelectedShape: m.selected.Clone(),
		Busy:          m.busy,
	}
	if s.PendingPoints == nil {
		s.PendingPoints = []shape.Point{}
	}
	return s
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Manager) allowed(t shape.Type) bool {
	return m.gate == nil || m.gate(t)
}

func (m *Manager) enabled(ctl mapconfig.Control) error {
	if m.controls != nil && !m.controls(ctl) {
		return fmt.Errorf("%w: %s", ErrControlDisabled, ctl)
	}
	return nil
}

// BeginDrawing enters the add mode for kind. It is refused while a draft or edit is active.
func (m *Manager) BeginDrawing(kind shape.Type) error {
	return m.transition("begin_drawing", func() error {
		if _, err := shape.ParseType(string(kind)); err != nil {
			return err
		}
		if m.busy {
			return ErrBusy
		}
		if m.mode != ModeBrowse {
			return ErrDraftActive
		}
		if !m.allowed(kind) {
			return fmt.Errorf("%w: %s", ErrShapeNotAllowed, kind)
		}
		m.mode = AddMode(kind)
		m.pending = nil
		return nil
	})
}

// RecordPoint appends p to the pending buffer. In add-point mode the buffer
// holds at most one point and p replaces it.
func (m *Manager) RecordPoint(p shape.Point) error {
	return m.transition("record_point", func() error {
		if !m.mode.IsAdding() {
			return ErrNotDrawing
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPoint, err)
		}
		// a point shape has exactly one coordinate; a new click moves it
		if m.mode == ModeAddPoint {
			m.pending = m.pending[:0]
		}
		m.pending = append(m.pending, p)
		return nil
	})
}

// Confirm turns the pending buffer into a draft shape and enters edit-shape.
// The buffer is kept so ResumeDrawing can return to it.
func (m *Manager) Confirm() (*shape.Shape, error) {
	var draft *shape.Shape
	err := m.transition("confirm", func() error {
		kind, ok := m.mode.Kind()
		if !ok {
			return ErrNotDrawing
		}
		if need := kind.MinPoints(); len(m.pending) < need {
			return &InsufficientPointsError{Kind: kind, Have: len(m.pending), Need: need}
		}
		draft = &shape.Shape{
			Type:      kind,
			Metadata:  map[string]any{},
			CreatorID: m.user,
			Points:    shape.Sequence(uuid.Nil, m.pending),
		}
		if m.categories != nil {
			if cats := m.categories.Categories(); len(cats) > 0 {
				draft.CategoryID = cats[0].ID
			}
		}
		m.selected = draft
		m.mode = ModeEditShape
		return nil
	})
	if err != nil {
		return nil, err
	}
	return draft.Clone(), nil
}

// ResumeDrawing leaves the editor of an unsaved draft and returns to its
// add mode with the pending buffer intact.
func (m *Manager) ResumeDrawing() error {
	return m.transition("resume_drawing", func() error {
		if m.busy {
			return ErrBusy
		}
		if m.mode != ModeEditShape || m.selected == nil || !m.selected.IsDraft() {
			return ErrNotDraft
		}
		if len(m.pending) == 0 {
			return ErrNotDrawing
		}
		m.mode = AddMode(m.selected.Type)
		m.selected = nil
		return nil
	})
}

// Cancel returns to browse from any state. It always succeeds.
func (m *Manager) Cancel() {
	_ = m.transition("cancel", func() error {
		m.reset()
		return nil
	})
}

// CloseEditor is Cancel, used after a save or delete finished or on explicit close.
func (m *Manager) CloseEditor() {
	_ = m.transition("close_editor", func() error {
		m.reset()
		return nil
	})
}

func (m *Manager) reset() {
	m.mode = ModeBrowse
	m.pending = nil
	m.selected = nil
	m.busy = false
	m.gen++
}

// SelectForEdit opens the editor on a persisted shape. It is refused while
// the edit control is disabled.
func (m *Manager) SelectForEdit(s *shape.Shape) error {
	return m.transition("select_for_edit", func() error {
		if s == nil {
			return ErrNothingSelected
		}
		if s.IsDraft() {
			return ErrNotPersisted
		}
		if m.busy {
			return ErrBusy
		}
		if m.mode != ModeBrowse {
			return ErrDraftActive
		}
		if err := m.enabled(mapconfig.ControlEdit); err != nil {
			return err
		}
		m.selected = s.Clone()
		m.mode = ModeEditShape
		return nil
	})
}

// SetAttributes edits the selected shape's attributes. Type and geometry
// never change here. auto_id values cannot be set by the caller: they are
// dropped from a draft and kept at their stored value on a persisted shape.
func (m *Manager) SetAttributes(p shape.Patch) error {
	return m.transition("set_attributes", func() error {
		if m.selected == nil {
			return ErrNothingSelected
		}
		if m.busy {
			return ErrBusy
		}
		if p.Metadata != nil {
			catID := m.selected.CategoryID
			if p.CategoryID != nil {
				catID = *p.CategoryID
			}
			p.Metadata = m.protectAutoIDs(catID, p.Metadata)
		}
		p.Apply(m.selected)
		return nil
	})
}

func (m *Manager) protectAutoIDs(catID uuid.UUID, md map[string]any) map[string]any {
	out := shape.CloneMetadata(md)
	if m.categories == nil {
		return out
	}
	for _, c := range m.categories.Categories() {
		if c.ID != catID {
			continue
		}
		for _, f := range schema.AutoIDFields(&c) {
			delete(out, f.ID)
			if v, ok := m.selected.Metadata[f.ID]; ok && !m.selected.IsDraft() {
				out[f.ID] = v
			}
		}
	}
	return out
}

// BeginSave marks the session busy and returns the shape to submit.
func (m *Manager) BeginSave() (*shape.Shape, Ticket, error) {
	var (
		s *shape.Shape
		t Ticket
	)
	err := m.transition("begin_save", func() error {
		if m.selected == nil {
			return ErrNothingSelected
		}
		if m.busy {
			return ErrBusy
		}
		m.busy = true
		s = m.selected.Clone()
		t = Ticket{gen: m.gen}
		return nil
	})
	return s, t, err
}

// BeginDelete marks the session busy and returns the persisted shape to
// delete. It is refused while the delete control is disabled.
func (m *Manager) BeginDelete() (*shape.Shape, Ticket, error) {
	var (
		s *shape.Shape
		t Ticket
	)
	err := m.transition("begin_delete", func() error {
		if m.selected == nil {
			return ErrNothingSelected
		}
		if m.selected.IsDraft() {
			return ErrNotPersisted
		}
		if m.busy {
			return ErrBusy
		}
		if err := m.enabled(mapconfig.ControlDelete); err != nil {
			return err
		}
		m.busy = true
		s = m.selected.Clone()
		t = Ticket{gen: m.gen}
		return nil
	})
	return s, t, err
}

// EndSave finishes the operation started with t. On success the editor is
// closed; on failure the draft or edit stays as it was. A stale ticket is ignored.
func (m *Manager) EndSave(t Ticket, opErr error) error {
	return m.transition("end_save", func() error {
		if t.gen != m.gen {
			return ErrStaleTicket
		}
		if opErr == nil {
			m.reset()
			return nil
		}
		m.busy = false
		return nil
	})
}

// Preview returns the geometry to render for the current state: the pending
// buffer while drawing, the selected shape while editing, nil otherwise.
func (m *Manager) Preview() orb.Geometry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind, ok := m.mode.Kind(); ok {
		return geometry.Preview(kind, m.pending)
	}
	if m.selected != nil {
		g, err := geometry.Geometry(m.selected.Type, m.selected.OrderedPoints())
		if err != nil {
			return nil
		}
		return g
	}
	return nil
}
