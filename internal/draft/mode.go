package draft

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// Mode is the interaction mode of an editing session.
type Mode string

const (
	ModeBrowse     Mode = "browse"
	ModeAddPoint   Mode = "add-point"
	ModeAddLine    Mode = "add-line"
	ModeAddPolygon Mode = "add-polygon"
	ModeEditShape  Mode = "edit-shape"
)

const addPrefix = "add-"

// AddMode returns the drawing mode for a shape type.
func AddMode(t shape.Type) Mode {
	return Mode(addPrefix + string(t))
}

// IsAdding reports whether m is one of the add-* modes.
func (m Mode) IsAdding() bool {
	return strings.HasPrefix(string(m), addPrefix)
}

// Kind returns the shape type being drawn in an add-* mode.
func (m Mode) Kind() (shape.Type, bool) {
	if !m.IsAdding() {
		return "", false
	}
	return shape.Type(strings.TrimPrefix(string(m), addPrefix)), true
}

var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrInvalidPoint       = errors.New("invalid point")
	ErrDraftActive        = errors.New("a draft or edit is already active")
	ErrNotDrawing         = errors.New("not drawing")
	ErrShapeNotAllowed    = errors.New("shape type not allowed")
	ErrControlDisabled    = errors.New("control disabled")
	ErrBusy               = errors.New("save or delete in progress")
	ErrNothingSelected    = errors.New("no shape selected")
	ErrNotPersisted       = errors.New("shape is not persisted")
	ErrNotDraft           = errors.New("selected shape is not a draft")
	ErrStaleTicket        = errors.New("editor changed since the operation started")
)

// InsufficientPointsError is returned by Confirm below the point threshold.
type InsufficientPointsError struct {
	Kind shape.Type
	Have int
	Need int
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("%s needs at least %d points, have %d", e.Kind, e.Need, e.Have)
}

func (e *InsufficientPointsError) Unwrap() error {
	return ErrInsufficientPoints
}

// IsValidation reports whether err is a recoverable input error rather than a refused transition.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInsufficientPoints) || errors.Is(err, ErrInvalidPoint)
}
