package shape

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Type is the geometry kind of a shape.
type Type string

const (
	TypePoint   Type = "point"
	TypeLine    Type = "line"
	TypePolygon Type = "polygon"
)

// Types lists every shape type in display order.
var Types = []Type{TypePoint, TypeLine, TypePolygon}

// ErrUnknownType is returned when a string does not name a shape type.
var ErrUnknownType = errors.New("unknown shape type")

// ParseType converts s into a Type.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypePoint, TypeLine, TypePolygon:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// MinPoints is the number of points a shape of this type needs.
func (t Type) MinPoints() int {
	switch t {
	case TypePoint:
		return 1
	case TypeLine:
		return 2
	case TypePolygon:
		return 3
	}
	return 0
}

// Point is a WGS84 coordinate.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects non-finite or out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || math.IsInf(p.Latitude, 0) ||
		math.IsNaN(p.Longitude) || math.IsInf(p.Longitude, 0) {
		return errors.New("coordinate is not a finite number")
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", p.Longitude)
	}
	return nil
}

// ShapePoint orders a point within a shape. SequenceOrder is dense, starting at 1.
type ShapePoint struct {
	ShapeID       uuid.UUID `json:"shape_id"`
	PointID       uuid.UUID `json:"point_id"`
	SequenceOrder int       `json:"sequence_order"`
	Point         Point     `json:"point"`
}

// Shape is a geographic feature. A nil ID marks an unsaved draft.
type Shape struct {
	ID              uuid.UUID      `json:"id"`
	Type            Type           `json:"type"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	LocationAddress string         `json:"location_address"`
	CategoryID      uuid.UUID      `json:"category_id"`
	Metadata        map[string]any `json:"metadata"`
	CreatorID       uuid.UUID      `json:"creator_id"`
	CreatedAt       time.Time      `json:"created_at"`
	Points          []ShapePoint   `json:"points"`
}

// IsDraft reports whether the shape has not been persisted yet.
func (s *Shape) IsDraft() bool {
	return s.ID == uuid.Nil
}

// HasCategory reports whether a category is assigned.
func (s *Shape) HasCategory() bool {
	return s.CategoryID != uuid.Nil
}

// OrderedPoints returns the shape's coordinates sorted by sequence order.
func (s *Shape) OrderedPoints() []Point {
	sp := make([]ShapePoint, len(s.Points))
	copy(sp, s.Points)
	sort.SliceStable(sp, func(i, j int) bool {
		return sp[i].SequenceOrder < sp[j].SequenceOrder
	})
	out := make([]Point, len(sp))
	for i, p := range sp {
		out[i] = p.Point
	}
	return out
}

// Clone returns a deep copy of the shape.
func (s *Shape) Clone() *Shape {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = CloneMetadata(s.Metadata)
	if s.Points != nil {
		c.Points = make([]ShapePoint, len(s.Points))
		copy(c.Points, s.Points)
	}
	return &c
}

// CloneMetadata copies a metadata map one level deep, including slice values.
func CloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case []any:
			cp := make([]any, len(vv))
			copy(cp, vv)
			out[k] = cp
		case []string:
			cp := make([]string, len(vv))
			copy(cp, vv)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}

// Sequence builds ShapePoints for pts with sequence orders 1..N.
func Sequence(shapeID uuid.UUID, pts []Point) []ShapePoint {
	out := make([]ShapePoint, len(pts))
	for i, p := range pts {
		out[i] = ShapePoint{ShapeID: shapeID, SequenceOrder: i + 1, Point: p}
	}
	return out
}

// CreateRequest is what the store needs to persist a new shape.
type CreateRequest struct {
	Type            Type           `json:"type"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	LocationAddress string         `json:"location_address"`
	CategoryID      uuid.UUID      `json:"category_id"`
	Metadata        map[string]any `json:"metadata"`
	CreatorID       uuid.UUID      `json:"creator_id"`
	Points          []Point        `json:"points"`
}

// Patch is a partial attribute update. Nil fields are left unchanged; a
// non-nil Metadata replaces the stored map.
type Patch struct {
	Name            *string        `json:"name,omitempty"`
	Description     *string        `json:"description,omitempty"`
	LocationAddress *string        `json:"location_address,omitempty"`
	CategoryID      *uuid.UUID     `json:"category_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.LocationAddress == nil &&
		p.CategoryID == nil && p.Metadata == nil
}

// Apply writes the patch onto s.
func (p Patch) Apply(s *Shape) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.LocationAddress != nil {
		s.LocationAddress = *p.LocationAddress
	}
	if p.CategoryID != nil {
		s.CategoryID = *p.CategoryID
	}
	if p.Metadata != nil {
		s.Metadata = CloneMetadata(p.Metadata)
	}
}
