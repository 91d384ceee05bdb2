// Package geometry converts ordered shape points into GeoJSON geometries and back.
// Coordinates are [longitude, latitude], as GeoJSON requires.
package geometry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/ryanbastic/go-fieldmap/internal/shape"
)

// ErrUnsupportedGeometry is returned for geometries that do not map onto a shape type.
var ErrUnsupportedGeometry = errors.New("unsupported geometry")

// Coordinate converts a shape point to an orb point.
func Coordinate(p shape.Point) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// Coordinates converts points in order.
func Coordinates(pts []shape.Point) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[i] = Coordinate(p)
	}
	return out
}

// CloseRing appends the first coordinate when the ring has more than two
// coordinates and is not already closed. Closing a closed ring is a no-op.
func CloseRing(ring orb.Ring) orb.Ring {
	if len(ring) <= 2 || ring[0].Equal(ring[len(ring)-1]) {
		return ring
	}
	out := make(orb.Ring, len(ring), len(ring)+1)
	copy(out, ring)
	return append(out, ring[0])
}

// Geometry builds the geometry for a shape type from points sorted by sequence order.
// A point shape with no points yields the [0,0] placeholder.
func Geometry(t shape.Type, pts []shape.Point) (orb.Geometry, error) {
	switch t {
	case shape.TypePoint:
		if len(pts) == 0 {
			return orb.Point{0, 0}, nil
		}
		return Coordinate(pts[0]), nil
	case shape.TypeLine:
		return orb.LineString(Coordinates(pts)), nil
	case shape.TypePolygon:
		return orb.Polygon{CloseRing(orb.Ring(Coordinates(pts)))}, nil
	}
	return nil, fmt.Errorf("%w: shape type %q", ErrUnsupportedGeometry, t)
}

// ToFeature renders a shape as a GeoJSON feature.
func ToFeature(s *shape.Shape) (*geojson.Feature, error) {
	g, err := Geometry(s.Type, s.OrderedPoints())
	if err != nil {
		return nil, err
	}
	f := geojson.NewFeature(g)
	if !s.IsDraft() {
		f.ID = s.ID.String()
	}

	metadata := s.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	f.Properties["type"] = string(s.Type)
	f.Properties["name"] = s.Name
	f.Properties["description"] = s.Description
	f.Properties["location_address"] = s.LocationAddress
	f.Properties["metadata"] = shape.CloneMetadata(metadata)
	f.Properties["creator_id"] = s.CreatorID.String()
	if s.HasCategory() {
		f.Properties["category_id"] = s.CategoryID.String()
	} else {
		f.Properties["category_id"] = nil
	}
	if !s.CreatedAt.IsZero() {
		f.Properties["created_at"] = s.CreatedAt
	}
	return f, nil
}

// Collection packages shapes into a feature collection. Shapes whose type is
// unknown are skipped and reported in the returned error list.
func Collection(shapes []*shape.Shape) (*geojson.FeatureCollection, []error) {
	fc := geojson.NewFeatureCollection()
	var errs []error
	for _, s := range shapes {
		f, err := ToFeature(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("shape %s: %w", s.ID, err))
			continue
		}
		fc.Append(f)
	}
	return fc, errs
}

// Preview builds the in-progress geometry for a pending buffer, or nil when
// there is nothing to draw yet: a point once one exists, a line once two
// exist, and for polygons a line that closes back to its start from three points on.
func Preview(kind shape.Type, pending []shape.Point) orb.Geometry {
	switch kind {
	case shape.TypePoint:
		if len(pending) == 0 {
			return nil
		}
		return Coordinate(pending[0])
	case shape.TypeLine:
		if len(pending) < 2 {
			return nil
		}
		return orb.LineString(Coordinates(pending))
	case shape.TypePolygon:
		if len(pending) < 2 {
			return nil
		}
		return orb.LineString(CloseRing(orb.Ring(Coordinates(pending))))
	}
	return nil
}

// FromGeometry converts a geometry back into a shape type and ordered points.
// A polygon's closing coordinate is dropped and only its outer ring is used.
func FromGeometry(g orb.Geometry) (shape.Type, []shape.Point, error) {
	switch gg := g.(type) {
	case orb.Point:
		return shape.TypePoint, []shape.Point{fromCoordinate(gg)}, nil
	case orb.LineString:
		return shape.TypeLine, fromCoordinates(gg), nil
	case orb.Ring:
		return shape.TypePolygon, openRing(gg), nil
	case orb.Polygon:
		if len(gg) == 0 {
			return "", nil, fmt.Errorf("%w: empty polygon", ErrUnsupportedGeometry)
		}
		return shape.TypePolygon, openRing(gg[0]), nil
	case nil:
		return "", nil, fmt.Errorf("%w: no geometry", ErrUnsupportedGeometry)
	}
	return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
}

// FromFeature extracts a create request from a GeoJSON feature. Known string
// properties and the metadata object are copied; everything else is ignored.
func FromFeature(f *geojson.Feature) (shape.CreateRequest, error) {
	t, pts, err := FromGeometry(f.Geometry)
	if err != nil {
		return shape.CreateRequest{}, err
	}
	req := shape.CreateRequest{
		Type:            t,
		Points:          pts,
		Name:            f.Properties.MustString("name", ""),
		Description:     f.Properties.MustString("description", ""),
		LocationAddress: f.Properties.MustString("location_address", ""),
	}
	if s := f.Properties.MustString("category_id", ""); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return shape.CreateRequest{}, fmt.Errorf("category_id: %w", err)
		}
		req.CategoryID = id
	}
	if md, ok := f.Properties["metadata"].(map[string]any); ok {
		req.Metadata = shape.CloneMetadata(md)
	}
	return req, nil
}

func openRing(r orb.Ring) []shape.Point {
	if len(r) > 1 && r[0].Equal(r[len(r)-1]) {
		r = r[:len(r)-1]
	}
	return fromCoordinates(r)
}

func fromCoordinate(p orb.Point) shape.Point {
	return shape.Point{Latitude: p.Lat(), Longitude: p.Lon()}
}

func fromCoordinates(pts []orb.Point) []shape.Point {
	out := make([]shape.Point, len(pts))
	for i, p := range pts {
		out[i] = fromCoordinate(p)
	}
	return out
}
