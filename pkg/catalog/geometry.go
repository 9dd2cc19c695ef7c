package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Geometry is a GeoJSON geometry. Coordinates are kept raw and only walked to
// compute bounds.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Bounds is an axis-aligned bounding box in lon/lat. The zero value is empty.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
	Valid                  bool
}

// NewBounds returns the box spanning two corners.
func NewBounds(minX, minY, maxX, maxY float64) Bounds {
	return Bounds{
		MinX:  math.Min(minX, maxX),
		MinY:  math.Min(minY, maxY),
		MaxX:  math.Max(minX, maxX),
		MaxY:  math.Max(minY, maxY),
		Valid: true,
	}
}

// ParseBounds parses "minx,miny,maxx,maxy".
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("bbox needs 4 comma separated values, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("bbox value %q: %w", p, err)
		}
		v[i] = f
	}
	return NewBounds(v[0], v[1], v[2], v[3]), nil
}

// Extend grows b to contain the point.
func (b Bounds) Extend(x, y float64) Bounds {
	if !b.Valid {
		return Bounds{MinX: x, MinY: y, MaxX: x, MaxY: y, Valid: true}
	}
	b.MinX = math.Min(b.MinX, x)
	b.MinY = math.Min(b.MinY, y)
	b.MaxX = math.Max(b.MaxX, x)
	b.MaxY = math.Max(b.MaxY, y)
	return b
}

// Union returns the smallest box containing b and o.
func (b Bounds) Union(o Bounds) Bounds {
	if !o.Valid {
		return b
	}
	if !b.Valid {
		return o
	}
	return b.Extend(o.MinX, o.MinY).Extend(o.MaxX, o.MaxY)
}

// String formats the box as a bbox query value.
func (b Bounds) String() string {
	if !b.Valid {
		return ""
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return f(b.MinX) + "," + f(b.MinY) + "," + f(b.MaxX) + "," + f(b.MaxY)
}

// Polygon returns b as a closed GeoJSON polygon.
func (b Bounds) Polygon() Geometry {
	ring := [][2]float64{
		{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY}, {b.MinX, b.MinY},
	}
	coords, _ := json.Marshal([][][2]float64{ring})
	return Geometry{Type: "Polygon", Coordinates: coords}
}

// Bounds walks the coordinates of any geometry type. Geometries without
// coordinates return an empty box.
func (g Geometry) Bounds() (Bounds, error) {
	if len(g.Coordinates) == 0 {
		return Bounds{}, nil
	}
	var raw any
	if err := json.Unmarshal(g.Coordinates, &raw); err != nil {
		return Bounds{}, err
	}
	var b Bounds
	if err := walkPositions(raw, &b); err != nil {
		return Bounds{}, err
	}
	return b, nil
}

// walkPositions descends nested arrays until it reaches [x, y, ...] positions.
func walkPositions(v any, b *Bounds) error {
	arr, ok := v.([]any)
	if !ok {
		return fmt.Errorf("unexpected coordinate value %T", v)
	}
	if len(arr) == 0 {
		return nil
	}
	if x, ok := arr[0].(float64); ok {
		if len(arr) < 2 {
			return fmt.Errorf("position needs at least 2 values")
		}
		y, ok := arr[1].(float64)
		if !ok {
			return fmt.Errorf("unexpected coordinate value %T", arr[1])
		}
		*b = b.Extend(x, y)
		return nil
	}
	for _, child := range arr {
		if err := walkPositions(child, b); err != nil {
			return err
		}
	}
	return nil
}
