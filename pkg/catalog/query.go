package catalog

import (
	"encoding/json"
	"time"
)

// Filter is a node of the search filter language. Config holds either a
// field specific value or nested filters.
type Filter struct {
	Type      string `json:"type"`
	FieldName string `json:"field_name,omitempty"`
	Config    any    `json:"config"`
}

// AndFilter matches items that satisfy every filter.
func AndFilter(filters ...Filter) Filter {
	if filters == nil {
		filters = []Filter{}
	}
	return Filter{Type: "AndFilter", Config: filters}
}

// DateRangeFilter bounds a timestamp field. Zero times are left open.
func DateRangeFilter(field string, gte, lte time.Time) Filter {
	cfg := map[string]string{}
	if !gte.IsZero() {
		cfg["gte"] = gte.UTC().Format(time.RFC3339)
	}
	if !lte.IsZero() {
		cfg["lte"] = lte.UTC().Format(time.RFC3339)
	}
	return Filter{Type: "DateRangeFilter", FieldName: field, Config: cfg}
}

// RangeFilter bounds a numeric field. Nil limits are left open.
func RangeFilter(field string, gte, lte *float64) Filter {
	cfg := map[string]float64{}
	if gte != nil {
		cfg["gte"] = *gte
	}
	if lte != nil {
		cfg["lte"] = *lte
	}
	return Filter{Type: "RangeFilter", FieldName: field, Config: cfg}
}

// GeometryFilter matches items intersecting geom.
func GeometryFilter(geom Geometry) Filter {
	return Filter{Type: "GeometryFilter", FieldName: "geometry", Config: geom}
}

// PermissionFilter keeps items whose assets the caller may download.
func PermissionFilter() Filter {
	return Filter{Type: "PermissionFilter", Config: []string{"assets:download"}}
}

// Query selects items of the given types.
type Query struct {
	ItemTypes []string `json:"item_types"`
	Filter    Filter   `json:"filter"`
}

// MarshalJSON defaults an empty filter to an empty AndFilter.
func (q Query) MarshalJSON() ([]byte, error) {
	type plain Query
	p := plain(q)
	if p.Filter.Type == "" {
		p.Filter = AndFilter()
	}
	if p.ItemTypes == nil {
		p.ItemTypes = []string{}
	}
	return json.Marshal(p)
}

// Sort is a result ordering accepted by the search endpoint.
type Sort string

// Supported orderings.
const (
	SortAcquiredDesc  Sort = "acquired desc"
	SortAcquiredAsc   Sort = "acquired asc"
	SortPublishedDesc Sort = "published desc"
)

// Descending reports whether newer items come first.
func (s Sort) Descending() bool {
	return s != SortAcquiredAsc
}

// KeyOf returns the timestamp s orders by.
func (s Sort) KeyOf(item Item) time.Time {
	if s == SortPublishedDesc {
		return item.Published
	}
	return item.Acquired
}

// Valid reports whether s is a supported ordering.
func (s Sort) Valid() bool {
	switch s {
	case SortAcquiredDesc, SortAcquiredAsc, SortPublishedDesc:
		return true
	}
	return false
}
