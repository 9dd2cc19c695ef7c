package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
)

// Item is one search result.
type Item struct {
	ID           string
	ItemType     string
	Acquired     time.Time
	Published    time.Time
	SatelliteID  string
	Geometry     Geometry
	Permissions  []string
	ThumbnailURL string
	Properties   map[string]any
}

// Key is the stable cache key of the item, "itemType__itemID".
func (i Item) Key() string {
	return i.ItemType + "__" + i.ID
}

// Downloadable reports whether any asset may be downloaded.
func (i Item) Downloadable() bool {
	for _, p := range i.Permissions {
		if strings.HasPrefix(p, "assets.") && strings.HasSuffix(p, ":download") {
			return true
		}
	}
	return false
}

// Footprint returns the bounds of the item geometry, empty when it has none.
func (i Item) Footprint() Bounds {
	b, err := i.Geometry.Bounds()
	if err != nil {
		return Bounds{}
	}
	return b
}

// wireItem is the GeoJSON feature returned by the search endpoints.
type wireItem struct {
	ID          string         `json:"id"`
	Geometry    Geometry       `json:"geometry"`
	Properties  map[string]any `json:"properties"`
	Permissions []string       `json:"_permissions"`
	Links       struct {
		Thumbnail string `json:"thumbnail"`
	} `json:"_links"`
}

func (w wireItem) toItem() (Item, error) {
	if w.ID == "" {
		return Item{}, fmt.Errorf("%w: item without id", async.ErrMalformed)
	}
	item := Item{
		ID:           w.ID,
		Geometry:     w.Geometry,
		Permissions:  w.Permissions,
		ThumbnailURL: w.Links.Thumbnail,
		Properties:   w.Properties,
	}
	item.ItemType, _ = w.Properties["item_type"].(string)
	if item.ItemType == "" {
		return Item{}, fmt.Errorf("%w: item %s without item_type", async.ErrMalformed, w.ID)
	}
	item.SatelliteID, _ = w.Properties["satellite_id"].(string)

	var err error
	if item.Acquired, err = timeProperty(w.Properties, "acquired"); err != nil {
		return Item{}, fmt.Errorf("%w: item %s: %v", async.ErrMalformed, w.ID, err)
	}
	if item.Published, err = timeProperty(w.Properties, "published"); err != nil {
		return Item{}, fmt.Errorf("%w: item %s: %v", async.ErrMalformed, w.ID, err)
	}
	return item, nil
}

func timeProperty(props map[string]any, name string) (time.Time, error) {
	v, ok := props[name]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%s is %T, want string", name, v)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return t.UTC(), nil
}

// UnmarshalJSON decodes a GeoJSON feature.
func (i *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	item, err := w.toItem()
	if err != nil {
		return err
	}
	*i = item
	return nil
}
