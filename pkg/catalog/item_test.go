package catalog

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeature = `{
	"type": "Feature",
	"id": "20240501_101010_42_2474",
	"geometry": {"type": "Polygon", "coordinates": [[[13,52],[14,52],[14,53],[13,53],[13,52]]]},
	"properties": {
		"item_type": "PSScene",
		"acquired": "2024-05-01T10:10:10.123456Z",
		"published": "2024-05-01T14:00:00Z",
		"satellite_id": "2474",
		"cloud_cover": 0.05
	},
	"_permissions": ["assets.basic_analytic_4b:download", "assets.ortho_visual:download"],
	"_links": {"thumbnail": "https://tiles.example.com/thumb/20240501_101010_42_2474"}
}`

func TestItem_Decode(t *testing.T) {
	var item Item
	require.NoError(t, json.Unmarshal([]byte(sampleFeature), &item))

	assert.Equal(t, "20240501_101010_42_2474", item.ID)
	assert.Equal(t, "PSScene", item.ItemType)
	assert.Equal(t, "2474", item.SatelliteID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 10, 10, 123456000, time.UTC), item.Acquired)
	assert.Equal(t, "PSScene__20240501_101010_42_2474", item.Key())
	assert.True(t, item.Downloadable())
	assert.Equal(t, NewBounds(13, 52, 14, 53), item.Footprint())
	assert.InDelta(t, 0.05, item.Properties["cloud_cover"], 1e-9)
}

func TestItem_DecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		feature string
	}{
		{"missing id", `{"properties":{"item_type":"PSScene"}}`},
		{"missing item type", `{"id":"a","properties":{}}`},
		{"bad acquired", `{"id":"a","properties":{"item_type":"PSScene","acquired":"yesterday"}}`},
		{"acquired not a string", `{"id":"a","properties":{"item_type":"PSScene","acquired":17}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var item Item
			err := json.Unmarshal([]byte(tt.feature), &item)
			require.Error(t, err)
			assert.True(t, errors.Is(err, async.ErrMalformed))
		})
	}
}

func TestItem_Downloadable(t *testing.T) {
	tests := []struct {
		perms []string
		want  bool
	}{
		{nil, false},
		{[]string{"assets.ortho_visual:download"}, true},
		{[]string{"assets.ortho_visual:view"}, false},
		{[]string{"download"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Item{Permissions: tt.perms}.Downloadable(), "%v", tt.perms)
	}
}
