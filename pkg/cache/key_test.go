package cache

import (
	"net/url"
	"testing"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "simple endpoint no params",
			key:  CacheKey{Endpoint: "/data/v1/item-types/"},
			want: "catalog:GET:data/v1/item-types",
		},
		{
			name: "explicit method is upper-cased",
			key:  CacheKey{Method: "post", Endpoint: "/data/v1/stats"},
			want: "catalog:POST:data/v1/stats",
		},
		{
			name: "query params sorted",
			key: CacheKey{
				Endpoint: "/basemaps/v1/mosaics/abc/quads",
				QueryParams: url.Values{
					"minimal": []string{"true"},
					"bbox":    []string{"-10,-10,10,10"},
				},
			},
			want: "catalog:GET:basemaps/v1/mosaics/abc/quads:bbox=-10,-10,10,10:minimal=true",
		},
		{
			name: "multi-valued params are sorted",
			key: CacheKey{
				Endpoint:    "/x",
				QueryParams: url.Values{"t": []string{"b", "a"}},
			},
			want: "catalog:GET:x:t=a,b",
		},
		{
			name: "scoped key",
			key: CacheKey{
				Endpoint: "/data/v1/item-types/PSScene/items/1",
				Scope:    "ab12",
			},
			want: "catalog:GET:data/v1/item-types/PSScene/items/1:scope=ab12",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("CacheKey.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeyForURL(t *testing.T) {
	u, err := url.Parse("https://api.example.com/basemaps/v1/mosaics/m1/quads?bbox=1,2,3,4&_page=abc")
	if err != nil {
		t.Fatal(err)
	}

	got := KeyForURL("GET", u, "").String()
	want := "catalog:GET:basemaps/v1/mosaics/m1/quads:_page=abc:bbox=1,2,3,4"
	if got != want {
		t.Errorf("KeyForURL() = %v, want %v", got, want)
	}
}

// TestCacheKey_Determinism ensures the same input always produces the same key
func TestCacheKey_Determinism(t *testing.T) {
	key := CacheKey{
		Endpoint: "/basemaps/v1/mosaics/m1/quads",
		QueryParams: url.Values{
			"bbox":    []string{"1,2,3,4"},
			"minimal": []string{"true"},
			"_page":   []string{"p2"},
		},
		Scope: "s",
	}

	first := key.String()
	for i := 0; i < 10; i++ {
		if got := key.String(); got != first {
			t.Errorf("iteration %d = %v, want %v (not deterministic)", i, got, first)
		}
	}
}
