package fetchcache_test

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/fetchcache"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/rs/zerolog"
)

func Example() {
	dir, err := os.MkdirTemp("", "thumbs")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer os.RemoveAll(dir)

	loop := async.NewLoop(zerolog.Nop())
	loop.Start()
	defer loop.Stop()

	dispatcher := transport.DispatcherFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"image/png"}},
			Body:       []byte("\x89PNG"),
		}, nil
	})

	cache, err := fetchcache.New(loop, dispatcher, fetchcache.DefaultConfig(dir), zerolog.Nop())
	if err != nil {
		fmt.Println(err)
		return
	}

	results := make(chan fetchcache.Result, 2)
	loc := fetchcache.Locator{URL: "http://catalog.test/thumb/a"}
	loop.Do(func() {
		// The second call attaches to the download the first one started.
		fmt.Println(cache.Fetch("PSScene__a", loc, func(r fetchcache.Result) { results <- r }))
		fmt.Println(cache.Fetch("PSScene__a", loc, func(r fetchcache.Result) { results <- r }))
	})
	for range 2 {
		r := <-results
		fmt.Println(r.Key, r.Status)
	}

	// Now the artifact is on disk.
	loop.Do(func() {
		fmt.Println(cache.Fetch("PSScene__a", loc, nil))
	})
	// Output:
	// false
	// false
	// PSScene__a available
	// PSScene__a available
	// true
}
