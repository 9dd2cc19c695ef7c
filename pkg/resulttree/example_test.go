package resulttree_test

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
	"github.com/Sternrassler/catalog-explorer/pkg/resulttree"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/rs/zerolog"
)

const examplePage = `{"features":[
	{"id":"a","properties":{"item_type":"PSScene","acquired":"2024-05-02T10:00:00Z"},"_permissions":["assets.ortho_visual:download"]},
	{"id":"b","properties":{"item_type":"PSScene","acquired":"2024-05-01T10:00:00Z"},"_permissions":[]}
],"_links":{}}`

func Example() {
	loop := async.NewLoop(zerolog.Nop())
	loop.Start()
	defer loop.Stop()

	dispatcher := transport.DispatcherFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		body := examplePage
		if strings.HasSuffix(req.URL, "/stats") {
			body = `{"buckets":[{"count":2}]}`
		}
		return &transport.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       []byte(body),
		}, nil
	})

	cfg := resulttree.DefaultConfig()
	cfg.AutoThumbnails = false
	tree, err := resulttree.New(loop, dispatcher, catalog.NewClient("http://catalog.test"), nil, cfg, zerolog.Nop())
	if err != nil {
		fmt.Println(err)
		return
	}

	done := make(chan struct{})
	loop.Do(func() {
		tree.Subscribe(func(ev resulttree.Event) {
			if ev.Kind == resulttree.EventStateChanged && ev.State.Terminal() {
				close(done)
			}
		})
		if err := tree.StartSearch(catalog.Query{ItemTypes: []string{"PSScene"}}, catalog.SortAcquiredDesc); err != nil {
			fmt.Println(err)
		}
	})
	<-done

	loop.Do(func() {
		tree.SetChecked(tree.Root(), resulttree.Checked)
		for _, group := range tree.Root().Children() {
			fmt.Println(group.Label, group.ChildCount(), group.Check)
		}
		fmt.Println(tree.State(), tree.CheckedItemIDs())
	})
	// Output:
	// 2024-05-02 PSScene 1 checked
	// 2024-05-01 PSScene 1 unchecked
	// exhausted [a]
}
