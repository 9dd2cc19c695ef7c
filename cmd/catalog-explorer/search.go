package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
	"github.com/Sternrassler/catalog-explorer/pkg/fetchcache"
	"github.com/Sternrassler/catalog-explorer/pkg/logging"
	"github.com/Sternrassler/catalog-explorer/pkg/resulttree"
	"github.com/spf13/cobra"
)

type searchOptions struct {
	itemTypes    []string
	from, to     string
	bbox         string
	sort         string
	maxPages     int
	thumbnails   bool
	downloadable bool
	checkAll     bool
}

func newSearchCommand(g *globals) *cobra.Command {
	opts := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a search and print the grouped result tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("thumbnails") {
				opts.thumbnails = g.cfg.Search.Thumbnails
			}
			return runSearch(cmd.Context(), cmd.OutOrStdout(), g, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.itemTypes, "item-type", []string{"PSScene"}, "Item types to search (repeatable)")
	f.StringVar(&opts.from, "from", "", "Earliest acquisition, YYYY-MM-DD or RFC 3339")
	f.StringVar(&opts.to, "to", "", "Latest acquisition, YYYY-MM-DD or RFC 3339")
	f.StringVar(&opts.bbox, "bbox", "", "Area of interest as minx,miny,maxx,maxy")
	f.StringVar(&opts.sort, "sort", string(catalog.SortAcquiredDesc), `Sort order: "acquired desc", "acquired asc" or "published desc"`)
	f.IntVar(&opts.maxPages, "max-pages", 0, "Stop after this many pages (0 reads every page)")
	f.BoolVar(&opts.thumbnails, "thumbnails", true, "Download thumbnails into the cache directory")
	f.BoolVar(&opts.downloadable, "downloadable", false, "Only items whose assets may be downloaded")
	f.BoolVar(&opts.checkAll, "check-all", false, "Select every downloadable item and print the selection")
	return cmd
}

func (o *searchOptions) query() (catalog.Query, catalog.Sort, error) {
	sort := catalog.Sort(o.sort)
	if !sort.Valid() {
		return catalog.Query{}, "", fmt.Errorf("unknown sort %q", o.sort)
	}

	var filters []catalog.Filter
	from, err := parseTime(o.from)
	if err != nil {
		return catalog.Query{}, "", fmt.Errorf("--from: %w", err)
	}
	to, err := parseTime(o.to)
	if err != nil {
		return catalog.Query{}, "", fmt.Errorf("--to: %w", err)
	}
	if !from.IsZero() || !to.IsZero() {
		filters = append(filters, catalog.DateRangeFilter("acquired", from, to))
	}
	if o.bbox != "" {
		b, err := catalog.ParseBounds(o.bbox)
		if err != nil {
			return catalog.Query{}, "", fmt.Errorf("--bbox: %w", err)
		}
		filters = append(filters, catalog.GeometryFilter(b.Polygon()))
	}
	if o.downloadable {
		filters = append(filters, catalog.PermissionFilter())
	}

	return catalog.Query{ItemTypes: o.itemTypes, Filter: catalog.AndFilter(filters...)}, sort, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func runSearch(ctx context.Context, out io.Writer, g *globals, opts *searchOptions) error {
	q, sort, err := opts.query()
	if err != nil {
		return err
	}

	rt, err := newRuntime(ctx, g)
	if err != nil {
		return err
	}
	defer rt.Close()

	var thumbs *fetchcache.Cache
	if opts.thumbnails {
		thumbs, err = fetchcache.New(rt.loop, rt.client, g.cfg.Thumbnails(), logging.NewLogger(logging.ComponentFetch))
		if err != nil {
			return err
		}
	}

	treeCfg := g.cfg.Tree()
	treeCfg.AutoThumbnails = thumbs != nil
	tree, err := resulttree.New(rt.loop, rt.client, rt.catalog, thumbs, treeCfg, logging.NewLogger(logging.ComponentTree))
	if err != nil {
		return err
	}
	defer rt.loop.Do(func() {
		tree.Cancel()
		if thumbs != nil {
			thumbs.CancelAll()
		}
	})

	// Sends happen on the loop while driving is set; the buffer covers the
	// few state changes between two reads.
	states := make(chan resulttree.Event, 64)
	counted := make(chan struct{})
	driving, countDone := true, false
	var startErr error
	if err := rt.loop.Do(func() {
		tree.Subscribe(func(ev resulttree.Event) {
			switch ev.Kind {
			case resulttree.EventStateChanged:
				if driving {
					states <- ev
				}
			case resulttree.EventCountReceived, resulttree.EventCountFailed:
				if !countDone {
					countDone = true
					close(counted)
				}
			}
		})
		startErr = tree.StartSearch(q, sort)
	}); err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	err = drivePages(ctx, rt, tree, states, opts.maxPages)
	if doErr := rt.loop.Do(func() { driving = false }); doErr != nil {
		return doErr
	}
	if err != nil {
		return err
	}
	if thumbs != nil {
		if err := waitThumbnails(ctx, rt, thumbs); err != nil {
			return err
		}
	}
	select {
	case <-counted:
	case <-ctx.Done():
		return ctx.Err()
	}

	var selection map[string][]string
	return rt.loop.Do(func() {
		if opts.checkAll {
			if err := tree.SetChecked(tree.Root(), resulttree.Checked); err != nil {
				g.logger.Warn().Err(err).Msg("Select all failed")
			}
			selection = tree.CheckedByItemType()
		}
		renderTree(out, tree)
		if opts.checkAll {
			renderSelection(out, selection)
		}
	})
}

// drivePages requests pages until the search is exhausted or maxPages pages
// were populated.
func drivePages(ctx context.Context, rt *runtime, tree *resulttree.Tree, states <-chan resulttree.Event, maxPages int) error {
	pages := 0
	for {
		var ev resulttree.Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev = <-states:
		}

		switch ev.State {
		case resulttree.StateEmpty, resulttree.StatePageRequested:
			continue
		case resulttree.StatePagePopulated:
			pages++
			if maxPages > 0 && pages >= maxPages {
				return nil
			}
			var err error
			if doErr := rt.loop.Do(func() { err = tree.LoadMore() }); doErr != nil {
				return doErr
			}
			if err != nil && !errors.Is(err, resulttree.ErrNoMorePages) {
				return err
			}
		case resulttree.StateExhausted, resulttree.StateNoResults:
			return nil
		default:
			if ev.Failure != nil {
				return fmt.Errorf("search %s: %w", ev.State, ev.Failure)
			}
			return fmt.Errorf("search %s", ev.State)
		}
	}
}

func waitThumbnails(ctx context.Context, rt *runtime, thumbs *fetchcache.Cache) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		var pending int
		if err := rt.loop.Do(func() { pending = thumbs.InFlight() }); err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func renderTree(w io.Writer, tree *resulttree.Tree) {
	total := "?"
	if tree.Total() != resulttree.UnknownTotal {
		total = fmt.Sprint(tree.Total())
	}
	fmt.Fprintf(w, "%d of %s items (%s)\n", tree.Loaded(), total, tree.State())

	var walk func(n *resulttree.Node, depth int)
	walk = func(n *resulttree.Node, depth int) {
		indent := strings.Repeat("  ", depth)
		switch n.Kind {
		case resulttree.KindGroup:
			fmt.Fprintf(w, "%s%s %s (%d)\n", indent, checkMark(n.Check), n.Label, n.ChildCount())
		case resulttree.KindLeaf:
			line := fmt.Sprintf("%s%s %s", indent, checkMark(n.Check), n.Label)
			if n.SatelliteID != "" {
				line += " sat=" + n.SatelliteID
			}
			if !n.Downloadable {
				line += " (no download)"
			}
			if n.Thumbnail == resulttree.ThumbnailLoaded {
				line += " thumb=" + n.ThumbnailPath
			} else if n.Thumbnail == resulttree.ThumbnailFailed {
				line += " thumb=failed"
			}
			fmt.Fprintln(w, line)
		case resulttree.KindLoadMore:
			fmt.Fprintf(w, "%s%s\n", indent, n.Label)
		}
		for _, c := range n.Children() {
			walk(c, depth+1)
		}
	}
	for _, c := range tree.Root().Children() {
		walk(c, 0)
	}
}

func renderSelection(w io.Writer, selection map[string][]string) {
	n := 0
	for _, ids := range selection {
		n += len(ids)
	}
	fmt.Fprintf(w, "selected %d items\n", n)
	for _, itemType := range slices.Sorted(maps.Keys(selection)) {
		fmt.Fprintf(w, "  %s: %s\n", itemType, strings.Join(selection[itemType], ","))
	}
}

func checkMark(s resulttree.CheckState) string {
	switch s {
	case resulttree.Checked:
		return "[x]"
	case resulttree.PartiallyChecked:
		return "[-]"
	default:
		return "[ ]"
	}
}
