package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
	"github.com/Sternrassler/catalog-explorer/pkg/logging"
	"github.com/Sternrassler/catalog-explorer/pkg/progress"
	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
)

type quadsOptions struct {
	mosaics  []string
	bbox     string
	maxPages int
	quiet    bool
}

func newQuadsCommand(g *globals) *cobra.Command {
	opts := &quadsOptions{}
	cmd := &cobra.Command{
		Use:   "quads",
		Short: "List the quads of one or more mosaics inside a bounding box",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuads(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), g, opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.mosaics, "mosaic", nil, "Mosaic ids, read in the given order (repeatable)")
	f.StringVar(&opts.bbox, "bbox", "", "Area of interest as minx,miny,maxx,maxy")
	f.IntVar(&opts.maxPages, "max-pages", 0, "Page limit per mosaic (0 is unlimited)")
	f.BoolVar(&opts.quiet, "quiet", false, "Hide the progress bar")
	_ = cmd.MarkFlagRequired("mosaic")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}

func runQuads(ctx context.Context, out, errOut io.Writer, g *globals, opts *quadsOptions) error {
	bbox, err := catalog.ParseBounds(opts.bbox)
	if err != nil {
		return fmt.Errorf("--bbox: %w", err)
	}
	resources := make([]progress.Resource, len(opts.mosaics))
	for i, id := range opts.mosaics {
		resources[i] = progress.Resource{ID: id, Name: id}
	}

	rt, err := newRuntime(ctx, g)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := g.cfg.Progress()
	cfg.MaxPages = opts.maxPages
	fetcher, err := progress.New[catalog.Quad](rt.loop, rt.client, cfg, logging.NewLogger(logging.ComponentProgress))
	if err != nil {
		return err
	}

	var bar *pb.ProgressBar
	if !opts.quiet {
		bar = pb.New(len(resources))
		bar.SetWriter(errOut)
		bar.SetTemplateString(`{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }}`)
		bar.Start()
	}

	paginator := &catalog.QuadPaginator{Client: rt.catalog, BBox: bbox}
	result, runErr := fetcher.Run(ctx, resources, paginator, func(ev progress.Event) {
		if bar == nil {
			return
		}
		switch ev.Kind {
		case progress.EventResourceStarted:
			bar.SetCurrent(int64(ev.ResourceIndex))
			bar.Set("prefix", ev.Resource.Name+" ")
		case progress.EventPageRead:
			bar.Set("prefix", fmt.Sprintf("%s page %d ", ev.Resource.Name, ev.Page))
		case progress.EventDone:
			bar.SetCurrent(int64(len(resources)))
		}
	})
	if bar != nil {
		bar.Finish()
	}

	for i, quads := range result.Resources {
		fmt.Fprintf(out, "%s: %d quads\n", resources[i].Name, len(quads))
		for _, q := range quads {
			fmt.Fprintf(out, "  %s %s\n", q.ID, q.Bounds())
		}
	}
	fmt.Fprintf(out, "%d of %d mosaics complete, %d quads\n", result.Completed, len(resources), len(result.Items()))

	if runErr != nil {
		return fmt.Errorf("quads: %w", runErr)
	}
	return nil
}
