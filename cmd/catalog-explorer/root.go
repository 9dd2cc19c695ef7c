package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/catalog-explorer/internal/config"
	"github.com/Sternrassler/catalog-explorer/pkg/async"
	"github.com/Sternrassler/catalog-explorer/pkg/catalog"
	"github.com/Sternrassler/catalog-explorer/pkg/logging"
	"github.com/Sternrassler/catalog-explorer/pkg/metrics"
	"github.com/Sternrassler/catalog-explorer/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// globals holds state shared by all sub-commands once the root pre-run hook
// has loaded the configuration.
type globals struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
}

func newRootCommand() *cobra.Command {
	g := &globals{v: config.New()}

	root := &cobra.Command{
		Use:          "catalog-explorer",
		Short:        "Search an imagery catalog and page through basemap quads",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "Config file (default ./catalog-explorer.yaml)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.Bool("pretty", false, "Human-readable log output")
	flags.String("base-url", catalog.DefaultBaseURL, "Catalog API base URL")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")

	for key, flag := range map[string]string{
		"log.level":    "log-level",
		"log.pretty":   "pretty",
		"api.base_url": "base-url",
		"metrics.addr": "metrics-addr",
	} {
		if err := g.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(g.v, g.configPath)
		if err != nil {
			return err
		}
		g.cfg = cfg

		logCfg := cfg.Logging()
		logCfg.Output = cmd.ErrOrStderr()
		logging.Setup(logCfg)
		g.logger = logging.NewLogger(logging.ComponentCLI)
		return nil
	}

	root.AddCommand(newSearchCommand(g), newQuadsCommand(g))
	return root
}

// runtime is the coordination loop and the transport shared by one command.
type runtime struct {
	loop    *async.Loop
	client  *transport.Client
	catalog *catalog.Client
	rdb     *redis.Client
	cancel  context.CancelFunc
}

func newRuntime(ctx context.Context, g *globals) (*runtime, error) {
	rdb := g.cfg.RedisClient()
	if rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", g.cfg.Redis.Addr, err)
		}
		g.logger.Info().Str("addr", g.cfg.Redis.Addr).Msg("Connected to Redis")
	}

	client, err := transport.New(g.cfg.Transport(rdb))
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, fmt.Errorf("create transport: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if addr := g.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, g.logger); err != nil {
				g.logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	loop := async.NewLoop(logging.NewLogger(logging.ComponentLoop))
	loop.Start()

	return &runtime{
		loop:    loop,
		client:  client,
		catalog: catalog.NewClient(g.cfg.API.BaseURL),
		rdb:     rdb,
		cancel:  cancel,
	}, nil
}

func (r *runtime) Close() {
	r.loop.Stop()
	r.cancel()
	r.client.Close()
	if r.rdb != nil {
		r.rdb.Close()
	}
}
