package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-discovery/internal/config"
	"github.com/sells-group/portfolio-discovery/internal/discovery"
	"github.com/sells-group/portfolio-discovery/internal/events"
	"github.com/sells-group/portfolio-discovery/internal/lock"
	"github.com/sells-group/portfolio-discovery/internal/pipeline"
	"github.com/sells-group/portfolio-discovery/internal/portfolio"
	"github.com/sells-group/portfolio-discovery/internal/registry"
	"github.com/sells-group/portfolio-discovery/internal/runstore"
	"github.com/sells-group/portfolio-discovery/internal/scrape"
	anthropicpkg "github.com/sells-group/portfolio-discovery/pkg/anthropic"
	"github.com/sells-group/portfolio-discovery/pkg/firecrawl"
	"github.com/sells-group/portfolio-discovery/pkg/jina"
	"github.com/sells-group/portfolio-discovery/pkg/perplexity"
)

// runEnv is the run-coordination layer: run store, registry, event hub and
// start locks. It is all a command needs to read or cancel runs.
type runEnv struct {
	RunStore runstore.Store
	Registry *registry.Registry
	Hub      *events.Hub
	Locks    *lock.Coordinator
	Bridge   *events.Bridge // nil without Redis
}

// Close releases the run store.
func (re *runEnv) Close() {
	if re.RunStore != nil {
		_ = re.RunStore.Close()
	}
}

// initRunEnv opens the run store and builds everything that hangs off it.
// With Redis, snapshots are published to Redis and the Bridge feeds them
// back into the local Hub; without it, the Hub is the publisher.
func initRunEnv(ctx context.Context, c *config.Config) *runEnv {
	rs := runstore.Open(ctx, c.Redis.URL, runstore.WithNamespace(c.Redis.Namespace))
	hub := events.NewHub(0)

	var (
		pub    events.Publisher = hub
		locker lock.Locker      = lock.NewMemoryLocker()
		bridge *events.Bridge
	)
	if redisStore, ok := rs.(*runstore.RedisStore); ok {
		pub = events.NewRedisPublisher(redisStore.Client(), redisStore.Namespace())
		locker = lock.NewRedisLocker(redisStore.Client(), redisStore.Namespace())
		bridge = events.NewBridge(redisStore.Client(), redisStore.Namespace(), hub)
	}

	coord := lock.NewCoordinator(locker)
	if ttl := c.Run.LockTTL(); ttl > 0 {
		coord.TTL = ttl
	}
	if wait := c.Run.LockWait(); wait > 0 {
		coord.WaitBudget = wait
	}

	var opts []registry.Option
	if ret := c.Run.Retention(); ret > 0 {
		opts = append(opts, registry.WithRetention(ret))
	}

	zap.L().Info("run store ready", zap.String("backend", rs.Backend()))
	return &runEnv{
		RunStore: rs,
		Registry: registry.New(rs, pub, opts...),
		Hub:      hub,
		Locks:    coord,
		Bridge:   bridge,
	}
}

// StartBackground relays cross-process events and sweeps expired entries
// from an in-process store until ctx is done.
func (re *runEnv) StartBackground(ctx context.Context) {
	if re.Bridge != nil {
		go func() {
			if err := re.Bridge.Run(ctx); err != nil && ctx.Err() == nil {
				zap.L().Error("events bridge stopped", zap.Error(err))
			}
		}()
	}
	if mem, ok := re.RunStore.(*runstore.MemoryStore); ok {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := mem.Sweep(); n > 0 {
						zap.L().Debug("run store swept", zap.Int("expired", n))
					}
				}
			}
		}()
	}
}

// openPortfolio opens and migrates the configured portfolio database.
func openPortfolio(ctx context.Context, c *config.Config) (portfolio.Store, error) {
	st, err := portfolio.Open(ctx, portfolio.OpenConfig{
		Driver:      c.Store.Driver,
		DatabaseURL: c.Store.DatabaseURL,
		MaxConns:    c.Store.MaxConns,
		MinConns:    c.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// pipelineEnv holds everything the discover and serve commands need.
type pipelineEnv struct {
	*runEnv
	Store   portfolio.Store
	Driver  *pipeline.Driver
	Service *discovery.Service
}

// Close releases the portfolio and run stores.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
	pe.runEnv.Close()
}

// initPipeline validates config, opens both stores, builds the clients and
// stages, and wires the driver and start service. Callers should defer
// env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("pipeline"); err != nil {
		return nil, err
	}

	st, err := openPortfolio(ctx, cfg)
	if err != nil {
		return nil, err
	}
	re := initRunEnv(ctx, cfg)

	driver := pipeline.NewDriver(re.Registry, st, buildStages(cfg, re.Registry, st)...)
	return &pipelineEnv{
		runEnv:  re,
		Store:   st,
		Driver:  driver,
		Service: discovery.NewService(re.Registry, re.Locks, driver),
	}, nil
}

// buildStages constructs the fixed stage sequence from config.
func buildStages(c *config.Config, notes pipeline.Annotator, st portfolio.Store) []pipeline.Stage {
	jinaOpts := []jina.Option{jina.WithBaseURL(c.Jina.BaseURL)}
	if c.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(c.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(c.Jina.Key, jinaOpts...)

	scrapers := []scrape.Scraper{
		scrape.NewLocalScraper(scrape.WithHostRate(c.Crawl.RatePerSec)),
		scrape.NewJinaAdapter(jinaClient),
	}
	var firecrawlClient firecrawl.Client
	if c.Firecrawl.Key != "" {
		firecrawlClient = firecrawl.NewClient(c.Firecrawl.Key, firecrawl.WithBaseURL(c.Firecrawl.BaseURL))
		scrapers = append(scrapers, scrape.NewFirecrawlAdapter(firecrawlClient))
	} else {
		zap.L().Debug("firecrawl not configured, crawler runs without final fallback")
	}
	chain := scrape.NewChain(scrape.NewPathMatcher(c.Crawl.ExcludePaths), scrapers...)
	if firecrawlClient != nil {
		chain = chain.WithFirecrawlBatch(firecrawlClient)
	}

	perplexityClient := perplexity.NewClient(c.Perplexity.Key,
		perplexity.WithBaseURL(c.Perplexity.BaseURL),
		perplexity.WithModel(c.Perplexity.Model),
	)
	anthropicClient := anthropicpkg.NewClient(c.Anthropic.Key)

	return []pipeline.Stage{
		pipeline.NewFinder(jinaClient, c.Crawl.MaxURLs),
		pipeline.NewCrawler(chain, c.Crawl.Concurrency),
		pipeline.NewExtractor(anthropicClient, pipeline.ExtractorConfig{
			Model:     c.Anthropic.Model,
			MaxTokens: c.Anthropic.MaxTokens,
			MaxChars:  c.Extract.MaxChars,
		}),
		pipeline.NewNormalizer(),
		pipeline.NewEnricher(perplexityClient, c.Enrich.Concurrency, notes),
		pipeline.NewWriterStage(portfolio.NewWriter(st)),
	}
}
