package cmd

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/arkival/seqscan/internal/batch"
	"github.com/arkival/seqscan/internal/blob/gcs"
	"github.com/arkival/seqscan/internal/blob/local"
	memoryblob "github.com/arkival/seqscan/internal/blob/memory"
	"github.com/arkival/seqscan/internal/config"
	collyfetcher "github.com/arkival/seqscan/internal/fetcher/colly"
	"github.com/arkival/seqscan/internal/logging"
	"github.com/arkival/seqscan/internal/parser"
	"github.com/arkival/seqscan/internal/progress"
	pubsubpub "github.com/arkival/seqscan/internal/publisher/pubsub"
	"github.com/arkival/seqscan/internal/scrape"
	"github.com/arkival/seqscan/internal/storage/memory"
	"github.com/arkival/seqscan/internal/storage/postgres"
)

// deps bundles the wired collaborators for one command invocation.
type deps struct {
	cfg       config.Config
	logger    *zap.Logger
	fetcher   scrape.Fetcher
	parser    scrape.Parser
	listings  scrape.ListingStore
	progress  scrape.ProgressStore
	tracker   *progress.Tracker
	blobs     scrape.BlobStore
	publisher scrape.Publisher
	clock     scrape.Clock
	closers   []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	_ = d.logger.Sync()
}

// buildDeps loads config and wires the pipeline. With dryRun set, all
// persistence goes to in-memory stores and nothing external is touched.
func buildDeps(ctx context.Context, clock scrape.Clock, dryRun bool) (*deps, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg, logger: logger, clock: clock}

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		URLTemplate: cfg.Fetcher.URLTemplate,
		UserAgent:   cfg.Fetcher.UserAgent,
		Timeout:     time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
		MinDelay:    time.Duration(cfg.Fetcher.MinDelayMs) * time.Millisecond,
	})
	if err != nil {
		d.close()
		return nil, err
	}
	d.fetcher = fetcher

	d.parser = parser.New(parser.Config{
		TitleSelector:       cfg.Parser.TitleSelector,
		PriceSelector:       cfg.Parser.PriceSelector,
		LocationSelector:    cfg.Parser.LocationSelector,
		DescriptionSelector: cfg.Parser.DescriptionSelector,
		AttributeSelector:   cfg.Parser.AttributeSelector,
		NotFoundSelector:    cfg.Parser.NotFoundSelector,
		NotFoundKeywords:    cfg.Parser.NotFoundKeywords,
		DefaultCurrency:     cfg.Parser.DefaultCurrency,
	})

	if dryRun {
		d.listings = memory.NewListingStore()
		d.progress = memory.NewProgressStore()
		d.blobs = memoryblob.NewBlobStore()
	} else {
		if err := d.wirePersistence(ctx); err != nil {
			d.close()
			return nil, err
		}
	}

	d.tracker = progress.New(d.progress, clock, logger)
	return d, nil
}

func (d *deps) wirePersistence(ctx context.Context) error {
	listings, err := postgres.NewListingStore(ctx, postgres.ListingStoreConfig{
		DSN:      d.cfg.DB.DSN,
		Table:    d.cfg.DB.Table,
		MaxConns: int32(d.cfg.DB.MaxConns),
		MinConns: int32(d.cfg.DB.MinConns),
	})
	if err != nil {
		return fmt.Errorf("init listing store: %w", err)
	}
	d.listings = listings
	d.closers = append(d.closers, listings.Close)

	progressStore, err := postgres.NewProgressStore(ctx, d.cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("init progress store: %w", err)
	}
	d.progress = progressStore
	d.closers = append(d.closers, progressStore.Close)

	switch d.cfg.Storage.Backend {
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		blobs, err := gcs.New(client, gcs.Config{Bucket: d.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		d.blobs = blobs
	case "local":
		blobs, err := local.New(local.Config{BaseDir: d.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		d.blobs = blobs
	case "none":
		// Raw-page archival disabled.
	}

	if d.cfg.PubSub.ProjectID != "" && d.cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, d.cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		topic := client.Topic(d.cfg.PubSub.TopicName)
		pub := pubsubpub.New(topic)
		d.closers = append(d.closers, pub.Stop)
		d.publisher = pub
	}
	return nil
}

// newBuffer builds the batch buffer. Size and chunk limit come from the
// caller so flag overrides apply.
func (d *deps) newBuffer(runID string, size, chunkLimit int) *batch.Buffer {
	opts := []batch.Option{}
	if d.publisher != nil {
		opts = append(opts, batch.WithPublisher(d.publisher, runID))
	}
	return batch.New(d.listings, d.clock, batch.Config{
		BatchSize:  size,
		ChunkLimit: chunkLimit,
	}, d.logger, opts...)
}
