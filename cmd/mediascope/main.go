// Package main wires together the digitization service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcspubsub "cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/mediascope/mediascope/internal/analytics"
	"github.com/mediascope/mediascope/internal/api"
	"github.com/mediascope/mediascope/internal/archive"
	gcsblob "github.com/mediascope/mediascope/internal/blob/gcs"
	localblob "github.com/mediascope/mediascope/internal/blob/local"
	memoryblob "github.com/mediascope/mediascope/internal/blob/memory"
	"github.com/mediascope/mediascope/internal/capability/gemini"
	"github.com/mediascope/mediascope/internal/capability/nlp"
	"github.com/mediascope/mediascope/internal/capability/tesseract"
	"github.com/mediascope/mediascope/internal/clock/system"
	"github.com/mediascope/mediascope/internal/config"
	"github.com/mediascope/mediascope/internal/dispatcher"
	"github.com/mediascope/mediascope/internal/enrich"
	"github.com/mediascope/mediascope/internal/hash/sha256"
	"github.com/mediascope/mediascope/internal/id/uuid"
	"github.com/mediascope/mediascope/internal/logging"
	"github.com/mediascope/mediascope/internal/metadata"
	"github.com/mediascope/mediascope/internal/preprocess"
	"github.com/mediascope/mediascope/internal/progress"
	"github.com/mediascope/mediascope/internal/progress/sinks"
	memorypublisher "github.com/mediascope/mediascope/internal/publisher/memory"
	pubsubpublisher "github.com/mediascope/mediascope/internal/publisher/pubsub"
	queuememory "github.com/mediascope/mediascope/internal/queue/memory"
	"github.com/mediascope/mediascope/internal/segment"
	storememory "github.com/mediascope/mediascope/internal/store/memory"
	storepostgres "github.com/mediascope/mediascope/internal/store/postgres"
	"github.com/mediascope/mediascope/internal/throttle"
	"github.com/mediascope/mediascope/internal/topics"
	"github.com/mediascope/mediascope/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// Without a registered propagator the trace context injected into
	// published messages is empty.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	items, store, ready, closeStores, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init stores: %w", err)
	}
	defer closeStores()

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	defer closePublisher()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      logger.Named("progress"),
	}, promSink, sinks.NewLogSink(logger.Named("progress")))

	queue := queuememory.NewQueue(cfg.Pipeline.QueueDepth)
	hasher := sha256.New()
	clock := system.New()
	idGen := uuid.New()

	gate := throttle.New(throttle.Config{
		DefaultRPS:   cfg.Capabilities.RateLimitRPS,
		DefaultBurst: cfg.Capabilities.RateLimitBurst,
	})
	initial, max := cfg.CapabilityBackoff()
	retry := archive.NewRetryPolicy(cfg.Capabilities.MaxRetries, initial, max)

	nlpClient := nlp.NewClient(nlp.Config{
		BaseURL:      cfg.Capabilities.NLP.BaseURL,
		APIKey:       cfg.Capabilities.NLP.APIKey,
		Timeout:      time.Duration(cfg.Capabilities.NLP.TimeoutSeconds) * time.Second,
		TopicTimeout: time.Duration(cfg.Capabilities.NLP.TopicTimeoutSeconds) * time.Second,
	})

	enricher := enrich.New(
		nlp.NewExtractor(nlpClient),
		nlp.NewClassifier(nlpClient),
		gate,
		retry,
		idGen,
		enrich.Config{
			Parallelism: cfg.Pipeline.EnrichmentParallelism,
			Thresholds: archive.SentimentThresholds{
				Positive: cfg.Sentiment.PositiveThreshold,
				Negative: cfg.Sentiment.NegativeThreshold,
			},
		},
		logger.Named("enrich"),
	)

	topicAssigner := topics.New(nlp.NewAssigner(nlpClient), store, topics.Config{
		MinCorpusSize: cfg.Topics.MinCorpusSize,
		MinTopicSize:  cfg.Topics.MinTopicSize,
	}, logger.Named("topics"))

	recognizer, err := buildRecognizer(cfg)
	if err != nil {
		return fmt.Errorf("init recognizer: %w", err)
	}

	workerCfg := worker.Config{
		BlobPrefix: cfg.Storage.Prefix,
		Topic:      cfg.PubSub.TopicName,
		ItemBudget: cfg.ItemBudget(),
	}
	deps := worker.Deps{
		Queue:      queue,
		Items:      items,
		Store:      store,
		Blobs:      blobs,
		Publisher:  publisher,
		Hasher:     hasher,
		Clock:      clock,
		IDGen:      idGen,
		Pre:        preprocess.New(preprocess.Config{}),
		Recognizer: recognizer,
		Gate:       gate,
		Retry:      retry,
		Resolver:   metadata.New(),
		Segmenter:  segment.New(segment.Config{}),
		Enricher:   enricher,
		Emitter:    hub,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(
			deps,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	apiServer := api.NewServer(api.Deps{
		Items:      items,
		Store:      store,
		Blobs:      blobs,
		Dispatcher: dispatch,
		Engine:     analytics.New(store),
		Topics:     topicAssigner,
		Enricher:   enricher,
		IDGen:      idGen,
		Clock:      clock,
		Metrics:    promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Ready:      ready,
	}, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Pipeline.Workers))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (archive.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsblob.New(client, gcsblob.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return localblob.New(localblob.Config{BaseDir: cfg.Storage.LocalDir})
	default:
		return memoryblob.NewBlobStore(), nil
	}
}

func buildStores(ctx context.Context, cfg config.Config) (archive.ItemStore, archive.Store, func(context.Context) error, func(), error) {
	if cfg.DB.DSN == "" {
		return storememory.NewItemStore(), storememory.NewArchiveStore(),
			nil, func() {}, nil
	}
	archiveStore, err := storepostgres.NewArchiveStore(ctx, storepostgres.ArchiveStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := archiveStore.EnsureSchema(ctx); err != nil {
		archiveStore.Close()
		return nil, nil, nil, nil, err
	}
	ready := func(ctx context.Context) error {
		_, err := archiveStore.ListTopics(ctx)
		return err
	}
	return archiveStore.ItemStore(), archiveStore, ready, archiveStore.Close, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (archive.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := gcspubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pubsubpublisher.New(topic), closeFn, nil
}

func buildRecognizer(cfg config.Config) (archive.TextRecognizer, error) {
	switch cfg.Capabilities.Recognizer {
	case "tesseract":
		return tesseract.New(tesseract.Config{}), nil
	case "gemini":
		return gemini.New(gemini.Config{
			Endpoint: cfg.Capabilities.Gemini.Endpoint,
			Model:    cfg.Capabilities.Gemini.Model,
			APIKey:   cfg.Capabilities.Gemini.APIKey,
			Timeout:  time.Duration(cfg.Capabilities.Gemini.TimeoutSeconds) * time.Second,
		}), nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Capabilities.Recognizer)
	}
}
