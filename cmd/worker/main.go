package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/queue"
	"github.com/OFFIS-RIT/biograph/internal/storage"
	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/ai"
	oai "github.com/OFFIS-RIT/biograph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/biograph/pkg/ai/openai"
	"github.com/OFFIS-RIT/biograph/pkg/annotate"
	"github.com/OFFIS-RIT/biograph/pkg/feed"
	"github.com/OFFIS-RIT/biograph/pkg/leaselock"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/logger/console"
	"github.com/OFFIS-RIT/biograph/pkg/pipeline"
	"github.com/OFFIS-RIT/biograph/pkg/relation"
	"github.com/OFFIS-RIT/biograph/pkg/resolve"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	cfg := pipeline.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid pipeline configuration", "err", err)
	}

	// Init pgx client
	databaseURL := util.GetEnv("DATABASE_URL")
	if err := graphstorage.Migrate(databaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pgConn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	pg := graphstorage.NewGraphDBStorageWithConnection(pgConn)

	graph, err := storage.OpenGraphStore(ctx, util.GetEnvString("GRAPH_STORE", storage.GraphPostgres), pgConn)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer graph.Close(context.Background())

	// Init s3 client, used by batches with source "s3"
	var s3Client *awss3.Client
	s3Settings := storage.S3SettingsFromEnv()
	if s3Settings.Bucket != "" {
		s3Client, err = storage.NewS3Client(ctx, s3Settings)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
	}

	// metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)
	go serveMetrics(ctx, reg)

	var parser relation.Parser
	if u := util.GetEnv("PARSER_URL"); u != "" {
		parser = relation.NewHTTPParser(u, &http.Client{Timeout: cfg.CallTimeout})
	}

	coordinator, err := pipeline.NewCoordinator(cfg, pipeline.Params{
		Annotators: buildAnnotators(cfg),
		Registries: resolve.DefaultRegistries(resolve.Endpoints{
			MyGene:     util.GetEnv("REGISTRY_MYGENE_URL"),
			UniProt:    util.GetEnv("REGISTRY_UNIPROT_URL"),
			EUtils:     util.GetEnv("REGISTRY_EUTILS_URL"),
			EUtilsKey:  util.GetEnv("REGISTRY_EUTILS_KEY"),
			OLS:        util.GetEnv("REGISTRY_OLS_URL"),
			PubChem:    util.GetEnv("REGISTRY_PUBCHEM_URL"),
			HTTPClient: &http.Client{Timeout: cfg.CallTimeout},
			Offline:    cfg.OfflineResolution,
		}),
		Store:   graph,
		Parser:  parser,
		Metrics: metrics,
	})
	if err != nil {
		logger.Fatal("Failed to create coordinator", "err", err)
	}

	// Init rabbitmq
	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.BatchQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	processor := &queue.BatchProcessor{
		Runner: coordinator,
		Runs:   pg,
		Locker: leaselock.New(pgConn),
		Feeds: func(msg queue.BatchMsg) (feed.Feed, error) {
			switch msg.Source {
			case queue.SourcePostgres:
				return feed.NewPostgresFeed(pg, msg.Range(), cfg.BatchSize), nil
			case queue.SourceS3:
				if s3Client == nil {
					return nil, errors.New("s3 feed requested but AWS_BUCKET is not set")
				}
				return feed.NewS3Feed(s3Client, feed.S3Params{
					Bucket:   s3Settings.Bucket,
					Prefix:   s3Settings.Prefix,
					PageSize: cfg.BatchSize,
					Fetchers: cfg.Parallelism,
				}, msg.Range()), nil
			}
			return nil, fmt.Errorf("unknown source %q", msg.Source)
		},
		Events: ch,
		Lease:  leaselock.Options{TTL: 2 * time.Minute, TokenPrefix: "worker-"},
	}

	go recoverStaleRuns(ctx, pg, ch)

	// One batch at a time per worker
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()
	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}
	msgs, err := consumerCh.Consume(queue.BatchQueue, "batch_queue_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.BatchQueue, "err", err)
	}

	logger.Info("Listening for messages")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.BatchQueue)
				return
			}
			handle(ctx, processor, consumerCh, msg)
		}
	}
}

func handle(ctx context.Context, processor *queue.BatchProcessor, ch *amqp.Channel, msg amqp.Delivery) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.BatchQueue)

	summary, err := processor.Process(ctx, msg.Body)
	if err != nil {
		logger.Error("Error processing message", "queue", queue.BatchQueue, "run_id", summary.RunID, "err", err)
		queue.HandleProcessingError(ch, msg, queue.BatchQueue, errors.Is(err, queue.ErrInvalidMessage))
	} else {
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queue.BatchQueue, "run_id", summary.RunID)
	}

	processingDuration := time.Since(startTime)
	hours := int(processingDuration.Hours())
	minutes := int(processingDuration.Minutes()) % 60
	seconds := int(processingDuration.Seconds()) % 60
	logger.Info(
		"Processing time",
		"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
	)
	logger.Info("Waiting for next message")
}

// buildAnnotators enables the annotators listed in BIOGRAPH_ANNOTATORS. The model based
// annotator also needs AI_ADAPTER to name a backend.
func buildAnnotators(cfg pipeline.Config) []annotate.Annotator {
	enabled := util.GetEnvList("BIOGRAPH_ANNOTATORS", []string{"pattern", "dictionary", "llm"})
	var annotators []annotate.Annotator
	if slices.Contains(enabled, "pattern") {
		annotators = append(annotators, annotate.NewPatternAnnotator(annotate.DefaultPatterns()...))
	}
	if slices.Contains(enabled, "dictionary") {
		annotators = append(annotators, annotate.NewDictionaryAnnotator(annotate.DefaultTerms()...))
	}
	if !slices.Contains(enabled, "llm") {
		return annotators
	}

	var client ai.StructuredClient
	model := util.GetEnv("AI_CHAT_EXTRACT_MODEL")
	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		c, err := oai.NewExtractionOllamaClient(oai.NewExtractionOllamaClientParams{
			ExtractionModel:       model,
			BaseURL:               util.GetEnv("AI_CHAT_URL"),
			ApiKey:                util.GetEnv("AI_CHAT_KEY"),
			MaxConcurrentRequests: int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 4)),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		client = c
	case "openai":
		c, err := gai.NewExtractionOpenAIClient(gai.NewExtractionOpenAIClientParams{
			ExtractionModel: model,
			ChatURL:         util.GetEnv("AI_CHAT_URL"),
			ChatKey:         util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create OpenAI client", "err", err)
		}
		client = c
	default:
		return annotators
	}

	backoff := util.DefaultBackoff
	backoff.MaxAttempts = cfg.RetryAttempts
	return append(annotators, annotate.NewLLMAnnotator(annotate.LLMAnnotatorParams{
		Client:      client,
		Model:       model,
		ChunkTokens: util.GetEnvInt("AI_CHUNK_TOKENS", 0),
		Confidence:  cfg.LLMConfidence,
		Backoff:     backoff,
		Thinking:    util.GetEnv("AI_THINKING"),
	}))
}

func serveMetrics(ctx context.Context, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + util.GetEnvString("METRICS_PORT", "9100"), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("Serving metrics", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server stopped", "err", err)
	}
}

func recoverStaleRuns(ctx context.Context, runs queue.StaleRunStore, ch queue.Publisher) {
	interval := util.GetEnvDuration("STALE_RUN_INTERVAL", 5*time.Minute)
	olderThan := util.GetEnvDuration("STALE_RUN_AGE", 10*time.Minute)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := queue.RecoverStaleRuns(ctx, runs, ch, olderThan); err != nil {
			logger.Warn("[Queue] Stale run recovery failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
