// Command seed imports publications from a JSON file into the publications table or the
// S3 bucket and optionally queues a batch over the imported id range.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/queue"
	"github.com/OFFIS-RIT/biograph/internal/storage"
	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	"github.com/OFFIS-RIT/biograph/pkg/logger/console"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

func main() {
	file := flag.String("file", "", "JSON array or JSON lines of publications")
	target := flag.String("target", queue.SourcePostgres, "postgres or s3")
	enqueue := flag.Bool("enqueue", false, "queue a batch over the imported id range")
	flag.Parse()

	util.LoadEnv()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: util.GetEnvBool("DEBUG", false),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *file == "" {
		logger.Fatal("Missing -file")
	}
	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal("Failed to open input", "file", *file, "err", err)
	}
	pubs, err := storage.ReadPublications(f, time.Now())
	f.Close()
	if err != nil {
		logger.Fatal("Failed to read publications", "err", err)
	}
	if len(pubs) == 0 {
		logger.Info("Nothing to import")
		return
	}

	switch *target {
	case queue.SourcePostgres:
		databaseURL := util.GetEnv("DATABASE_URL")
		if err := graphstorage.Migrate(databaseURL); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			logger.Fatal("Unable to connect to database", "err", err)
		}
		defer pool.Close()
		if err := graphstorage.NewGraphDBStorageWithConnection(pool).SavePublications(ctx, pubs); err != nil {
			logger.Fatal("Failed to save publications", "err", err)
		}
	case queue.SourceS3:
		settings := storage.S3SettingsFromEnv()
		client, err := storage.NewS3Client(ctx, settings)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		for _, p := range pubs {
			if _, err := storage.PutPublication(ctx, client, settings, p); err != nil {
				logger.Fatal("Failed to upload publication", "id", p.ID, "err", err)
			}
		}
	default:
		logger.Fatal("Unknown target", "target", *target)
	}
	logger.Info("Imported publications", "count", len(pubs), "target", *target)

	if *enqueue {
		enqueueRange(*target, pubs)
	}
}

func enqueueRange(source string, pubs []common.Publication) {
	ids := make([]string, len(pubs))
	for i, p := range pubs {
		ids[i] = p.ID
	}
	runID, err := gonanoid.New()
	if err != nil {
		logger.Fatal("Failed to create run id", "err", err)
	}
	msg := queue.BatchMsg{RunID: runID, Source: source, FromID: slices.Min(ids), ToID: slices.Max(ids)}
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Fatal("Failed to encode batch message", "err", err)
	}

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
	if err := queue.PublishFIFO(ch, queue.BatchQueue, body); err != nil {
		logger.Fatal("Failed to queue batch", "err", err)
	}
	logger.Info("Batch queued", "run_id", runID, "from_id", msg.FromID, "to_id", msg.ToID)
}
