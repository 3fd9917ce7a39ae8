package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/queue"
	mid "github.com/OFFIS-RIT/biograph/internal/server/middleware"
	"github.com/OFFIS-RIT/biograph/internal/server/routes"
	"github.com/OFFIS-RIT/biograph/internal/storage"
	"github.com/OFFIS-RIT/biograph/internal/util"
	"github.com/OFFIS-RIT/biograph/pkg/logger"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewRegistry returns a registry with the process collectors and the enqueue counter.
func NewRegistry() (*prometheus.Registry, prometheus.Counter) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	enqueued := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Namespace: "biograph",
		Name:      "batches_enqueued_total",
		Help:      "Batch runs accepted and queued by the API.",
	})
	return reg, enqueued
}

// New builds the echo instance for app. Metrics are served from gatherer.
func New(app *mid.App, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e, gatherer)
	return e
}

func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	e.GET("/stats", routes.GetStatsHandler, mid.AuthMiddleware)
	e.POST("/batches", routes.CreateBatchHandler, mid.AuthMiddleware)
	e.GET("/batches/:id", routes.GetBatchHandler, mid.AuthMiddleware)
}

// Init connects the API to postgres, the graph store and RabbitMQ and serves until SIGTERM.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	databaseURL := util.GetEnv("DATABASE_URL")
	if err := graphstorage.Migrate(databaseURL); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	conn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	graph, err := storage.OpenGraphStore(ctx, util.GetEnvString("GRAPH_STORE", storage.GraphPostgres), conn)
	if err != nil {
		logger.Fatal("Failed to open graph store", "err", err)
	}
	defer graph.Close(context.Background())

	que, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.BatchQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	reg, enqueued := NewRegistry()
	e := New(&mid.App{
		Runs:         graphstorage.NewGraphDBStorageWithConnection(conn),
		Graph:        graph,
		Queue:        ch,
		Enqueued:     enqueued,
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
	}, reg)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
