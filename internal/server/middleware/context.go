package middleware

import (
	"context"

	"github.com/OFFIS-RIT/biograph/internal/queue"
	"github.com/OFFIS-RIT/biograph/pkg/common"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// BatchRuns stores queued runs and their summaries.
type BatchRuns interface {
	CreateBatchRun(ctx context.Context, runID string, request []byte) (bool, error)
	GetBatchRun(ctx context.Context, runID string) (graphstorage.BatchRun, error)
}

// GraphStats reports graph counts.
type GraphStats interface {
	Stats(ctx context.Context) (common.GraphStats, error)
}

type App struct {
	Runs  BatchRuns
	Graph GraphStats
	Queue queue.Publisher

	Enqueued prometheus.Counter

	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
