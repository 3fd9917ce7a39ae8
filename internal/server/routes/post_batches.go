package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/biograph/internal/queue"
	"github.com/OFFIS-RIT/biograph/internal/server/middleware"
	"github.com/OFFIS-RIT/biograph/pkg/logger"

	_ "github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// CreateBatchHandler validates a batch request, records it as pending and queues it
// for the workers.
func CreateBatchHandler(c echo.Context) error {
	type createBatchBody struct {
		RunID     string    `json:"run_id" validate:"omitempty,max=64"`
		Source    string    `json:"source" validate:"required,oneof=postgres s3"`
		FromID    string    `json:"from_id"`
		ToID      string    `json:"to_id"`
		Watermark time.Time `json:"watermark"`
	}

	type createBatchResponse struct {
		Message string `json:"message"`
		RunID   string `json:"run_id,omitempty"`
	}

	data := new(createBatchBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createBatchResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createBatchResponse{
			Message: "Invalid request body",
		})
	}

	runID := data.RunID
	if runID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, createBatchResponse{
				Message: "Internal server error",
			})
		}
		runID = id
	}
	msg := queue.BatchMsg{
		RunID:     runID,
		Source:    data.Source,
		FromID:    data.FromID,
		ToID:      data.ToID,
		Watermark: data.Watermark.UTC(),
	}
	if err := msg.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, createBatchResponse{
			Message: err.Error(),
		})
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, createBatchResponse{
			Message: "Internal server error",
		})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App
	created, err := app.Runs.CreateBatchRun(ctx, runID, body)
	if err != nil {
		logger.Error("[Server] Failed to record batch run", "run_id", runID, "err", err)
		return c.JSON(http.StatusInternalServerError, createBatchResponse{
			Message: "Internal server error",
		})
	}
	if !created {
		return c.JSON(http.StatusConflict, createBatchResponse{
			Message: "Batch run already exists",
			RunID:   runID,
		})
	}

	if err := queue.PublishFIFO(app.Queue, queue.BatchQueue, body); err != nil {
		logger.Error("[Server] Failed to enqueue batch", "run_id", runID, "err", err)
		return c.JSON(http.StatusServiceUnavailable, createBatchResponse{
			Message: "Batch could not be queued",
			RunID:   runID,
		})
	}
	if app.Enqueued != nil {
		app.Enqueued.Inc()
	}
	logger.Info("[Server] Batch queued", "run_id", runID, "source", msg.Source)

	return c.JSON(http.StatusAccepted, createBatchResponse{
		Message: "Batch queued",
		RunID:   runID,
	})
}
