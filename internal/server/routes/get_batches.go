package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/biograph/internal/server/middleware"
	graphstorage "github.com/OFFIS-RIT/biograph/pkg/store/pgx"

	"github.com/labstack/echo/v4"
)

// GetBatchHandler returns the stored state and summary of one run.
func GetBatchHandler(c echo.Context) error {
	runID := c.Param("id")
	app := c.(*middleware.AppContext).App

	run, err := app.Runs.GetBatchRun(c.Request().Context(), runID)
	if errors.Is(err, graphstorage.ErrRunNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "Batch run not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, run)
}
