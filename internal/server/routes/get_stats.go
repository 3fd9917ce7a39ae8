package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/biograph/internal/server/middleware"
	"github.com/OFFIS-RIT/biograph/pkg/logger"

	"github.com/labstack/echo/v4"
)

func GetStatsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	st, err := app.Graph.Stats(c.Request().Context())
	if err != nil {
		logger.Error("[Server] Failed to read graph stats", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Graph store unavailable"})
	}
	return c.JSON(http.StatusOK, st)
}
