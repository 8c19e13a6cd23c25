// Package diagapi exposes the process diagnostics bus (E2) over HTTP: a
// health check and a live event feed, built on echo the way the teacher's
// retrieval-pack siblings wire their REST surfaces.
package diagapi

import (
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vcsfu/core/internal/diag"
	"github.com/vcsfu/core/internal/roomsrv"
)

// NewServer builds an *echo.Echo exposing /healthz and /events (a short
// buffered snapshot of recent diagnostics events; this is not a production
// SSE/metrics surface, just the in-process visibility the spec allows).
func NewServer(bus *diag.Bus, rooms *roomsrv.Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[diagapi] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":      "ok",
			"subscribers": bus.SubscriberCount(),
		})
	})

	e.GET("/rooms/:id/size", func(c echo.Context) error {
		id := c.Param("id")
		return c.JSON(http.StatusOK, map[string]any{
			"room_id": id,
			"size":    rooms.RoomSize(id),
		})
	})

	e.GET("/events", func(c echo.Context) error {
		events, unsubscribe := bus.Subscribe(32)
		defer unsubscribe()

		ctx := c.Request().Context()
		deadline := time.After(2 * time.Second)
		collected := make([]diag.Event, 0, 32)
		for {
			select {
			case e := <-events:
				collected = append(collected, e)
			case <-deadline:
				return c.JSON(http.StatusOK, collected)
			case <-ctx.Done():
				return nil
			}
		}
	})

	return e
}
