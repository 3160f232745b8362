//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package rest exposes the access control service over HTTP.
//
// The API surfaces the command bus directly: POST /v1/commands accepts
// any command kind with its JSON payload, and dedicated routes cover
// evaluation, the audit trail, the monitoring set, and health. Error
// kinds map onto HTTP status codes, so enforcement points can react to
// Backpressure and Timeout distinctly from caller faults.
package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/JoshuaRamirez/ACS-sub003/internal/logging"
	core "github.com/JoshuaRamirez/ACS-sub003/pkg/core"
	"github.com/JoshuaRamirez/ACS-sub003/pkg/gateway"
)

var logger = logging.GetLogger("acs.rest")

const agent string = "rest"

// Server serves the REST API.
type Server struct {
	echo *echo.Echo
}

// CreateServer creates and starts a new REST gateway server.
func CreateServer(svc core.AccessService, port int) (gateway.Server, error) {
	e := newEcho(svc)

	// Start server in goroutine since e.Start() blocks
	go func() {
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal(err)
		}
	}()

	logger.Infof(agent, "start", "listening on :%d", port)
	return &Server{echo: e}, nil
}

// newEcho assembles the router without binding a listener.
func newEcho(svc core.AccessService) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	h := &handlers{svc: svc}

	v1 := e.Group("/v1")
	v1.POST("/commands", h.command)
	v1.POST("/evaluate", h.evaluate)

	v1.GET("/audit", h.auditQuery)
	v1.GET("/audit/validate", h.auditValidate)
	v1.GET("/audit/statistics", h.auditStatistics)
	v1.GET("/audit/export", h.auditExport)
	v1.POST("/audit/purge", h.auditPurge)

	v1.GET("/watch", h.watched)
	v1.PUT("/watch/:principal", h.watch)
	v1.DELETE("/watch/:principal", h.unwatch)
	v1.GET("/watch/suspicious", h.suspicious)

	v1.GET("/health", h.health)

	return e
}

// Stop gracefully stops the Server by shutting down the Echo HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
