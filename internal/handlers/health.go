package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-ingestion-service/internal/health"
)

// HealthChecker produces a store reachability report.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// RegisterHealthRoutes registers the unauthenticated probes.
//
// GET /health: always 200; the body says which store is down.
// GET /ready:  200 only when both stores answer, for load balancers.
func RegisterHealthRoutes(r gin.IRoutes, checker HealthChecker) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, checker.Check(c.Request.Context()))
	})

	r.GET("/ready", func(c *gin.Context) {
		report := checker.Check(c.Request.Context())
		status := http.StatusOK
		if !report.Ready() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, report)
	})
}
