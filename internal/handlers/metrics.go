package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterMetricRoutes exposes the Prometheus registry.
//
// GET /metrics
// Unauthenticated and exempt from rate limiting; keep it off public listeners.
func RegisterMetricRoutes(r gin.IRoutes, gatherer prometheus.Gatherer) {
	h := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	r.GET("/metrics", gin.WrapH(h))
}
