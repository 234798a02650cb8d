package httpserver

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PratikDhanave/event-ingestion-service/internal/auth"
	"github.com/PratikDhanave/event-ingestion-service/internal/batch"
	"github.com/PratikDhanave/event-ingestion-service/internal/config"
	"github.com/PratikDhanave/event-ingestion-service/internal/handlers"
	"github.com/PratikDhanave/event-ingestion-service/internal/models"
	"github.com/PratikDhanave/event-ingestion-service/internal/ratelimit"
)

// Deps is everything the router needs, built once at startup.
type Deps struct {
	Config   config.Config
	Logger   *slog.Logger
	Resolver auth.Resolver
	Limiter  ratelimit.Consumer
	// KeyFunc picks the rate-limit bucket. Defaults to the client IP.
	KeyFunc  KeyFunc
	Events   batch.Enqueuer[models.Event]
	Tools    batch.Enqueuer[models.ToolEvent]
	Health   handlers.HealthChecker
	Gatherer prometheus.Gatherer
	Limits   handlers.Limits
}

// NewRouter wires the plugin stages and routes in their fixed order:
// request id and access log, error normalization, CORS, rate limit, routes.
//
// Public: /health, /ready, /metrics
// Authenticated: /v1/events, /v1/tools
func NewRouter(d Deps) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)

	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.KeyFunc == nil {
		d.KeyFunc = ClientIPKey
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Limits.MaxEvents <= 0 {
		d.Limits.MaxEvents = d.Config.MaxEventsPerRequest
	}

	r := gin.New()
	if err := r.SetTrustedProxies(d.Config.TrustedProxies); err != nil {
		return nil, err
	}

	r.Use(
		RequestID(),
		AccessLog(d.Logger),
		Errors(d.Logger),
		CORS(d.Config.CORSOrigins),
		RateLimit(d.Limiter, d.KeyFunc),
	)

	handlers.RegisterHealthRoutes(r, d.Health)
	handlers.RegisterMetricRoutes(r, d.Gatherer)

	ingest := r.Group("/")
	ingest.Use(auth.Middleware(d.Resolver))
	handlers.RegisterEventRoutes(ingest, d.Events, d.Limits)
	handlers.RegisterToolRoutes(ingest, d.Tools, d.Limits)

	return r, nil
}
