package httpserver

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
)

// Errors is the only stage that writes error bodies. Later stages record
// failures with c.Error and abort; once the chain unwinds the last recorded
// error is rendered. Typed errors keep their code and status, anything else
// becomes a generic internal.error. Panics are recovered the same way.
func Errors(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				render(c, log, fmt.Errorf("panic: %v", rec))
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			render(c, log, c.Errors.Last().Err)
		}
	}
}

func render(c *gin.Context, log *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		log.Error("unhandled error",
			"request_id", RequestIDFrom(c), "path", c.Request.URL.Path, "error", err)
		e = apperr.New(apperr.CodeInternal, "")
	} else if e.Status >= 500 {
		log.Error("request failed",
			"request_id", RequestIDFrom(c), "code", e.Code, "error", err)
	}
	c.AbortWithStatusJSON(e.Status, e.ToBody())
}
