package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
	"github.com/PratikDhanave/event-ingestion-service/internal/auth"
	"github.com/PratikDhanave/event-ingestion-service/internal/batch"
	"github.com/PratikDhanave/event-ingestion-service/internal/ids"
	"github.com/PratikDhanave/event-ingestion-service/internal/models"
)

// Limits bounds the size of ingest requests.
type Limits struct {
	MaxEvents    int
	MaxBodyBytes int64
	// Now stamps received_at. Defaults to time.Now.
	Now func() time.Time
}

func (l Limits) withDefaults() Limits {
	if l.MaxEvents <= 0 {
		l.MaxEvents = 500
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = 5 << 20
	}
	if l.Now == nil {
		l.Now = time.Now
	}
	return l
}

// RegisterEventRoutes registers the event ingestion endpoint.
//
// POST /v1/events
//   - requires a resolved auth.Context (see auth.Middleware)
//   - all-or-nothing validation: one bad event rejects the request
//   - 202 once every event is buffered; persistence happens on the next flush
func RegisterEventRoutes(r gin.IRoutes, events batch.Enqueuer[models.Event], limits Limits) {
	limits = limits.withDefaults()
	useJSONFieldNames()

	r.POST("/v1/events", func(c *gin.Context) {
		ac, ok := auth.FromGin(c)
		if !ok {
			fail(c, apperr.New(apperr.CodeMissingCredential, ""))
			return
		}

		body, err := readBody(c, limits.MaxBodyBytes)
		if err != nil {
			fail(c, err)
			return
		}

		inputs, err := models.ParseEventInputs(body)
		if err != nil {
			fail(c, apperr.Wrap(apperr.CodeInvalidPayload, "body must be an event, an array of events or {\"events\": [...]}", err))
			return
		}
		if len(inputs) == 0 {
			fail(c, apperr.New(apperr.CodeInvalidPayload, "no events in request"))
			return
		}
		if len(inputs) > limits.MaxEvents {
			fail(c, apperr.New(apperr.CodeTooLarge, "too many events in one request").
				WithMetadata("max_events", limits.MaxEvents))
			return
		}

		for i := range inputs {
			if err := validateEvent(&inputs[i]); err != nil {
				e, _ := apperr.As(err)
				fail(c, e.WithMetadata("index", i))
				return
			}
		}

		receivedAt := limits.Now().UTC()
		resp := models.EventIngestResponse{EventIDs: make([]string, 0, len(inputs))}
		for _, in := range inputs {
			eventID := in.EventID
			if eventID == "" {
				eventID = ids.NewEventID()
			}
			ev := in.ToEvent(eventID, receivedAt)
			ev.ProjectID = ac.ProjectID
			ev.WorkspaceID = ac.WorkspaceID
			ev.TraceID = ac.TraceID
			if ev.SessionID == "" {
				ev.SessionID = ac.SessionID
			}

			if err := events.Enqueue(ev); err != nil {
				// events enqueued before a shutdown began are still flushed
				fail(c, err)
				return
			}
			resp.EventIDs = append(resp.EventIDs, eventID)
		}
		resp.Accepted = len(resp.EventIDs)

		c.JSON(http.StatusAccepted, resp)
	})
}

// readBody reads at most limit bytes of the request body.
func readBody(c *gin.Context, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.New(apperr.CodeTooLarge, "").
				WithMetadata("max_bytes", limit)
		}
		return nil, apperr.Wrap(apperr.CodeInvalidPayload, "unreadable body", err)
	}
	return body, nil
}

// fail records err for the error stage and stops the chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
