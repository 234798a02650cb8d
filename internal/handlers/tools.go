package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/event-ingestion-service/internal/apperr"
	"github.com/PratikDhanave/event-ingestion-service/internal/auth"
	"github.com/PratikDhanave/event-ingestion-service/internal/batch"
	"github.com/PratikDhanave/event-ingestion-service/internal/ids"
	"github.com/PratikDhanave/event-ingestion-service/internal/jsoncodec"
	"github.com/PratikDhanave/event-ingestion-service/internal/models"
)

// RegisterToolRoutes registers the tool registry endpoint.
//
// POST /v1/tools {"tools": [...]}
func RegisterToolRoutes(r gin.IRoutes, tools batch.Enqueuer[models.ToolEvent], limits Limits) {
	limits = limits.withDefaults()
	useJSONFieldNames()

	r.POST("/v1/tools", func(c *gin.Context) {
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

		var req models.ToolIngestRequest
		if err := jsoncodec.Unmarshal(body, &req); err != nil {
			fail(c, apperr.Wrap(apperr.CodeInvalidPayload, "invalid JSON payload", err))
			return
		}
		if len(req.Tools) > limits.MaxEvents {
			fail(c, apperr.New(apperr.CodeTooLarge, "too many tools in one request").
				WithMetadata("max_events", limits.MaxEvents))
			return
		}
		if err := validateStruct(&req); err != nil {
			fail(c, err)
			return
		}

		receivedAt := limits.Now().UTC()
		resp := models.EventIngestResponse{EventIDs: make([]string, 0, len(req.Tools))}
		for _, in := range req.Tools {
			eventID := in.EventID
			if eventID == "" {
				eventID = ids.NewEventID()
			}
			err := tools.Enqueue(models.ToolEvent{
				EventID:     eventID,
				ProjectID:   ac.ProjectID,
				WorkspaceID: ac.WorkspaceID,
				ToolName:    in.ToolName,
				ToolVersion: in.ToolVersion,
				Description: in.Description,
				Metadata:    in.Metadata,
				ReceivedAt:  receivedAt,
			})
			if err != nil {
				fail(c, err)
				return
			}
			resp.EventIDs = append(resp.EventIDs, eventID)
		}
		resp.Accepted = len(resp.EventIDs)

		c.JSON(http.StatusAccepted, resp)
	})
}
