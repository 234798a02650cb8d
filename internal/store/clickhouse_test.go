package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PratikDhanave/event-ingestion-service/internal/models"
)

func TestNewEventRow(t *testing.T) {
	ts := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("CET", 3600))
	row, err := NewEventRow("batch-1", models.Event{
		EventID:   "e1",
		Type:      models.EventTypeStep,
		Name:      "checkout",
		ProjectID: "P1",
		SessionID: "s1",
		Timestamp: ts,
		Metadata:  map[string]any{"stepSequence": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, "batch-1", row.BatchID)
	assert.Equal(t, "step", row.EventType)
	assert.Equal(t, "P1", row.ProjectID)
	assert.Equal(t, time.UTC, row.Timestamp.Location())
	assert.True(t, ts.Equal(row.Timestamp))
	assert.JSONEq(t, `{"stepSequence":2}`, row.Metadata)
}

func TestNewEventRow_NilMetadata(t *testing.T) {
	row, err := NewEventRow("b", models.Event{EventID: "e1", Type: models.EventTypeTrack})
	require.NoError(t, err)
	assert.Equal(t, "{}", row.Metadata)
}

func TestNewEventRow_UnencodableMetadata(t *testing.T) {
	_, err := NewEventRow("b", models.Event{EventID: "e1", Metadata: map[string]any{"ch": make(chan int)}})
	assert.Error(t, err)
}

func TestNewToolRow(t *testing.T) {
	row, err := NewToolRow("batch-2", models.ToolEvent{
		EventID:     "t1",
		ProjectID:   "P1",
		ToolName:    "web_search",
		ToolVersion: "1.2.0",
	})
	require.NoError(t, err)
	assert.Equal(t, "web_search", row.ToolName)
	assert.Equal(t, "batch-2", row.BatchID)
	assert.Equal(t, "{}", row.Metadata)
}
