package models

import "time"

// ToolRegistrationInput announces a tool available to an agent runtime.
type ToolRegistrationInput struct {
	EventID     string         `json:"event_id,omitempty" binding:"omitempty,max=128"`
	ToolName    string         `json:"tool_name" binding:"required,max=256"`
	ToolVersion string         `json:"tool_version,omitempty" binding:"max=64"`
	Description string         `json:"description,omitempty" binding:"max=4096"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ToolIngestRequest is the POST /v1/tools payload.
type ToolIngestRequest struct {
	Tools []ToolRegistrationInput `json:"tools" binding:"required,min=1,dive"`
}

// ToolEvent is a record on the tool registry stream.
type ToolEvent struct {
	EventID     string
	ProjectID   string
	WorkspaceID string
	ToolName    string
	ToolVersion string
	Description string
	Metadata    map[string]any
	ReceivedAt  time.Time
}
