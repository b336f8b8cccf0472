// Package server provides the HTTP control surface of a narrated deck.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// NavigateRequest is the HTTP request body for moving through the deck.
type NavigateRequest struct {
	// Action is one of next, prev or goto.
	Action string `json:"action" validate:"required,oneof=next prev goto"`
	// H, V and F address the goto target. F is optional.
	H int  `json:"h" validate:"min=0"`
	V int  `json:"v" validate:"min=0"`
	F *int `json:"f,omitempty" validate:"omitempty,min=0"`
}

// NavigateResponse reports the unit current after a navigation.
type NavigateResponse struct {
	Unit  string `json:"unit"`
	Moved bool   `json:"moved"`
}

// PresentationRequest pauses the deck or shows its overview.
// Omitted fields are left unchanged.
type PresentationRequest struct {
	Paused   *bool `json:"paused,omitempty"`
	Overview *bool `json:"overview,omitempty"`
}

// RecordingToggleRequest switches recording. Without Enabled the current
// state is flipped.
type RecordingToggleRequest struct {
	Enabled *bool `json:"enabled,omitempty"`
}

// SeekRequest moves the current audio.
type SeekRequest struct {
	Position float64 `json:"position" validate:"min=0"`
}

// VolumeRequest changes the current audio's volume or mute state.
type VolumeRequest struct {
	Volume *float64 `json:"volume,omitempty" validate:"omitempty,min=0,max=1"`
	Muted  *bool    `json:"muted,omitempty"`
}

// ArchiveResponse locates a published archive.
type ArchiveResponse struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Entries int    `json:"entries"`
}

// JobResponse is the HTTP response for a TTS fetch job.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	Total    int `json:"total"`
	Done     int `json:"done"`
	// Archive is set once the job completed.
	Archive *ArchiveResponse `json:"archive,omitempty"`
	// Error contains any error message if the job failed.
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JobListResponse lists TTS fetch jobs, oldest first.
type JobListResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
