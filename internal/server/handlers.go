package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/slidecast/internal/archive"
	"github.com/maauso/slidecast/internal/deck"
	"github.com/maauso/slidecast/internal/engine"
	"github.com/maauso/slidecast/internal/event"
	"github.com/maauso/slidecast/internal/job"
	"github.com/maauso/slidecast/internal/loop"
	"github.com/maauso/slidecast/internal/playback"
	"github.com/maauso/slidecast/internal/recording"
	"github.com/maauso/slidecast/internal/unit"
)

// Engine is the running presentation. *engine.Engine implements it.
type Engine interface {
	State(ctx context.Context) (engine.State, error)
	Navigate(action string, target unit.Address) (unit.Address, bool, error)
	SetPresentation(paused, overview *bool)
	TogglePlayback(ctx context.Context) error
	Seek(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, volume *float64, muted *bool) error
	ToggleRecording(ctx context.Context, enabled *bool) (recording.Snapshot, error)
	RecordingArchive(ctx context.Context) (archive.Result, error)
	Take(ctx context.Context, addr unit.Address) (io.ReadCloser, error)
	Subscribe(size int) (<-chan event.Event, func())
}

// FetchService runs TTS fetch jobs. *job.FetchService implements it.
type FetchService interface {
	Start(ctx context.Context) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	Cancel(ctx context.Context, id string) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	engine    Engine
	fetches   FetchService
	validator *validator.Validate
	logger    *slog.Logger
	// eventBuffer is the per-subscriber buffer of the event stream.
	eventBuffer int
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithEventBuffer sets how many notifications a slow event stream client
// may lag behind before it misses some.
func WithEventBuffer(n int) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.eventBuffer = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(e Engine, fetches FetchService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		engine:      e,
		fetches:     fetches,
		validator:   validator.New(),
		logger:      logger,
		eventBuffer: 32,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// State handles GET /state requests.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.State(r.Context())
	if err != nil {
		h.fail(w, "read state", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Navigate handles POST /navigate requests.
func (h *Handlers) Navigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if !h.decode(w, r, &req) {
		return
	}

	target := unit.Slide(req.H, req.V)
	if req.F != nil {
		target = unit.Fragment(req.H, req.V, *req.F)
	}
	addr, moved, err := h.engine.Navigate(req.Action, target)
	if err != nil {
		h.fail(w, "navigate", err)
		return
	}
	writeJSON(w, http.StatusOK, NavigateResponse{Unit: addr.String(), Moved: moved})
}

// TogglePlayback handles POST /playback/toggle requests.
func (h *Handlers) TogglePlayback(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.TogglePlayback(r.Context()); err != nil {
		h.fail(w, "toggle playback", err)
		return
	}
	h.State(w, r)
}

// Seek handles POST /playback/seek requests.
func (h *Handlers) Seek(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Seek(r.Context(), req.Position); err != nil {
		h.fail(w, "seek", err)
		return
	}
	h.State(w, r)
}

// Volume handles POST /playback/volume requests.
func (h *Handlers) Volume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.SetVolume(r.Context(), req.Volume, req.Muted); err != nil {
		h.fail(w, "set volume", err)
		return
	}
	h.State(w, r)
}

// Presentation handles POST /presentation requests.
func (h *Handlers) Presentation(w http.ResponseWriter, r *http.Request) {
	var req PresentationRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.engine.SetPresentation(req.Paused, req.Overview)
	h.State(w, r)
}

// ToggleRecording handles POST /recording/toggle requests.
func (h *Handlers) ToggleRecording(w http.ResponseWriter, r *http.Request) {
	var req RecordingToggleRequest
	// An empty body flips the current state.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	snap, err := h.engine.ToggleRecording(r.Context(), req.Enabled)
	if err != nil {
		h.fail(w, "toggle recording", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// RecordingArchive handles POST /recording/archive requests.
func (h *Handlers) RecordingArchive(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.RecordingArchive(r.Context())
	if err != nil {
		h.fail(w, "publish recording archive", err)
		return
	}
	writeJSON(w, http.StatusOK, ArchiveResponse{Name: res.Name, URL: res.URL, Entries: res.Entries})
}

// Take handles GET /recording/takes/{unit} requests: it streams the latest
// recording of a unit for review.
func (h *Handlers) Take(w http.ResponseWriter, r *http.Request) {
	addr, err := unit.Parse(r.PathValue("unit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_UNIT")
		return
	}
	rc, err := h.engine.Take(r.Context(), addr)
	if err != nil {
		h.fail(w, "open take", err)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.fail(w, "read take", err)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write take", slog.String("error", err.Error()))
	}
}

// StartFetch handles POST /tts/fetch requests.
func (h *Handlers) StartFetch(w http.ResponseWriter, r *http.Request) {
	// The batch outlives the request.
	j, err := h.fetches.Start(context.WithoutCancel(r.Context()))
	if err != nil {
		h.fail(w, "start fetch", err)
		return
	}
	h.logger.Info("tts fetch queued",
		slog.String("job_id", j.ID),
		slog.Int("items", j.Total),
	)
	writeJSON(w, http.StatusAccepted, toJobResponse(j))
}

// ListFetches handles GET /tts/fetch requests.
func (h *Handlers) ListFetches(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.fetches.ListJobs(r.Context())
	if err != nil {
		h.fail(w, "list fetches", err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFetch handles GET /tts/fetch/{id} requests.
func (h *Handlers) GetFetch(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}
	j, err := h.fetches.GetJob(r.Context(), jobID)
	if err != nil {
		h.fail(w, "get fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

// CancelFetch handles DELETE /tts/fetch/{id} requests.
func (h *Handlers) CancelFetch(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.fetches.Cancel(r.Context(), jobID); err != nil {
		h.fail(w, "cancel fetch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Events handles GET /events requests with a server-sent event stream of
// playback and recording notifications.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	events, cancel := h.engine.Subscribe(h.eventBuffer)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not flushable", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("failed to encode event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{recording.ErrDeviceUnavailable, http.StatusServiceUnavailable, "DEVICE_UNAVAILABLE"},
	{recording.ErrNoPlayer, http.StatusConflict, "NO_PLAYER"},
	{playback.ErrNoAudio, http.StatusConflict, "NO_AUDIO"},
	{deck.ErrUnknownUnit, http.StatusNotFound, "UNKNOWN_UNIT"},
	{engine.ErrNoTake, http.StatusNotFound, "NO_TAKE"},
	{engine.ErrUnknownAction, http.StatusBadRequest, "UNKNOWN_ACTION"},
	{job.ErrJobNotFound, http.StatusNotFound, "JOB_NOT_FOUND"},
	{job.ErrFetchInProgress, http.StatusConflict, "FETCH_IN_PROGRESS"},
	{job.ErrNothingToFetch, http.StatusUnprocessableEntity, "NOTHING_TO_FETCH"},
	{job.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{loop.ErrClosed, http.StatusServiceUnavailable, "SHUTTING_DOWN"},
}

// fail maps err to a status code and writes the error response.
func (h *Handlers) fail(w http.ResponseWriter, op string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			h.logger.Warn(op+" rejected", slog.String("error", err.Error()))
			writeError(w, m.status, err.Error(), m.code)
			return
		}
	}
	h.logger.Error(op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, op+" failed", "INTERNAL_ERROR")
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Total:     j.Total,
		Done:      j.Done,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
	}
	if j.Status == job.StatusCompleted {
		resp.Archive = &ArchiveResponse{Name: j.ArchiveName, URL: j.ArchiveURL, Entries: j.Entries}
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
