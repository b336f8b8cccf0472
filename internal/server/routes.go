package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /state", h.State)
	mux.HandleFunc("GET /events", h.Events)

	mux.HandleFunc("POST /navigate", h.Navigate)
	mux.HandleFunc("POST /presentation", h.Presentation)

	mux.HandleFunc("POST /playback/toggle", h.TogglePlayback)
	mux.HandleFunc("POST /playback/seek", h.Seek)
	mux.HandleFunc("POST /playback/volume", h.Volume)

	mux.HandleFunc("POST /recording/toggle", h.ToggleRecording)
	mux.HandleFunc("POST /recording/archive", h.RecordingArchive)
	mux.HandleFunc("GET /recording/takes/{unit}", h.Take)

	mux.HandleFunc("POST /tts/fetch", h.StartFetch)
	mux.HandleFunc("GET /tts/fetch", h.ListFetches)
	mux.HandleFunc("GET /tts/fetch/{id}", h.GetFetch)
	mux.HandleFunc("DELETE /tts/fetch/{id}", h.CancelFetch)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
