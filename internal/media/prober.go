// Package media provides headless media elements and the ffmpeg tooling used
// to inspect media files.
package media

import "context"

// Prober measures media resources.
// Implementations should use ffprobe or similar tools.
type Prober interface {
	// Duration returns the duration in seconds of the resource at uri.
	// The uri may be a local path or an http(s) URL.
	Duration(ctx context.Context, uri string) (float64, error)
}
