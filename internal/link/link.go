// Package link slaves a companion video to the audio of its unit. Play,
// pause, seek and volume changes on the audio drive the video, and an audio
// without narration gets synthesized silence as long as the video so that the
// audio transport is always the single clock.
package link

import (
	"context"
	"log/slog"
	"math"

	"github.com/maauso/slidecast/internal/asset"
	"github.com/maauso/slidecast/internal/audio"
	"github.com/maauso/slidecast/internal/loop"
	"github.com/maauso/slidecast/internal/media"
)

// suspiciousDuration is the video length in seconds above which a silent
// fallback is still synthesized but reported.
const suspiciousDuration = 600

// Link binds one audio to one video.
type Link struct {
	Audio          *asset.Audio
	Video          *media.Element
	PositionLinked bool

	// key is the video source the link was last reconciled against.
	key string
	// fallback is the silent source attached for the video, if any.
	fallback *media.Source
	waiting  bool
	offs     []func()
}

// Fallback returns the silent source currently attached, if any.
func (l *Link) Fallback() (media.Source, bool) {
	if l.fallback == nil {
		return media.Source{}, false
	}
	return *l.fallback, true
}

// Linker keeps the links of all units. It must only be used on the loop.
type Linker struct {
	runtime media.Runtime
	synth   audio.Synthesizer
	logger  *slog.Logger
	links   map[*asset.Audio]*Link
}

// New creates a linker that synthesizes fallbacks with synth.
func New(runtime media.Runtime, synth audio.Synthesizer, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{
		runtime: runtime,
		synth:   synth,
		logger:  logger,
		links:   make(map[*asset.Audio]*Link),
	}
}

// Lookup returns the link of a.
func (lk *Linker) Lookup(a *asset.Audio) (*Link, bool) {
	l, ok := lk.links[a]
	return l, ok
}

// Link binds video to a. Calling it again for the same video source is a
// no-op. While the video has no duration the call only logs and retries
// once the video reports one.
func (lk *Linker) Link(ctx context.Context, a *asset.Audio, video *media.Element, positionLinked bool) {
	l := lk.bind(a, video, positionLinked)

	src, ok := video.ActiveSource()
	if !ok {
		lk.logger.Warn("video has no source", slog.String("audio", a.ID()))
		return
	}
	if l.key == src.URI {
		return
	}

	duration := video.Duration()
	if duration <= 0 {
		lk.logger.Info("video duration unknown, waiting",
			slog.String("audio", a.ID()),
			slog.String("video", src.URI),
		)
		if !l.waiting {
			l.waiting = true
			video.Once(media.EventDurationChange, func() {
				l.waiting = false
				lk.Link(ctx, a, video, positionLinked)
			})
		}
		return
	}

	if duration > suspiciousDuration {
		lk.logger.Warn("suspicious video duration",
			slog.String("audio", a.ID()),
			slog.String("video", src.URI),
			slog.Float64("seconds", duration),
		)
	}

	l.key = src.URI
	lk.reconcile(ctx, l, int(math.Ceil(duration)))
}

// bind returns the link of a, registering propagation the first time a is
// bound to video.
func (lk *Linker) bind(a *asset.Audio, video *media.Element, positionLinked bool) *Link {
	l, ok := lk.links[a]
	if ok && l.Video == video {
		l.PositionLinked = positionLinked
		return l
	}
	if ok {
		for _, off := range l.offs {
			off()
		}
	}

	l = &Link{Audio: a, Video: video, PositionLinked: positionLinked}
	l.offs = []func(){
		a.On(media.EventPlay, func() {
			if l.PositionLinked {
				video.Seek(a.Position())
			}
			if err := video.Play(); err != nil {
				lk.logger.Debug("video play failed",
					slog.String("video", video.ID()),
					slog.String("error", err.Error()),
				)
			}
		}),
		a.On(media.EventPause, func() {
			video.Pause()
			if l.PositionLinked {
				video.Seek(a.Position())
			}
		}),
		a.On(media.EventVolumeChange, func() {
			video.SetVolume(a.Volume())
			video.SetMuted(a.Muted())
		}),
		a.On(media.EventSeeked, func() {
			if l.PositionLinked {
				video.Seek(a.Position())
			}
		}),
	}
	lk.links[a] = l
	return l
}

func (lk *Linker) reconcile(ctx context.Context, l *Link, target int) {
	a := l.Audio
	if narrated, ok := a.RealSource(); ok {
		a.Activate(narrated.URI)
		return
	}
	if existing, ok := a.SilentSource(target); ok {
		a.Activate(existing.URI)
		l.fallback = &existing
		return
	}

	for _, s := range a.Sources() {
		if s.IsSilent() && s.Duration != target {
			a.RemoveSource(s.URI)
		}
	}
	l.fallback = nil

	key := l.key
	lk.runtime.Go(func() loop.Task {
		src, err := lk.synth.Synthesize(ctx, target)
		return func() {
			if l.key != key {
				return
			}
			if err != nil {
				lk.logger.Warn("silent fallback synthesis failed",
					slog.String("audio", a.ID()),
					slog.Int("seconds", target),
					slog.String("error", err.Error()),
				)
				l.key = ""
				return
			}
			lk.attach(ctx, l, src, target)
		}
	})
}

func (lk *Linker) attach(ctx context.Context, l *Link, src media.Source, target int) {
	a := l.Audio
	a.ReplaceActive(src, func(s media.Source) bool {
		return s.IsSilent() && s.Duration != target
	})
	a.SetLoop(l.Video.Loop())
	l.fallback = &src

	a.Load(ctx, func(err error) {
		if err == nil {
			return
		}
		lk.logger.Debug("silent fallback load interrupted",
			slog.String("audio", a.ID()),
			slog.String("error", err.Error()),
		)
		if active, ok := a.ActiveSource(); ok && active.URI == src.URI {
			a.ClearActive()
		}
		a.RemoveSource(src.URI)
		if l.fallback != nil && l.fallback.URI == src.URI {
			l.fallback = nil
			l.key = ""
		}
	})
}
