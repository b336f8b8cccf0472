package media

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maauso/slidecast/internal/clock"
	"github.com/maauso/slidecast/internal/loop"
)

// Element errors.
var (
	// ErrNoSource is returned when an element has no active source.
	ErrNoSource = errors.New("media: no active source")
	// ErrLoadAborted is reported to a load that was superseded or aborted.
	ErrLoadAborted = errors.New("media: load aborted")
)

// EventType names an element lifecycle event.
type EventType string

// Element events.
const (
	EventPlay           EventType = "play"
	EventPause          EventType = "pause"
	EventSeeked         EventType = "seeked"
	EventVolumeChange   EventType = "volumechange"
	EventEnded          EventType = "ended"
	EventDurationChange EventType = "durationchange"
)

// Runtime schedules element callbacks. *loop.Loop implements it.
type Runtime interface {
	Post(t loop.Task) bool
	Go(work func() loop.Task)
}

// Env holds what elements share: time, scheduling and probing.
type Env struct {
	Clock   clock.Clock
	Runtime Runtime
	Prober  Prober
	Logger  *slog.Logger
}

type listener struct {
	fn func()
}

// Element is a headless media player. Its transport advances with the
// clock while playing; it never renders audio itself.
//
// An Element is not safe for concurrent use: all methods must be called on
// the loop goroutine. Listeners run as separate loop tasks, after the call
// that emitted the event returns.
type Element struct {
	id  string
	env Env

	sources []Source
	active  int

	duration float64
	loaded   bool

	position  float64
	startedAt time.Time
	paused    bool
	ended     bool

	volume float64
	muted  bool
	loop   bool
	hidden bool

	endTimer clock.Timer
	endSeq   int

	loadSeq    int
	loadCancel context.CancelFunc
	loadDone   func(error)

	listeners map[EventType][]*listener
}

// NewElement creates a paused element without sources.
func (env Env) NewElement(id string) *Element {
	if env.Clock == nil {
		env.Clock = clock.Real{}
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &Element{
		id:        id,
		env:       env,
		active:    -1,
		paused:    true,
		volume:    1,
		hidden:    true,
		listeners: make(map[EventType][]*listener),
	}
}

// ID returns the element identifier.
func (e *Element) ID() string { return e.id }

// On registers fn for events of type t and returns a func that removes it.
func (e *Element) On(t EventType, fn func()) func() {
	l := &listener{fn: fn}
	e.listeners[t] = append(e.listeners[t], l)
	return func() {
		ls := e.listeners[t]
		for i, candidate := range ls {
			if candidate == l {
				e.listeners[t] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

// Once registers fn for the next event of type t only.
func (e *Element) Once(t EventType, fn func()) {
	var off func()
	off = e.On(t, func() {
		off()
		fn()
	})
}

func (e *Element) emit(t EventType) {
	ls := append([]*listener(nil), e.listeners[t]...)
	if len(ls) == 0 {
		return
	}
	e.env.Runtime.Post(func() {
		for _, l := range ls {
			l.fn()
		}
	})
}

// Sources returns a copy of the element's sources in preference order.
func (e *Element) Sources() []Source {
	return append([]Source(nil), e.sources...)
}

// AddSource appends s unless a source with the same URI exists.
func (e *Element) AddSource(s Source) {
	if e.indexOf(s.URI) >= 0 {
		return
	}
	e.sources = append(e.sources, s)
}

// RemoveSource drops the source with uri. Removing the active source leaves
// the element without one.
func (e *Element) RemoveSource(uri string) bool {
	i := e.indexOf(uri)
	if i < 0 {
		return false
	}
	e.sources = append(e.sources[:i:i], e.sources[i+1:]...)
	switch {
	case i == e.active:
		e.deactivate()
	case i < e.active:
		e.active--
	}
	return true
}

// Activate makes the source with uri the active one. Switching sources stops
// the transport and rewinds it. A silent source's duration is known at once,
// but the source still has to be loaded before it plays.
func (e *Element) Activate(uri string) bool {
	i := e.indexOf(uri)
	if i < 0 {
		return false
	}
	if i == e.active {
		return true
	}
	e.deactivate()
	e.active = i
	if d := e.sources[i].Duration; d > 0 {
		e.setDuration(float64(d))
	}
	return true
}

// ClearActive leaves the element without an active source.
func (e *Element) ClearActive() {
	e.deactivate()
}

// ActiveSource returns the active source, if any.
func (e *Element) ActiveSource() (Source, bool) {
	if e.active < 0 || e.active >= len(e.sources) {
		return Source{}, false
	}
	return e.sources[e.active], true
}

func (e *Element) deactivate() {
	e.abortLoad()
	e.stopTransport()
	e.active = -1
	e.loaded = false
	e.duration = 0
	e.position = 0
	e.ended = false
	e.paused = true
}

func (e *Element) indexOf(uri string) int {
	for i, s := range e.sources {
		if s.URI == uri {
			return i
		}
	}
	return -1
}

// Duration returns the duration in seconds, or 0 when it is not known yet.
func (e *Element) Duration() float64 { return e.duration }

// SetDuration records metadata obtained elsewhere, such as a deck manifest.
func (e *Element) SetDuration(seconds float64) {
	if seconds <= 0 {
		return
	}
	e.setDuration(seconds)
	if _, ok := e.ActiveSource(); ok {
		e.loaded = true
	}
}

func (e *Element) setDuration(seconds float64) {
	if seconds == e.duration {
		return
	}
	e.duration = seconds
	e.emit(EventDurationChange)
}

// Loaded reports whether the active source is ready to play.
func (e *Element) Loaded() bool { return e.loaded }

// Load prepares the active source, probing its duration when unknown.
// done, if non-nil, runs on the loop with nil, the probe error, or
// ErrLoadAborted when a later Load, source change or AbortLoad supersedes it.
func (e *Element) Load(ctx context.Context, done func(error)) {
	src, ok := e.ActiveSource()
	if !ok {
		e.finishLater(done, ErrNoSource)
		return
	}
	if e.loaded {
		e.finishLater(done, nil)
		return
	}

	e.abortLoad()
	e.loadSeq++
	seq := e.loadSeq
	ctx, cancel := context.WithCancel(ctx)
	e.loadCancel = cancel
	e.loadDone = done

	prober := e.env.Prober
	e.env.Runtime.Go(func() loop.Task {
		var (
			d   float64
			err error
		)
		switch {
		case src.Duration > 0:
			d = float64(src.Duration)
		case prober == nil:
			err = ErrUnknownDuration
		default:
			d, err = prober.Duration(ctx, src.URI)
		}
		return func() {
			if seq != e.loadSeq {
				return
			}
			cancel()
			cb := e.loadDone
			e.loadCancel = nil
			e.loadDone = nil
			if err != nil {
				e.env.Logger.Debug("media load failed",
					slog.String("element", e.id),
					slog.String("uri", src.URI),
					slog.String("error", err.Error()),
				)
				if cb != nil {
					cb(err)
				}
				return
			}
			e.loaded = true
			e.setDuration(d)
			if !e.paused {
				e.armEnd()
			}
			if cb != nil {
				cb(nil)
			}
		}
	})
}

// AbortLoad interrupts an in-flight Load, reporting ErrLoadAborted to it.
func (e *Element) AbortLoad() {
	e.abortLoad()
}

// Loading reports whether a Load is in flight.
func (e *Element) Loading() bool { return e.loadCancel != nil }

func (e *Element) abortLoad() {
	if e.loadCancel == nil {
		return
	}
	e.loadCancel()
	cb := e.loadDone
	e.loadCancel = nil
	e.loadDone = nil
	e.loadSeq++
	e.finishLater(cb, ErrLoadAborted)
}

func (e *Element) finishLater(done func(error), err error) {
	if done == nil {
		return
	}
	e.env.Runtime.Post(func() { done(err) })
}

// Play starts the transport. An element that had ended restarts from 0.
// When the duration is unknown the source is loaded first.
func (e *Element) Play() error {
	if _, ok := e.ActiveSource(); !ok {
		return ErrNoSource
	}
	if !e.paused {
		return nil
	}
	if e.ended {
		e.position = 0
		e.ended = false
	}
	e.paused = false
	e.startedAt = e.env.Clock.Now()
	e.emit(EventPlay)

	if e.loaded {
		e.armEnd()
	} else if e.loadCancel == nil {
		e.Load(context.Background(), nil)
	}
	return nil
}

// Pause stops the transport at the current position.
func (e *Element) Pause() {
	if e.paused {
		return
	}
	e.position = e.Position()
	e.paused = true
	e.stopTransport()
	e.emit(EventPause)
}

// Seek moves the transport to seconds, clamped to the known duration.
func (e *Element) Seek(seconds float64) {
	e.setPosition(seconds)
	e.emit(EventSeeked)
}

// Rewind moves the transport to 0 without emitting an event.
func (e *Element) Rewind() {
	e.setPosition(0)
}

func (e *Element) setPosition(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	if e.duration > 0 && seconds > e.duration {
		seconds = e.duration
	}
	e.position = seconds
	e.ended = false
	if !e.paused {
		e.startedAt = e.env.Clock.Now()
		e.stopTransport()
		if e.loaded {
			e.armEnd()
		}
	}
}

// Position returns the transport position in seconds.
func (e *Element) Position() float64 {
	if e.paused {
		return e.position
	}
	pos := e.position + e.env.Clock.Now().Sub(e.startedAt).Seconds()
	if e.duration > 0 && pos > e.duration {
		pos = e.duration
	}
	return pos
}

// Paused reports whether the transport is stopped.
func (e *Element) Paused() bool { return e.paused }

// Ended reports whether playback reached the end of a non-looping source.
func (e *Element) Ended() bool { return e.ended }

// Volume returns the volume in [0, 1].
func (e *Element) Volume() float64 { return e.volume }

// Muted reports whether the element is muted.
func (e *Element) Muted() bool { return e.muted }

// SetVolume sets the volume, clamped to [0, 1].
func (e *Element) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	if v == e.volume {
		return
	}
	e.volume = v
	e.emit(EventVolumeChange)
}

// SetMuted mutes or unmutes the element.
func (e *Element) SetMuted(m bool) {
	if m == e.muted {
		return
	}
	e.muted = m
	e.emit(EventVolumeChange)
}

// Loop reports whether playback restarts at the end.
func (e *Element) Loop() bool { return e.loop }

// SetLoop sets the loop flag.
func (e *Element) SetLoop(l bool) { e.loop = l }

// Hidden reports whether the element's controls are hidden.
func (e *Element) Hidden() bool { return e.hidden }

// SetHidden shows or hides the element's controls.
func (e *Element) SetHidden(h bool) { e.hidden = h }

func (e *Element) armEnd() {
	e.stopTransport()
	if e.duration <= 0 {
		return
	}
	remaining := e.duration - e.Position()
	if remaining < 0 {
		remaining = 0
	}
	e.endSeq++
	seq := e.endSeq
	e.endTimer = e.env.Clock.AfterFunc(time.Duration(remaining*float64(time.Second)), func() {
		e.env.Runtime.Post(func() { e.reachEnd(seq) })
	})
}

func (e *Element) stopTransport() {
	e.endSeq++
	if e.endTimer != nil {
		e.endTimer.Stop()
		e.endTimer = nil
	}
}

func (e *Element) reachEnd(seq int) {
	if seq != e.endSeq || e.paused {
		return
	}
	e.endTimer = nil
	if e.loop {
		e.position = 0
		e.startedAt = e.env.Clock.Now()
		e.armEnd()
		return
	}
	e.position = e.duration
	e.paused = true
	e.ended = true
	e.emit(EventPause)
	e.emit(EventEnded)
}
