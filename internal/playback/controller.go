// Package playback owns the current audio of the presentation. It swaps
// players on navigation, autoplays, advances when narration ends and
// broadcasts playback notifications.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maauso/slidecast/internal/asset"
	"github.com/maauso/slidecast/internal/clock"
	"github.com/maauso/slidecast/internal/deck"
	"github.com/maauso/slidecast/internal/event"
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/resolver"
	"github.com/maauso/slidecast/internal/unit"
)

// ErrNoAudio is returned by Toggle when the current unit has no player.
var ErrNoAudio = errors.New("playback: no audio for current unit")

// State is the controller state.
type State string

// Controller states.
const (
	StateIdle      State = "idle"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateSuspended State = "suspended"
)

type trigger string

const (
	triggerNavigate trigger = "navigate"
	triggerSuspend  trigger = "suspend"
	triggerRelease  trigger = "release"
	triggerPlay     trigger = "play"
	triggerPause    trigger = "pause"
	triggerEnded    trigger = "ended"
)

// transitions maps each state and trigger to the next state. A missing
// entry keeps the state. Without a current audio Paused becomes Idle.
var transitions = map[State]map[trigger]State{
	StateIdle: {
		triggerNavigate: StatePaused,
		triggerSuspend:  StateSuspended,
	},
	StatePlaying: {
		triggerNavigate: StatePaused,
		triggerPause:    StatePaused,
		triggerEnded:    StatePaused,
		triggerSuspend:  StateSuspended,
	},
	StatePaused: {
		triggerNavigate: StatePaused,
		triggerPlay:     StatePlaying,
		triggerSuspend:  StateSuspended,
	},
	StateSuspended: {
		triggerPlay:    StatePlaying,
		triggerRelease: StatePaused,
	},
}

// Navigator is the part of the presentation the controller drives.
type Navigator interface {
	Indices() unit.Address
	Next() bool
	Goto(addr unit.Address) error
}

// Registry looks up the resolved players of a unit.
type Registry interface {
	Lookup(addr unit.Address) (*resolver.Entry, bool)
}

// Linker binds a unit's video to its audio.
type Linker interface {
	Link(ctx context.Context, a *asset.Audio, video *media.Element, positionLinked bool)
}

// Config holds the playback settings.
type Config struct {
	// Autoplay starts the audio of every unit navigated to.
	Autoplay bool
	// StartAtFragment keeps the shown fragment when a slide is entered
	// instead of returning to the start of the slide.
	StartAtFragment bool
	// Advance is the default advance policy.
	Advance Policy
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock used for advance timers.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

// WithPublisher sets where playback notifications go.
func WithPublisher(p event.Publisher) Option {
	return func(ctl *Controller) {
		ctl.publisher = p
	}
}

// WithRecordingFlag suppresses auto-advance while recording reports true.
func WithRecordingFlag(recording func() bool) Option {
	return func(ctl *Controller) {
		ctl.recording = recording
	}
}

// Controller is the playback state machine. All methods must run on the loop.
type Controller struct {
	nav       Navigator
	registry  Registry
	linker    Linker
	runtime   media.Runtime
	cfg       Config
	clock     clock.Clock
	publisher event.Publisher
	recording func() bool
	logger    *slog.Logger

	state    State
	current  *asset.Audio
	previous *asset.Audio
	timer    clock.Timer
	// playWanted is set when autoplay found no active source yet.
	playWanted bool
	attached   map[*asset.Audio]bool
}

// New creates an idle controller.
func New(nav Navigator, registry Registry, linker Linker, runtime media.Runtime, cfg Config, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		nav:       nav,
		registry:  registry,
		linker:    linker,
		runtime:   runtime,
		cfg:       cfg,
		clock:     clock.Real{},
		recording: func() bool { return false },
		logger:    logger,
		state:     StateIdle,
		attached:  make(map[*asset.Audio]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle applies a presentation event.
func (c *Controller) Handle(ctx context.Context, ev deck.Event) {
	switch ev.Type {
	case deck.EventReady, deck.EventFragmentShown, deck.EventFragmentHidden:
		c.navigate(ctx, ev.Address)
	case deck.EventSlideChanged:
		if cur := c.nav.Indices(); cur != ev.Address {
			// The deck moved on; the event for its current unit is queued.
			c.logger.Debug("stale slide change skipped",
				slog.String("unit", ev.Address.String()),
				slog.String("current", cur.String()),
			)
			return
		}
		if !c.cfg.StartAtFragment && ev.Address.HasFragment() {
			// The resulting fragmenthidden selects the slide's audio.
			if err := c.nav.Goto(ev.Address.Unit()); err == nil {
				c.cancelAdvance()
				return
			}
		}
		c.navigate(ctx, ev.Address)
	case deck.EventPaused, deck.EventOverviewShown:
		c.suspend()
	case deck.EventResumed, deck.EventOverviewHidden:
		c.fire(triggerRelease)
	}
}

// Toggle plays or pauses the current audio.
func (c *Controller) Toggle() error {
	if c.current == nil {
		return ErrNoAudio
	}
	c.cancelAdvance()
	if c.current.Paused() {
		return c.current.Play()
	}
	c.current.Pause()
	return nil
}

// Seek moves the current audio to seconds.
func (c *Controller) Seek(seconds float64) error {
	if c.current == nil {
		return ErrNoAudio
	}
	c.cancelAdvance()
	c.current.Seek(seconds)
	return nil
}

// SetVolume changes the volume and mute state of the current audio. Nil
// arguments are left unchanged. Later units inherit both on autoplay.
func (c *Controller) SetVolume(volume *float64, muted *bool) error {
	if c.current == nil {
		return ErrNoAudio
	}
	if volume != nil {
		c.current.SetVolume(*volume)
	}
	if muted != nil {
		c.current.SetMuted(*muted)
	}
	return nil
}

// State returns the controller state.
func (c *Controller) State() State { return c.state }

// Current returns the current audio, if any.
func (c *Controller) Current() *asset.Audio { return c.current }

// AdvancePending reports whether an advance timer is armed.
func (c *Controller) AdvancePending() bool { return c.timer != nil }

func (c *Controller) fire(t trigger) {
	next, ok := transitions[c.state][t]
	if !ok {
		next = c.state
	}
	if c.current == nil && next != StateSuspended {
		next = StateIdle
	}
	if next != c.state {
		c.logger.Debug("playback state changed",
			slog.String("from", string(c.state)),
			slog.String("to", string(next)),
			slog.String("trigger", string(t)),
		)
	}
	c.state = next
}

func (c *Controller) navigate(ctx context.Context, addr unit.Address) {
	c.cancelAdvance()

	var (
		entry *resolver.Entry
		next  *asset.Audio
	)
	if e, ok := c.registry.Lookup(addr); ok {
		entry, next = e, e.Audio
	}
	if next != nil && next == c.current {
		return
	}

	prev := c.current
	if prev != nil {
		c.demote(prev)
	}
	c.previous = prev
	c.current = next
	c.playWanted = false
	c.fire(triggerNavigate)

	if next == nil {
		c.logger.Debug("unit has no audio", slog.String("unit", addr.String()))
		return
	}

	c.attach(ctx, next)
	next.SetHidden(false)
	if entry.Video != nil {
		c.linker.Link(ctx, next, entry.Video, entry.PositionLinked)
	}

	if c.cfg.Autoplay && c.state != StateSuspended {
		if prev != nil {
			next.SetVolume(prev.Volume())
			next.SetMuted(prev.Muted())
		}
		c.play(next)
	}
}

// demote resets the outgoing audio: pause unless finished, rewind, hide.
func (c *Controller) demote(a *asset.Audio) {
	a.AbortLoad()
	if !a.Paused() {
		a.Pause()
	}
	a.Rewind()
	a.SetHidden(true)
}

func (c *Controller) play(a *asset.Audio) {
	err := a.Play()
	switch {
	case err == nil:
	case errors.Is(err, media.ErrNoSource):
		// A video fallback may still be on its way.
		c.playWanted = true
	default:
		c.logger.Warn("autoplay failed",
			slog.String("audio", a.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Controller) suspend() {
	c.cancelAdvance()
	c.playWanted = false
	if c.current != nil && !c.current.Paused() {
		c.current.Pause()
	}
	c.fire(triggerSuspend)
}

// attach registers the controller's listeners on a once.
func (c *Controller) attach(ctx context.Context, a *asset.Audio) {
	if c.attached[a] {
		return
	}
	c.attached[a] = true

	a.On(media.EventPlay, func() { c.onPlay(ctx, a) })
	a.On(media.EventPause, func() { c.onPause(a) })
	a.On(media.EventSeeked, func() { c.onSeeked(a) })
	a.On(media.EventEnded, func() { c.onEnded(a) })
	a.On(media.EventDurationChange, func() {
		if a == c.current && c.playWanted && c.state != StateSuspended {
			c.playWanted = false
			c.play(a)
		}
	})
}

func (c *Controller) onPlay(ctx context.Context, a *asset.Audio) {
	if a != c.current {
		return
	}
	c.cancelAdvance()
	c.fire(triggerPlay)
	pos := a.Position()
	c.publish(event.Event{
		Type:      event.StartPlayback,
		ID:        a.ID(),
		Resume:    pos > 0,
		Timestamp: pos,
	})
	c.preloadNext(ctx, a.Address)
}

func (c *Controller) onPause(a *asset.Audio) {
	if a != c.current && a != c.previous {
		return
	}
	c.publish(event.Event{
		Type:  event.StopPlayback,
		ID:    a.ID(),
		Pause: a.Position() > 0 && !a.Ended(),
	})
	if a == c.current {
		c.fire(triggerPause)
	}
}

func (c *Controller) onSeeked(a *asset.Audio) {
	if a != c.current {
		return
	}
	c.publish(event.Event{Type: event.SeekPlayback, Timestamp: a.Position()})
}

func (c *Controller) onEnded(a *asset.Audio) {
	if a != c.current {
		return
	}
	c.fire(triggerEnded)
	if c.recording() {
		c.logger.Debug("auto-advance suppressed while recording", slog.String("audio", a.ID()))
		return
	}

	p := c.policyFor(a)
	switch p.Mode {
	case ModeImmediate:
		c.advance()
	case ModeDelay:
		c.armAdvance(p.Delay)
	}
}

func (c *Controller) policyFor(a *asset.Audio) Policy {
	if a.Address.HasFragment() {
		return ResolvePolicy(c.logger, c.cfg.Advance, a.Advance, a.UnitAdvance)
	}
	return ResolvePolicy(c.logger, c.cfg.Advance, a.Advance)
}

func (c *Controller) advance() {
	if !c.nav.Next() {
		c.logger.Info("end of presentation reached")
	}
}

// armAdvance schedules an advance after d. At most one timer is armed.
func (c *Controller) armAdvance(d time.Duration) {
	c.cancelAdvance()
	var t clock.Timer
	t = c.clock.AfterFunc(d, func() {
		c.runtime.Post(func() {
			if c.timer != t {
				return
			}
			c.timer = nil
			c.advance()
		})
	})
	c.timer = t
}

func (c *Controller) cancelAdvance() {
	if c.timer == nil {
		return
	}
	c.timer.Stop()
	c.timer = nil
}

// preloadNext loads the audio of the unit that follows addr: the next
// fragment, else the next vertical slide, else the next horizontal slide.
func (c *Controller) preloadNext(ctx context.Context, addr unit.Address) {
	candidates := []unit.Address{
		unit.Fragment(addr.H, addr.V, addr.F+1),
		unit.Slide(addr.H, addr.V+1),
		unit.Slide(addr.H+1, 0),
	}
	for _, next := range candidates {
		e, ok := c.registry.Lookup(next)
		if !ok {
			continue
		}
		if !e.Audio.Loaded() && !e.Audio.Loading() {
			if _, ok := e.Audio.ActiveSource(); ok {
				e.Audio.Load(ctx, nil)
			}
		}
		return
	}
}

func (c *Controller) publish(e event.Event) {
	if c.publisher != nil {
		c.publisher.Publish(e)
	}
}

// Snapshot describes the controller for status reporting.
type Snapshot struct {
	State          State   `json:"state"`
	Current        string  `json:"current,omitempty"`
	Unit           string  `json:"unit,omitempty"`
	Position       float64 `json:"position"`
	Duration       float64 `json:"duration"`
	Volume         float64 `json:"volume"`
	Muted          bool    `json:"muted"`
	AdvancePending bool    `json:"advance_pending"`
}

// Snapshot returns the current status.
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{State: c.state, AdvancePending: c.timer != nil}
	if a := c.current; a != nil {
		s.Current = a.ID()
		s.Unit = a.Address.String()
		s.Position = a.Position()
		s.Duration = a.Duration()
		s.Volume = a.Volume()
		s.Muted = a.Muted()
	}
	return s
}
