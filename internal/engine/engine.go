// Package engine runs a narrated deck: it fans presentation events out to
// the playback controller and the recorder, each on its own loop, and
// offers loop-safe commands for the HTTP API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/maauso/slidecast/internal/archive"
	"github.com/maauso/slidecast/internal/deck"
	"github.com/maauso/slidecast/internal/event"
	"github.com/maauso/slidecast/internal/loop"
	"github.com/maauso/slidecast/internal/playback"
	"github.com/maauso/slidecast/internal/recording"
	"github.com/maauso/slidecast/internal/resolver"
	"github.com/maauso/slidecast/internal/unit"
)

// Static errors for engine commands.
var (
	// ErrUnknownAction is returned for a navigation action other than
	// next, prev or goto.
	ErrUnknownAction = errors.New("engine: unknown navigation action")
	// ErrNoTake is returned when a unit has no recording to review.
	ErrNoTake = errors.New("engine: no recording for unit")
)

// Navigation actions.
const (
	ActionNext = "next"
	ActionPrev = "prev"
	ActionGoto = "goto"
)

// TempLoader opens saved temp files.
type TempLoader interface {
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)
}

// Player holds the presentation hints of the control surface.
type Player struct {
	Opacity   float64 `json:"opacity"`
	Placement string  `json:"placement"`
}

// Components are the parts an Engine drives.
type Components struct {
	Deck       *deck.Deck
	Resolver   *resolver.Resolver
	Controller *playback.Controller
	Recorder   *recording.Manager
	Bus        *event.Bus
	// Loop serializes playback; RecLoop serializes recorder I/O.
	Loop    *loop.Loop
	RecLoop *loop.Loop
	Temp    TempLoader
	Player  Player
}

// Engine owns the running presentation.
type Engine struct {
	Components
	logger *slog.Logger

	wg sync.WaitGroup
}

// New wires deck events to the controller and the recorder.
func New(c Components, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{Components: c, logger: logger}
	c.Deck.Subscribe(e.dispatch)
	return e
}

func (e *Engine) dispatch(ev deck.Event) {
	e.Loop.Post(func() {
		e.Controller.Handle(context.Background(), ev)
	})
	e.RecLoop.Post(func() {
		if err := e.Recorder.Handle(context.Background(), ev); err != nil {
			e.logger.Error("recording update failed",
				slog.String("event", string(ev.Type)),
				slog.String("unit", ev.Address.String()),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Start resolves every unit, starts both loops and announces the deck.
// It returns once the deck is ready; the loops run until ctx is done or
// Close is called.
func (e *Engine) Start(ctx context.Context) {
	resolved := e.Resolver.ResolveAll(ctx)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.Loop.Start(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.RecLoop.Start(ctx)
	}()

	e.Deck.Ready()
	e.logger.Info("presentation ready",
		slog.String("title", e.Deck.Title()),
		slog.Int("players", resolved),
	)
}

// Close stops recording, then drains and stops both loops.
func (e *Engine) Close(ctx context.Context) {
	off := false
	if err := e.RecLoop.Do(ctx, func() {
		if err := e.Recorder.Toggle(ctx, &off); err != nil {
			e.logger.Warn("stopping recording failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		e.logger.Warn("recorder loop unavailable", slog.String("error", err.Error()))
	}
	e.Loop.Close()
	e.RecLoop.Close()
	e.wg.Wait()
}

// State describes the whole presentation.
type State struct {
	Title     string             `json:"title"`
	Unit      string             `json:"unit"`
	Paused    bool               `json:"paused"`
	Overview  bool               `json:"overview"`
	Playback  playback.Snapshot  `json:"playback"`
	Recording recording.Snapshot `json:"recording"`
	Player    Player             `json:"player"`
}

// State returns a consistent view of the presentation.
func (e *Engine) State(ctx context.Context) (State, error) {
	s := State{
		Title:     e.Deck.Title(),
		Unit:      e.Deck.Indices().String(),
		Paused:    e.Deck.Paused(),
		Overview:  e.Deck.Overview(),
		Recording: e.Recorder.Snapshot(),
		Player:    e.Player,
	}
	if err := e.Loop.Do(ctx, func() { s.Playback = e.Controller.Snapshot() }); err != nil {
		return State{}, err
	}
	return s, nil
}

// Navigate applies a navigation action and reports the resulting unit and
// whether it changed.
func (e *Engine) Navigate(action string, target unit.Address) (unit.Address, bool, error) {
	before := e.Deck.Indices()
	switch action {
	case ActionNext:
		e.Deck.Next()
	case ActionPrev:
		e.Deck.Prev()
	case ActionGoto:
		if err := e.Deck.Goto(target); err != nil {
			return before, false, err
		}
	default:
		return before, false, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	after := e.Deck.Indices()
	return after, after != before, nil
}

// SetPresentation pauses or resumes the deck and shows or hides the
// overview. Nil arguments are left unchanged.
func (e *Engine) SetPresentation(paused, overview *bool) {
	if paused != nil {
		e.Deck.SetPaused(*paused)
	}
	if overview != nil {
		e.Deck.SetOverview(*overview)
	}
}

// TogglePlayback plays or pauses the current audio.
func (e *Engine) TogglePlayback(ctx context.Context) error {
	return e.onLoop(ctx, e.Controller.Toggle)
}

// Seek moves the current audio.
func (e *Engine) Seek(ctx context.Context, seconds float64) error {
	return e.onLoop(ctx, func() error { return e.Controller.Seek(seconds) })
}

// SetVolume changes the current audio's volume and mute state.
func (e *Engine) SetVolume(ctx context.Context, volume *float64, muted *bool) error {
	return e.onLoop(ctx, func() error { return e.Controller.SetVolume(volume, muted) })
}

func (e *Engine) onLoop(ctx context.Context, fn func() error) error {
	var err error
	if lerr := e.Loop.Do(ctx, func() { err = fn() }); lerr != nil {
		return lerr
	}
	return err
}

// ToggleRecording switches recording on or off; nil flips it.
func (e *Engine) ToggleRecording(ctx context.Context, enabled *bool) (recording.Snapshot, error) {
	var err error
	if lerr := e.RecLoop.Do(ctx, func() { err = e.Recorder.Toggle(ctx, enabled) }); lerr != nil {
		return recording.Snapshot{}, lerr
	}
	return e.Recorder.Snapshot(), err
}

// RecordingArchive publishes everything recorded so far.
func (e *Engine) RecordingArchive(ctx context.Context) (archive.Result, error) {
	return e.Recorder.Archive(ctx)
}

// Take opens the latest recording of addr for review.
func (e *Engine) Take(ctx context.Context, addr unit.Address) (io.ReadCloser, error) {
	path, ok := e.Recorder.Take(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTake, addr)
	}
	return e.Temp.LoadTemp(ctx, path)
}

// TTSItems lists the speech sources of the deck, for batch fetches.
func (e *Engine) TTSItems(ctx context.Context) ([]archive.Item, error) {
	var items []archive.Item
	if err := e.Loop.Do(ctx, func() { items = e.Resolver.TTSItems() }); err != nil {
		return nil, err
	}
	return items, nil
}

// Subscribe returns a channel of playback and recording notifications.
func (e *Engine) Subscribe(size int) (<-chan event.Event, func()) {
	return e.Bus.Subscribe(size)
}
