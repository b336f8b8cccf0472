// Package recording captures narration per unit. A session follows the
// presentation: every navigation closes the segment of the unit left and
// opens one for the unit entered, and units that already have a recording
// pause the session instead.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/maauso/slidecast/internal/archive"
	"github.com/maauso/slidecast/internal/audio"
	"github.com/maauso/slidecast/internal/clock"
	"github.com/maauso/slidecast/internal/deck"
	"github.com/maauso/slidecast/internal/event"
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/resolver"
	"github.com/maauso/slidecast/internal/unit"
)

// Static errors for recording operations.
var (
	// ErrDeviceUnavailable is returned when the capture device cannot be opened.
	ErrDeviceUnavailable = errors.New("recording: capture device unavailable")
	// ErrNoPlayer is returned when the current unit has no audio player.
	ErrNoPlayer = errors.New("recording: no audio player for unit")
)

// State is the recording state shown by the indicator.
type State string

// Recording states.
const (
	StateOff       State = "off"
	StateRecording State = "recording"
	StatePaused    State = "paused"
)

// Device opens the capture stream.
type Device interface {
	Open(ctx context.Context) (audio.Stream, error)
}

// Encoder starts a segment on a stream.
type Encoder interface {
	Start(ctx context.Context, s audio.Stream) (audio.Segment, error)
}

// Presentation is the part of the deck the recorder reads.
type Presentation interface {
	Indices() unit.Address
	Paused() bool
	Overview() bool
}

// Registry looks up the players of a unit.
type Registry interface {
	Lookup(addr unit.Address) (*resolver.Entry, bool)
}

// TempStore keeps recorded payloads for review.
type TempStore interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (string, error)
	CleanupTemp(ctx context.Context, paths []string) error
}

// Session is an engaged recording.
type Session struct {
	Address unit.Address
	Stream  audio.Stream
	// Segment is nil while the session is paused.
	Segment audio.Segment
	Paused  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithIndicator sets the func told about every state transition.
func WithIndicator(fn func(State)) Option {
	return func(m *Manager) {
		m.indicator = fn
	}
}

// WithPublisher sets where startrecording and stoprecording go.
func WithPublisher(p event.Publisher) Option {
	return func(m *Manager) {
		m.events = p
	}
}

// WithClock sets the clock used to name archives.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithStartAtFragment mirrors the playback setting: when false, a slide
// change that lands on a fragment is followed by a return to the slide
// start, so the recorder waits for that instead.
func WithStartAtFragment(on bool) Option {
	return func(m *Manager) {
		m.startAtFragment = on
	}
}

// Manager runs recording sessions. It is safe for concurrent use; calls
// are serialized and may block on the device and the encoder.
type Manager struct {
	device    Device
	encoder   Encoder
	pres      Presentation
	registry  Registry
	runtime   media.Runtime
	temp      TempStore
	publisher archive.Publisher
	events    event.Publisher
	indicator func(State)
	clock     clock.Clock
	logger    *slog.Logger

	startAtFragment bool

	mu       sync.Mutex
	state    State
	session  *Session
	recorded map[unit.Address]bool
	takes    map[unit.Address]string
	archive  *archive.Archive
	engaged  atomic.Bool
}

// New creates a manager in the Off state. Recorded payloads are attached
// to their unit's player through runtime, saved in temp for review and
// published through publisher on download.
func New(device Device, encoder Encoder, pres Presentation, registry Registry, runtime media.Runtime,
	temp TempStore, publisher archive.Publisher, logger *slog.Logger, opts ...Option,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		device:    device,
		encoder:   encoder,
		pres:      pres,
		registry:  registry,
		runtime:   runtime,
		temp:      temp,
		publisher: publisher,
		indicator: func(State) {},
		clock:     clock.Real{},
		logger:    logger,
		state:     StateOff,
		recorded:  make(map[unit.Address]bool),
		takes:     make(map[unit.Address]string),
		archive:   archive.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Active reports whether a session is engaged, capturing or paused.
func (m *Manager) Active() bool {
	return m.engaged.Load()
}

// Toggle switches recording on or off. want forces a state; nil flips it.
// Recording is always off while the presentation is paused or in overview.
func (m *Manager) Toggle(ctx context.Context, want *bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	on := m.state != StateOff
	desired := !on
	if want != nil {
		desired = *want
	}
	if m.pres.Paused() || m.pres.Overview() {
		desired = false
	}
	switch {
	case desired == on:
		return nil
	case desired:
		return m.start(ctx)
	default:
		return m.stop(ctx)
	}
}

// Handle applies a presentation event.
func (m *Manager) Handle(ctx context.Context, ev deck.Event) error {
	switch ev.Type {
	case deck.EventSlideChanged:
		if !m.startAtFragment && ev.Address.HasFragment() {
			return nil
		}
		return m.Navigate(ctx, ev.Address)
	case deck.EventFragmentShown, deck.EventFragmentHidden:
		return m.Navigate(ctx, ev.Address)
	case deck.EventPaused, deck.EventOverviewShown:
		off := false
		return m.Toggle(ctx, &off)
	}
	return nil
}

// Navigate moves an engaged session to addr.
func (m *Manager) Navigate(ctx context.Context, addr unit.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if m.state == StateOff || s == nil || (s.Address == addr && !s.Paused) {
		return nil
	}

	skip := m.recorded[addr]
	if !skip {
		if _, ok := m.registry.Lookup(addr); !ok {
			m.logger.Warn("unit has no player, recording paused", slog.String("unit", addr.String()))
			skip = true
		}
	}

	var err error
	if m.state == StateRecording {
		err = m.finalizeSegment(ctx)
	}
	s.Address = addr

	if skip {
		s.Paused = true
		m.setState(StatePaused)
		return err
	}
	if capErr := m.capture(ctx, addr); capErr != nil {
		m.logger.Error("restarting capture failed",
			slog.String("unit", addr.String()),
			slog.String("error", capErr.Error()),
		)
		m.closeSession()
		return errors.Join(err, capErr)
	}
	m.setState(StateRecording)
	return err
}

// Archive publishes everything recorded so far and returns where it went.
// Recording continues into the same archive.
func (m *Manager) Archive(ctx context.Context) (archive.Result, error) {
	m.mu.Lock()
	snapshot := m.archive.Copy()
	m.mu.Unlock()

	data, err := snapshot.Finalize()
	if err != nil {
		return archive.Result{}, err
	}
	name := fmt.Sprintf("recording-%s.zip", m.clock.Now().UTC().Format("20060102-150405"))
	url, err := m.publisher.Publish(ctx, name, bytes.NewReader(data))
	if err != nil {
		return archive.Result{}, fmt.Errorf("publish archive: %w", err)
	}

	m.logger.Info("recording archive published",
		slog.String("name", name),
		slog.String("url", url),
		slog.Int("entries", snapshot.Len()),
	)
	return archive.Result{Name: name, URL: url, Entries: snapshot.Len()}, nil
}

// Take returns the temp file holding the latest recording of addr.
func (m *Manager) Take(addr unit.Address) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.takes[addr]
	return path, ok
}

// Snapshot describes the recorder for status reporting.
type Snapshot struct {
	State    State    `json:"state"`
	Unit     string   `json:"unit,omitempty"`
	Recorded []string `json:"recorded"`
	Entries  []string `json:"entries"`
}

// Snapshot returns the current status.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{State: m.state, Recorded: []string{}, Entries: m.archive.Names()}
	if m.session != nil {
		s.Unit = m.session.Address.String()
	}
	addrs := make([]unit.Address, 0, len(m.recorded))
	for addr := range m.recorded {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Less(addrs[j]) })
	for _, addr := range addrs {
		s.Recorded = append(s.Recorded, addr.String())
	}
	return s
}

func (m *Manager) start(ctx context.Context) error {
	addr := m.pres.Indices()
	if _, ok := m.registry.Lookup(addr); !ok {
		return fmt.Errorf("%w: %s", ErrNoPlayer, addr)
	}

	stream, err := m.device.Open(ctx)
	if err != nil {
		m.logger.Error("capture device unavailable", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	m.session = &Session{Address: addr, Stream: stream}
	if err := m.capture(ctx, addr); err != nil {
		m.closeSession()
		return err
	}

	m.engaged.Store(true)
	m.setState(StateRecording)
	m.publish(event.StartRecording)
	return nil
}

func (m *Manager) stop(ctx context.Context) error {
	err := m.finalizeSegment(ctx)
	m.closeSession()
	m.publish(event.StopRecording)
	return err
}

func (m *Manager) closeSession() {
	if m.session != nil {
		if err := m.session.Stream.Close(); err != nil {
			m.logger.Warn("closing capture device failed", slog.String("error", err.Error()))
		}
		m.session = nil
	}
	m.engaged.Store(false)
	m.setState(StateOff)
}

// capture starts a fresh segment for addr on the session stream.
func (m *Manager) capture(ctx context.Context, addr unit.Address) error {
	seg, err := m.encoder.Start(ctx, m.session.Stream)
	if err != nil {
		return fmt.Errorf("start segment %s: %w", addr, err)
	}
	m.session.Address = addr
	m.session.Segment = seg
	m.session.Paused = false
	m.logger.Debug("segment started", slog.String("unit", addr.String()))
	return nil
}

// finalizeSegment ends the running segment, stores its payload in the
// archive and attaches it to the unit's player for review.
func (m *Manager) finalizeSegment(ctx context.Context) error {
	s := m.session
	if s == nil || s.Segment == nil {
		return nil
	}
	seg := s.Segment
	s.Segment = nil
	addr := s.Address

	rec, err := seg.Stop(ctx)
	if err != nil {
		return fmt.Errorf("finalize segment %s: %w", addr, err)
	}

	name := addr.Filename(rec.Ext)
	if err := m.archive.Put(name, rec.Data); err != nil {
		return fmt.Errorf("store segment %s: %w", addr, err)
	}
	m.recorded[addr] = true
	m.logger.Info("segment recorded",
		slog.String("unit", addr.String()),
		slog.String("entry", name),
		slog.Int("size", len(rec.Data)),
	)

	path, err := m.temp.SaveTemp(ctx, "recording-"+name, bytes.NewReader(rec.Data))
	if err != nil {
		m.logger.Warn("saving recording for review failed",
			slog.String("unit", addr.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if old, ok := m.takes[addr]; ok {
		if err := m.temp.CleanupTemp(ctx, []string{old}); err != nil {
			m.logger.Warn("removing previous take failed", slog.String("error", err.Error()))
		}
	}
	m.takes[addr] = path
	if entry, ok := m.registry.Lookup(addr); ok {
		a := entry.Audio
		m.runtime.Post(func() {
			a.ReplaceActive(media.Source{URI: path, Kind: media.SourceRecorded}, func(s media.Source) bool {
				return s.Kind == media.SourceRecorded
			})
		})
	}
	return nil
}

func (m *Manager) setState(s State) {
	if m.state != s {
		m.logger.Debug("recording state changed",
			slog.String("from", string(m.state)),
			slog.String("to", string(s)),
		)
	}
	m.state = s
	m.indicator(s)
}

func (m *Manager) publish(t event.Type) {
	if m.events != nil {
		m.events.Publish(event.Event{Type: t})
	}
}
