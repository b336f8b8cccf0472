// Package asset defines the audio asset backing a navigable unit.
package asset

import (
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/unit"
)

// Kind classifies where an asset's narration comes from.
type Kind string

const (
	// KindReal is authored audio: explicit, listed or found by convention.
	KindReal Kind = "real"
	// KindSilent is synthesized silence.
	KindSilent Kind = "silent"
	// KindTTS is speech fetched from a text-to-speech endpoint.
	KindTTS Kind = "tts"
)

// Audio is the player for one unit. Its element holds the candidate
// sources and the explicitly active one.
type Audio struct {
	*media.Element

	Address unit.Address
	Kind    Kind

	// Advance is the raw advance override of the unit or fragment itself.
	Advance string
	// UnitAdvance is the raw advance override of the enclosing slide; it is
	// only consulted for fragment assets.
	UnitAdvance string
}

// New creates an audio asset for addr with an element from env.
func New(env media.Env, addr unit.Address, kind Kind) *Audio {
	return &Audio{
		Element: env.NewElement(addr.PlayerID()),
		Address: addr,
		Kind:    kind,
	}
}

// RealSource returns the first non-silent source, if any.
func (a *Audio) RealSource() (media.Source, bool) {
	for _, s := range a.Sources() {
		if !s.IsSilent() {
			return s, true
		}
	}
	return media.Source{}, false
}

// SilentSource returns the silent source lasting seconds, if any.
func (a *Audio) SilentSource(seconds int) (media.Source, bool) {
	for _, s := range a.Sources() {
		if s.IsSilent() && s.Duration == seconds {
			return s, true
		}
	}
	return media.Source{}, false
}

// ReplaceActive adds src, makes it active and removes the sources matched by
// stale. The old active source's cleanup is part of the replacement.
func (a *Audio) ReplaceActive(src media.Source, stale func(media.Source) bool) {
	for _, s := range a.Sources() {
		if s.URI != src.URI && stale != nil && stale(s) {
			a.RemoveSource(s.URI)
		}
	}
	a.AddSource(src)
	a.Activate(src.URI)
}
