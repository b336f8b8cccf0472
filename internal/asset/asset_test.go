package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/slidecast/internal/loop"
	"github.com/maauso/slidecast/internal/media"
	"github.com/maauso/slidecast/internal/unit"
)

func TestNew(t *testing.T) {
	a := New(media.Env{Runtime: loop.New(nil)}, unit.Fragment(1, 2, 0), KindReal)
	assert.Equal(t, "audioplayer-1.2.0", a.ID())
	assert.True(t, a.Hidden())
	assert.True(t, a.Paused())
}

func TestAudio_SourceQueries(t *testing.T) {
	a := New(media.Env{Runtime: loop.New(nil)}, unit.Slide(0, 0), KindSilent)
	_, ok := a.RealSource()
	assert.False(t, ok)

	a.AddSource(media.Source{URI: "s4", Kind: media.SourceSilent, Duration: 4})
	a.AddSource(media.Source{URI: "rec", Kind: media.SourceRecorded})

	narrated, ok := a.RealSource()
	require.True(t, ok)
	assert.Equal(t, "rec", narrated.URI)

	s, ok := a.SilentSource(4)
	require.True(t, ok)
	assert.Equal(t, "s4", s.URI)
	_, ok = a.SilentSource(5)
	assert.False(t, ok)
}

func TestAudio_ReplaceActive(t *testing.T) {
	a := New(media.Env{Runtime: loop.New(nil)}, unit.Slide(0, 0), KindSilent)
	a.AddSource(media.Source{URI: "s4", Kind: media.SourceSilent, Duration: 4})
	a.Activate("s4")

	a.ReplaceActive(media.Source{URI: "s6", Kind: media.SourceSilent, Duration: 6}, func(s media.Source) bool {
		return s.IsSilent()
	})

	src, ok := a.ActiveSource()
	require.True(t, ok)
	assert.Equal(t, "s6", src.URI)
	assert.Len(t, a.Sources(), 1)
	assert.Equal(t, 6.0, a.Duration())
}
