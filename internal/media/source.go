package media

// SourceKind tells where a source's payload comes from.
type SourceKind string

const (
	// SourceReal is an authored audio or video file.
	SourceReal SourceKind = "real"
	// SourceSilent is synthesized silence of a fixed duration.
	SourceSilent SourceKind = "silent"
	// SourceRecorded is a segment captured by the recorder.
	SourceRecorded SourceKind = "recorded"
	// SourceTTS is speech synthesized by a text-to-speech endpoint.
	SourceTTS SourceKind = "tts"
)

// Source is one candidate resource of an element.
type Source struct {
	URI  string
	Kind SourceKind
	// Duration is the length in whole seconds for silent sources, 0 otherwise.
	Duration int
}

// IsSilent reports whether the source is a synthesized silent fallback.
func (s Source) IsSilent() bool {
	return s.Kind == SourceSilent
}
