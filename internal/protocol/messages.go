package protocol

import "time"

// AudioChunkLine is one request line written to the recognizer subprocess.
type AudioChunkLine struct {
	Samples    []float32 `json:"samples"`
	SampleRate uint32    `json:"sample_rate"`
}

// TranscriptionLine is one response line read from the recognizer subprocess.
type TranscriptionLine struct {
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float32 `json:"confidence"`
}

// UIEventKind distinguishes the two event kinds the UI collaborator receives.
type UIEventKind string

const (
	UIStatus        UIEventKind = "status"
	UITranscription UIEventKind = "transcription"
)

// UIEvent is emitted by the coordinator for the UI collaborator.
type UIEvent struct {
	Kind      UIEventKind `json:"kind"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

// KeyboardToggle is the payload of a keyboard control message on the bus.
type KeyboardToggle struct {
	Enabled bool `json:"enabled"`
}

const (
	SubjectUIStatus        = "dictation.ui.status"
	SubjectUITranscription = "dictation.ui.transcription"
	SubjectControlStart    = "dictation.control.start"
	SubjectControlStop     = "dictation.control.stop"
	SubjectControlKeyboard = "dictation.control.keyboard"
)
