// Package models defines the data structures for transcript events.
package models

// Event types published for transcripts.
const (
	EventTypePartial = "asr.transcript.partial"
	EventTypeFinal   = "asr.transcript.final"
)

// TranscriptPartial represents an interim/partial transcript result.
type TranscriptPartial struct {
	EventType  string `json:"eventType"`
	ConnectID  string `json:"connectId"`
	UserID     string `json:"userId"`
	ResourceID string `json:"resourceId"`
	Timestamp  int64  `json:"timestamp"`
	Sequence   uint32 `json:"sequence"`
	Text       string `json:"text"`
}

// TranscriptFinal represents the definite transcript of a session.
type TranscriptFinal struct {
	EventType       string `json:"eventType"`
	ConnectID       string `json:"connectId"`
	UserID          string `json:"userId"`
	ResourceID      string `json:"resourceId"`
	Timestamp       int64  `json:"timestamp"`
	Sequence        uint32 `json:"sequence"`
	Text            string `json:"text"`
	StartTimeMs     int64  `json:"startTimeMs"`
	EndTimeMs       int64  `json:"endTimeMs"`
	AudioDurationMs int64  `json:"audioDurationMs"`
}
