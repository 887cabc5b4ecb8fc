// Package stt defines how a recognition session reports transcripts.
package stt

import "sauc-asr-client/internal/models"

// Transcript is one recognition update from the server.
type Transcript struct {
	ConnectID       string
	UserID          string
	Text            string
	Sequence        uint32
	Utterances      []models.Utterance
	AudioDurationMs int64
}

// Callback receives transcript results from a recognition session.
type Callback interface {
	// OnPartial is called for each non-empty transcript that is not yet definite.
	OnPartial(t Transcript)

	// OnFinal is called once, when the first utterance is reported definite.
	OnFinal(t Transcript)

	// OnError is called when the server reports an error.
	OnError(err error)
}

// NopCallback ignores all notifications.
type NopCallback struct{}

func (NopCallback) OnPartial(Transcript) {}
func (NopCallback) OnFinal(Transcript)   {}
func (NopCallback) OnError(error)        {}
