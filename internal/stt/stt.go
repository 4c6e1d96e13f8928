package stt

import (
	"context"
	"errors"
	"fmt"
)

// Transcriber turns one recorded audio chunk into text.
type Transcriber interface {
	// Transcribe returns the transcript of audio. It fails with a
	// *TranscriptionError when the provider errors or hears nothing.
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// TranscriptionError reports a failed or empty transcription. It is fatal to
// the current detection cycle only.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// ErrEmptyTranscript is wrapped in a TranscriptionError when the provider
// returns no text.
var ErrEmptyTranscript = errors.New("empty transcript")
