// Package stt runs speech segments through a speech recognizer.
package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned by a recognizer that heard nothing it could transcribe
var ErrNoSpeech = errors.New("no speech recognized")

// Recognizer turns one short mono audio file into text.
// Implementations make exactly one backend call per Recognize.
type Recognizer interface {
	Recognize(ctx context.Context, path string) (string, error)
	Name() string
}

// RecognitionError reports a failed recognition of one segment
type RecognitionError struct {
	Backend string
	Path    string
	Err     error
}

func (e *RecognitionError) Error() string {
	return e.Backend + ": recognize " + e.Path + ": " + e.Err.Error()
}

func (e *RecognitionError) Unwrap() error { return e.Err }
