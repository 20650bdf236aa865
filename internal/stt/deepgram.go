package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

var deepgramInit sync.Once

// prerecordedAPI is the part of the Deepgram REST API the recognizer uses
type prerecordedAPI interface {
	FromFile(ctx context.Context, file string, req *interfaces.PreRecordedTranscriptionOptions) (*msginterfaces.PreRecordedResponse, error)
}

// DeepgramRecognizer implements Recognizer using Deepgram's prerecorded API
type DeepgramRecognizer struct {
	api      prerecordedAPI
	model    string
	language string
}

// NewDeepgramRecognizer creates a Deepgram prerecorded client
func NewDeepgramRecognizer(apiKey, model, language string) *DeepgramRecognizer {
	deepgramInit.Do(listenClient.InitWithDefault)

	// Empty ClientOptions uses the default Deepgram host
	c := listenClient.NewREST(apiKey, &interfaces.ClientOptions{})

	return &DeepgramRecognizer{
		api:      api.New(c),
		model:    model,
		language: language,
	}
}

// Name returns the backend name
func (d *DeepgramRecognizer) Name() string {
	return "deepgram"
}

// Recognize uploads one segment file and returns the best transcript
func (d *DeepgramRecognizer) Recognize(ctx context.Context, path string) (string, error) {
	// Punctuation and casing are restored later by the enhancer
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:    d.model,
		Language: d.language,
	}

	res, err := d.api.FromFile(ctx, path, options)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription failed: %w", err)
	}

	text := bestTranscript(res)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}

// bestTranscript returns the first alternative of every channel, joined
func bestTranscript(res *msginterfaces.PreRecordedResponse) string {
	if res == nil || res.Results == nil {
		return ""
	}

	var parts []string
	for _, ch := range res.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(ch.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
