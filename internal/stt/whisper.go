package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// WhisperRecognizer implements Recognizer against an OpenAI-compatible
// audio transcription endpoint (multipart upload, JSON {"text": ...} reply)
type WhisperRecognizer struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

type whisperResponse struct {
	Text string `json:"text"`
}

// NewWhisperRecognizer creates a recognizer posting to url. A nil client uses http.DefaultClient.
func NewWhisperRecognizer(url, apiKey, model string, client *http.Client) *WhisperRecognizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &WhisperRecognizer{url: url, apiKey: apiKey, model: model, client: client}
}

// Name returns the backend name
func (w *WhisperRecognizer) Name() string {
	return "whisper"
}

// Recognize uploads one segment file and returns the recognized text
func (w *WhisperRecognizer) Recognize(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", w.model); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, &body)
	if err != nil {
		return "", err
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("whisper http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	text := strings.TrimSpace(wr.Text)
	if text == "" {
		return "", ErrNoSpeech
	}
	return text, nil
}
