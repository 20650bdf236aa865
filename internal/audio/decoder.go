package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lexiqai/media-transcriber/internal/media"
)

const (
	// Recognizer input format
	TargetSampleRate = 16000
	TargetChannels   = 1

	defaultFFmpegPath = "ffmpeg"
)

// ErrInvalidWAV is returned when decoded output is not a readable PCM WAV file
var ErrInvalidWAV = errors.New("not a valid PCM wav file")

// DecodeError reports an unreadable or corrupt media track
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return "decode " + e.Path + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns any media file into a mono 16-bit PCM WAV file at dst
type Decoder interface {
	Decode(ctx context.Context, src, dst string) error
}

// FFmpegDecoder decodes media with an ffmpeg subprocess
type FFmpegDecoder struct {
	Path    string
	Timeout time.Duration
	Runner  media.CommandRunner
}

// NewFFmpegDecoder creates a decoder using the ffmpeg binary at path
func NewFFmpegDecoder(path string, timeout time.Duration) *FFmpegDecoder {
	if path == "" {
		path = defaultFFmpegPath
	}
	return &FFmpegDecoder{Path: path, Timeout: timeout, Runner: media.ExecRunner{}}
}

// Decode extracts the audio track of src as mono 16 kHz pcm_s16le into dst.
// Video streams are dropped; nothing else is re-encoded.
func (d *FFmpegDecoder) Decode(ctx context.Context, src, dst string) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", src,
		"-vn",
		"-ac", fmt.Sprint(TargetChannels),
		"-ar", fmt.Sprint(TargetSampleRate),
		"-c:a", "pcm_s16le",
		dst,
	}
	if _, err := d.Runner.Run(ctx, d.Path, args...); err != nil {
		os.Remove(dst)
		var ce *media.CommandError
		if errors.As(err, &ce) && strings.TrimSpace(ce.Stderr) != "" {
			return &DecodeError{Path: src, Err: fmt.Errorf("%w: %s", err, strings.TrimSpace(ce.Stderr))}
		}
		return &DecodeError{Path: src, Err: err}
	}
	return nil
}
