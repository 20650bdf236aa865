// Package media resolves caller input into local media files.
package media

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the type of input a MediaSource names.
type Kind int

const (
	KindLocal Kind = iota
	KindSingle
	KindPlaylist
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindSingle:
		return "single"
	case KindPlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// ParseKind maps a user-facing name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "file", "files":
		return KindLocal, nil
	case "single", "url", "video":
		return KindSingle, nil
	case "playlist":
		return KindPlaylist, nil
	}
	return 0, fmt.Errorf("unknown source kind %q", s)
}

// MediaSource is one caller-supplied input.
type MediaSource struct {
	Identifier string
	Kind       Kind
}

// MediaItem is one resolved media unit on local disk.
type MediaItem struct {
	Title     string // sanitized, also the base name of every file derived from this item
	LocalPath string
	Ordinal   int // position within the originating batch or playlist, 0-based
}

// Resolution is the outcome of resolving a batch of sources.
type Resolution struct {
	// Group names the combined document: the playlist title, or a fixed
	// name for local batches.
	Group string
	Items []MediaItem
	// Failures holds one *FetchError per entry that could not be resolved.
	Failures []error
}

// Fetch failure reasons.
var (
	ErrEmptyTitle    = errors.New("fetch tool returned an empty title")
	ErrToolFailed    = errors.New("fetch tool failed")
	ErrBadListing    = errors.New("malformed playlist listing")
	ErrFileNotFound  = errors.New("file not found")
	ErrFetchTimeout  = errors.New("fetch timed out")
	ErrMissingOutput = errors.New("fetch tool produced no media file")
)

// FetchError reports a failure to resolve one identifier.
type FetchError struct {
	Identifier string
	Err        error
	Stderr     string
}

func (e *FetchError) Error() string {
	msg := "fetch " + e.Identifier + ": " + e.Err.Error()
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
