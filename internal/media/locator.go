package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lexiqai/media-transcriber/internal/storage"
)

// LocalGroup names the combined document of a multi-file local batch.
const LocalGroup = "merged"

// ResolveLocal wraps caller-supplied paths. A missing path becomes a
// FetchError for that entry only; ordinals follow list position.
func ResolveLocal(paths []string) *Resolution {
	res := &Resolution{Group: LocalGroup}
	names := newNameSet()
	for i, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			res.Failures = append(res.Failures, &FetchError{Identifier: p, Err: ErrFileNotFound})
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		res.Items = append(res.Items, MediaItem{
			Title:     names.unique(storage.SanitizeName(storage.BaseName(p))),
			LocalPath: abs,
			Ordinal:   i,
		})
	}
	return res
}

// Resolve turns one batch of sources of the same kind into local media
// items. Only a failure that leaves nothing to resolve at all (for example
// an unreadable playlist listing) is returned as an error; per-entry
// failures are collected in the Resolution.
func (f *Fetcher) Resolve(ctx context.Context, kind Kind, identifiers []string, wantVideo bool) (*Resolution, error) {
	switch kind {
	case KindLocal:
		return ResolveLocal(identifiers), nil

	case KindSingle:
		res := &Resolution{}
		names := newNameSet()
		for i, url := range identifiers {
			item, err := f.resolveSingle(ctx, url, names, wantVideo, i)
			if err != nil {
				res.Failures = append(res.Failures, err)
				continue
			}
			res.Items = append(res.Items, item)
		}
		if len(res.Items) > 0 {
			res.Group = res.Items[0].Title
		}
		return res, nil

	case KindPlaylist:
		if len(identifiers) != 1 {
			return nil, fmt.Errorf("playlist input takes exactly one URL, got %d", len(identifiers))
		}
		return f.ResolvePlaylist(ctx, identifiers[0], wantVideo)
	}
	return nil, fmt.Errorf("unsupported source kind %v", kind)
}

// nameSet hands out batch-unique titles so that two items never share
// intermediate file names in the storage root.
type nameSet map[string]int

func newNameSet() nameSet { return make(nameSet) }

func (s nameSet) unique(title string) string {
	if title == "" {
		title = "untitled"
	}
	n := s[title]
	s[title] = n + 1
	if n == 0 {
		return title
	}
	candidate := fmt.Sprintf("%s_%d", title, n+1)
	for s[candidate] > 0 {
		n++
		candidate = fmt.Sprintf("%s_%d", title, n+1)
	}
	s[candidate] = 1
	return candidate
}
