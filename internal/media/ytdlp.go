package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lexiqai/media-transcriber/internal/observability"
	"github.com/lexiqai/media-transcriber/internal/resilience"
	"github.com/lexiqai/media-transcriber/internal/storage"
	"github.com/rs/zerolog"
)

const (
	defaultYtdlpPath    = "yt-dlp"
	defaultYtdlpTimeout = 10 * time.Minute

	audioFormat = "bestaudio/best"
	videoFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
)

// Fetcher resolves remote media with yt-dlp. Every subprocess call is
// bounded by Timeout and retried on transient failures.
type Fetcher struct {
	Path      string
	Timeout   time.Duration
	Retry     *resilience.RetryConfig
	Runner    CommandRunner
	Workspace *storage.Workspace
	Logger    zerolog.Logger
}

// NewFetcher creates a yt-dlp fetcher writing into ws.
func NewFetcher(ws *storage.Workspace, path string, timeout time.Duration, retry *resilience.RetryConfig, logger zerolog.Logger) *Fetcher {
	if path == "" {
		path = defaultYtdlpPath
	}
	if timeout <= 0 {
		timeout = defaultYtdlpTimeout
	}
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	return &Fetcher{
		Path:      path,
		Timeout:   timeout,
		Retry:     retry,
		Runner:    ExecRunner{},
		Workspace: ws,
		Logger:    logger.With().Str("component", "media").Logger(),
	}
}

// Title asks the tool for the media title and sanitizes it.
func (f *Fetcher) Title(ctx context.Context, url string) (string, error) {
	out, err := f.run(ctx, url, "--get-title", "--no-warnings", "--no-playlist", url)
	if err != nil {
		return "", err
	}
	title := storage.SanitizeName(firstLine(string(out)))
	if title == "" {
		return "", &FetchError{Identifier: url, Err: ErrEmptyTitle}
	}
	return title, nil
}

// resolveSingle fetches the title of one remote item and downloads it,
// audio-only unless wantVideo. The title is made unique within names.
func (f *Fetcher) resolveSingle(ctx context.Context, url string, names nameSet, wantVideo bool, ordinal int) (MediaItem, error) {
	title, err := f.Title(ctx, url)
	if err != nil {
		return MediaItem{}, err
	}
	return f.download(ctx, url, names.unique(title), wantVideo, ordinal)
}

// ResolvePlaylist lists a playlist and downloads every entry in listing
// order. A failed entry is recorded in Failures and skipped; its ordinal
// stays reserved so the remaining items keep their playlist positions.
func (f *Fetcher) ResolvePlaylist(ctx context.Context, url string, wantVideo bool) (*Resolution, error) {
	out, err := f.run(ctx, url, "-J", "--flat-playlist", "--no-warnings", url)
	if err != nil {
		return nil, err
	}
	pl, err := parseListing(out)
	if err != nil {
		return nil, &FetchError{Identifier: url, Err: fmt.Errorf("%w: %v", ErrBadListing, err)}
	}

	res := &Resolution{Group: storage.SanitizeName(pl.Title)}
	if res.Group == "" {
		res.Group = "playlist"
	}

	names := newNameSet()
	for i, entry := range pl.Entries {
		log := f.Logger.With().Int("entry", i+1).Str("url", entry.URL).Logger()
		if entry.URL == "" {
			res.Failures = append(res.Failures, &FetchError{Identifier: fmt.Sprintf("%s#%d", url, i+1), Err: ErrBadListing})
			continue
		}

		title := storage.SanitizeName(entry.Title)
		if title == "" {
			if title, err = f.Title(ctx, entry.URL); err != nil {
				log.Warn().Err(err).Msg("Skipping playlist entry")
				res.Failures = append(res.Failures, err)
				continue
			}
		}

		item, err := f.download(ctx, entry.URL, names.unique(title), wantVideo, i)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping playlist entry")
			res.Failures = append(res.Failures, err)
			continue
		}
		res.Items = append(res.Items, item)
	}

	f.Logger.Info().
		Str("playlist", res.Group).
		Int("entries", len(pl.Entries)).
		Int("resolved", len(res.Items)).
		Msg("Playlist resolved")

	return res, nil
}

// download fetches url into the storage root. The tool prints the final
// file path, which differs from <title>.mp4 when a video format falls
// back to a single non-mp4 stream.
func (f *Fetcher) download(ctx context.Context, url, title string, wantVideo bool, ordinal int) (MediaItem, error) {
	args := []string{"--no-warnings", "--no-playlist", "--print", "after_move:filepath", "-o", f.Workspace.MediaTemplate(title)}
	ext := "mp3"
	if wantVideo {
		ext = "mp4"
		args = append(args, "-f", videoFormat, "--merge-output-format", "mp4")
	} else {
		args = append(args, "-x", "--audio-format", "mp3", "-f", audioFormat)
	}
	args = append(args, url)

	out, err := f.run(ctx, url, args...)
	if err != nil {
		return MediaItem{}, err
	}

	path := lastLine(string(out))
	if path == "" {
		path = f.Workspace.MediaPath(title, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return MediaItem{}, &FetchError{Identifier: url, Err: ErrMissingOutput}
	}

	f.Logger.Debug().Str("item", title).Str("path", path).Msg("Media downloaded")
	return MediaItem{Title: title, LocalPath: path, Ordinal: ordinal}, nil
}

// run invokes the tool under the per-call deadline with retries.
func (f *Fetcher) run(ctx context.Context, id string, args ...string) ([]byte, error) {
	var out []byte
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		cmdCtx, cancel := context.WithTimeout(ctx, f.Timeout)
		defer cancel()

		done := observability.ObserveCall("fetch")
		stdout, err := f.Runner.Run(cmdCtx, f.Path, args...)
		done(err == nil)
		if err != nil {
			if cmdCtx.Err() == context.DeadlineExceeded {
				return &FetchError{Identifier: id, Err: ErrFetchTimeout}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fe := &FetchError{Identifier: id, Err: fmt.Errorf("%w: %v", ErrToolFailed, err)}
			var ce *CommandError
			if errors.As(err, &ce) {
				fe.Stderr = ce.Stderr
			}
			return fe
		}
		out = stdout
		return nil
	}, f.Retry, fetchErrorClassifier)

	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, &FetchError{Identifier: id, Err: err}
	}
	return out, nil
}

// fetchErrorClassifier retries timeouts and network-looking tool failures.
// Errors the tool reports about the media itself are permanent.
func fetchErrorClassifier(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	if errors.Is(fe.Err, ErrFetchTimeout) {
		return true
	}
	stderr := strings.ToLower(fe.Stderr)
	for _, permanent := range []string{"unsupported url", "video unavailable", "private video", "does not exist", "not found"} {
		if strings.Contains(stderr, permanent) {
			return false
		}
	}
	return resilience.IsRetryableNetworkError(errors.New(stderr))
}

type listing struct {
	Title   string         `json:"title"`
	Entries []listingEntry `json:"entries"`
}

type listingEntry struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func parseListing(data []byte) (*listing, error) {
	var l listing
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
