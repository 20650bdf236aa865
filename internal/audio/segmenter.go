package audio

import (
	"context"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/lexiqai/media-transcriber/internal/media"
	"github.com/lexiqai/media-transcriber/internal/storage"
	"github.com/rs/zerolog"
)

const readChunk = 16384 // samples per PCMBuffer read

// Segment is one recognizer-sized piece of a media item's audio.
// Index is 1-based and follows the order of the audio.
type Segment struct {
	Item  media.MediaItem
	Path  string
	Index int
}

// Segmenter splits media items into speech segments at silence gaps
type Segmenter struct {
	Decoder       Decoder
	Workspace     *storage.Workspace
	MaxDurationMs int
	Silence       SilenceConfig
	Logger        zerolog.Logger
}

// NewSegmenter creates a segmenter writing into ws
func NewSegmenter(dec Decoder, ws *storage.Workspace, maxDurationMs int, silence SilenceConfig, logger zerolog.Logger) *Segmenter {
	return &Segmenter{
		Decoder:       dec,
		Workspace:     ws,
		MaxDurationMs: maxDurationMs,
		Silence:       silence,
		Logger:        logger.With().Str("component", "segmenter").Logger(),
	}
}

// wavInfo describes a decoded track
type wavInfo struct {
	sampleRate int
	channels   int
	bitDepth   int
	frames     int
	profile    *energyProfile
}

func (w wavInfo) durationMs() int {
	if w.sampleRate == 0 {
		return 0
	}
	return int(int64(w.frames) * 1000 / int64(w.sampleRate))
}

// Segment decodes the item's audio once and returns its speech segments in
// order. A track no longer than MaxDurationMs comes back as one segment
// wrapping the decoded track. A silent or empty track yields no segments
// and no error. The decoded track is removed once it has been split.
func (s *Segmenter) Segment(ctx context.Context, item media.MediaItem) ([]Segment, error) {
	log := s.Logger.With().Str("item", item.Title).Logger()

	wavPath := s.Workspace.WavPath(item.Title)
	if err := s.Decoder.Decode(ctx, item.LocalPath, wavPath); err != nil {
		return nil, err
	}

	info, err := scanWAV(wavPath)
	if err != nil {
		s.Workspace.Remove(wavPath)
		return nil, &DecodeError{Path: item.LocalPath, Err: err}
	}

	total := info.durationMs()
	if info.frames == 0 {
		s.Workspace.Remove(wavPath)
		log.Warn().Msg("Decoded track is empty")
		return nil, nil
	}

	if total <= s.MaxDurationMs {
		log.Debug().Int("duration_ms", total).Msg("Track within segment budget, not splitting")
		return []Segment{{Item: item, Path: wavPath, Index: 1}}, nil
	}

	ranges := speechRanges(info.profile.totalMs, detectSilence(info.profile, info.bitDepth, s.Silence))
	if len(ranges) == 0 {
		s.Workspace.Remove(wavPath)
		log.Warn().Int("duration_ms", total).Msg("Track is silent throughout")
		return nil, nil
	}

	for i, r := range ranges {
		if r.Len() > s.MaxDurationMs {
			log.Warn().
				Int("segment", i+1).
				Int("duration_ms", r.Len()).
				Msg("Speech run exceeds segment budget, passing it through unsplit")
		}
	}

	paths := make([]string, len(ranges))
	for i := range ranges {
		paths[i] = s.Workspace.PartPath(item.Title, i+1)
	}

	if err := writeRanges(wavPath, info, ranges, paths); err != nil {
		for _, p := range paths {
			s.Workspace.Remove(p)
		}
		s.Workspace.Remove(wavPath)
		return nil, &DecodeError{Path: item.LocalPath, Err: err}
	}
	s.Workspace.Remove(wavPath)

	segments := make([]Segment, len(ranges))
	for i, p := range paths {
		segments[i] = Segment{Item: item, Path: p, Index: i + 1}
	}

	log.Info().
		Int("duration_ms", total).
		Int("segments", len(segments)).
		Msg("Track segmented")

	return segments, nil
}

// scanWAV reads a PCM WAV file once, collecting its format and a
// per-millisecond energy profile.
func scanWAV(path string) (wavInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return wavInfo{}, err
	}
	defer f.Close()

	// IsValidFile rejects a zero-length data chunk, which is a valid empty track here.
	d := wav.NewDecoder(f)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return wavInfo{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	info := wavInfo{
		sampleRate: int(d.SampleRate),
		channels:   int(d.NumChans),
		bitDepth:   int(d.BitDepth),
	}
	if info.sampleRate == 0 || info.channels == 0 || info.bitDepth == 0 {
		return wavInfo{}, ErrInvalidWAV
	}

	acc := newEnergyAccumulator(info.sampleRate, info.channels)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: info.channels, SampleRate: info.sampleRate},
		Data:   make([]int, readChunk),
	}
	for {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return wavInfo{}, fmt.Errorf("read pcm: %w", err)
		}
		if n == 0 {
			break
		}
		acc.add(buf.Data[:n])
	}

	info.frames = acc.frames()
	info.profile = acc.profile()
	return info, nil
}

// writeRanges copies each millisecond range of the track at src into its
// own WAV file, reading the source sequentially once.
func writeRanges(src string, info wavInfo, ranges []Range, paths []string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}

	toFrame := func(ms int) int {
		return int(int64(ms) * int64(info.sampleRate) / 1000)
	}

	format := &audio.Format{NumChannels: info.channels, SampleRate: info.sampleRate}
	w := &rangeWriter{format: format, bitDepth: info.bitDepth}
	defer w.close()

	buf := &audio.IntBuffer{Format: format, Data: make([]int, readChunk)}
	frame, pending := 0, 0
	r := 0
	for r < len(ranges) {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}
		if n == 0 {
			break
		}

		for _, sample := range buf.Data[:n] {
			for r < len(ranges) && frame >= toFrame(ranges[r].End) {
				if err := w.close(); err != nil {
					return err
				}
				r++
			}
			if r == len(ranges) {
				break
			}
			if frame >= toFrame(ranges[r].Start) {
				if err := w.open(paths[r]); err != nil {
					return err
				}
				w.add(sample)
			}
			pending++
			if pending == info.channels {
				pending = 0
				frame++
			}
		}
		if err := w.flush(); err != nil {
			return err
		}
	}
	return w.close()
}

// rangeWriter owns at most one open segment file at a time
type rangeWriter struct {
	format   *audio.Format
	bitDepth int
	path     string
	file     *os.File
	enc      *wav.Encoder
	pending  []int
}

func (w *rangeWriter) open(path string) error {
	if w.path == path {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}
	w.path = path
	w.file = f
	w.enc = wav.NewEncoder(f, w.format.SampleRate, w.bitDepth, w.format.NumChannels, 1)
	return nil
}

func (w *rangeWriter) add(sample int) {
	w.pending = append(w.pending, sample)
}

func (w *rangeWriter) flush() error {
	if w.enc == nil || len(w.pending) == 0 {
		return nil
	}
	err := w.enc.Write(&audio.IntBuffer{Format: w.format, Data: w.pending, SourceBitDepth: w.bitDepth})
	w.pending = w.pending[:0]
	if err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	return nil
}

func (w *rangeWriter) close() error {
	if w.enc == nil {
		return nil
	}
	err := w.flush()
	if cerr := w.enc.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("finalize segment: %w", cerr)
	}
	if cerr := w.file.Close(); err == nil && cerr != nil {
		err = cerr
	}
	w.enc, w.file, w.path = nil, nil, ""
	return err
}
