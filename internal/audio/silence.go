package audio

// SilenceConfig holds the silence detection thresholds
type SilenceConfig struct {
	ThresholdDB  float64 // window RMS at or below this level (dBFS) is silent
	MinSilenceMs int     // shortest silent run that counts as a split point
}

// DefaultSilenceConfig returns the default silence detection configuration
func DefaultSilenceConfig() SilenceConfig {
	return SilenceConfig{
		ThresholdDB:  -50,
		MinSilenceMs: 80,
	}
}

// Range is a half-open millisecond interval [Start, End)
type Range struct {
	Start int
	End   int
}

// Len returns the range length in milliseconds
func (r Range) Len() int {
	return r.End - r.Start
}

// detectSilence slides a MinSilenceMs window over the track in 1 ms steps.
// Every window whose RMS is at or below the threshold is silent; silent
// windows that overlap or touch are merged into one range.
func detectSilence(p *energyProfile, bitDepth int, cfg SilenceConfig) []Range {
	if cfg.MinSilenceMs <= 0 || p.totalMs < cfg.MinSilenceMs {
		return nil
	}
	threshold := DBFSToAmplitude(cfg.ThresholdDB, bitDepth)

	var ranges []Range
	open := false
	var cur Range
	for start := 0; start+cfg.MinSilenceMs <= p.totalMs; start++ {
		end := start + cfg.MinSilenceMs
		if p.rms(start, end) > threshold {
			continue
		}
		if open && start <= cur.End {
			cur.End = end
			continue
		}
		if open {
			ranges = append(ranges, cur)
		}
		cur = Range{Start: start, End: end}
		open = true
	}
	if open {
		ranges = append(ranges, cur)
	}
	return ranges
}

// speechRanges returns the gaps between silent ranges. Empty gaps are dropped,
// so a track that is silent throughout yields no ranges and a track with no
// silence yields the whole track.
func speechRanges(totalMs int, silences []Range) []Range {
	var out []Range
	prev := 0
	for _, s := range silences {
		if s.Start > prev {
			out = append(out, Range{Start: prev, End: s.Start})
		}
		prev = s.End
	}
	if prev < totalMs {
		out = append(out, Range{Start: prev, End: totalMs})
	}
	return out
}
