package audio

import (
	"math"
)

// CalculateRMS calculates the root mean square (RMS) of integer PCM samples
func CalculateRMS(samples []int) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// MaxAmplitude is the largest magnitude a signed sample of bitDepth bits can hold
func MaxAmplitude(bitDepth int) float64 {
	return math.Pow(2, float64(bitDepth-1))
}

// DBFSToAmplitude converts a level relative to full scale into an RMS amplitude
func DBFSToAmplitude(db float64, bitDepth int) float64 {
	return math.Pow(10, db/20) * MaxAmplitude(bitDepth)
}

// AmplitudeToDBFS converts an RMS amplitude into dBFS. Zero maps to -Inf.
func AmplitudeToDBFS(rms float64, bitDepth int) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/MaxAmplitude(bitDepth))
}

// energyProfile holds per-millisecond sums of squared samples, as a prefix
// sum, so the RMS of any whole-millisecond window is O(1).
type energyProfile struct {
	prefix  []float64 // prefix[i] = sum of squares in ms [0, i)
	counts  []int     // counts[i] = number of samples in ms [0, i)
	totalMs int
}

func (p *energyProfile) rms(startMs, endMs int) float64 {
	n := p.counts[endMs] - p.counts[startMs]
	if n == 0 {
		return 0
	}
	return math.Sqrt((p.prefix[endMs] - p.prefix[startMs]) / float64(n))
}

// energyAccumulator builds an energyProfile from a stream of interleaved samples.
type energyAccumulator struct {
	samplesPerMs float64
	seen         int // frames seen so far
	channels     int
	buf          []float64
	cnt          []int
	pending      int // interleaved samples of the current frame already added
}

func newEnergyAccumulator(sampleRate, channels int) *energyAccumulator {
	if channels < 1 {
		channels = 1
	}
	return &energyAccumulator{
		samplesPerMs: float64(sampleRate) / 1000,
		channels:     channels,
	}
}

func (a *energyAccumulator) add(data []int) {
	for _, s := range data {
		ms := int(float64(a.seen) / a.samplesPerMs)
		for len(a.buf) <= ms {
			a.buf = append(a.buf, 0)
			a.cnt = append(a.cnt, 0)
		}
		v := float64(s)
		a.buf[ms] += v * v
		a.cnt[ms]++

		a.pending++
		if a.pending == a.channels {
			a.pending = 0
			a.seen++
		}
	}
}

// frames returns the number of complete frames (one sample per channel) seen.
func (a *energyAccumulator) frames() int {
	return a.seen
}

// profile closes the accumulator. A trailing partial millisecond is
// dropped, matching millisecond-granular slicing.
func (a *energyAccumulator) profile() *energyProfile {
	totalMs := int(float64(a.seen) / a.samplesPerMs)
	p := &energyProfile{
		prefix:  make([]float64, totalMs+1),
		counts:  make([]int, totalMs+1),
		totalMs: totalMs,
	}
	for i := 0; i < totalMs; i++ {
		p.prefix[i+1] = p.prefix[i] + a.buf[i]
		p.counts[i+1] = p.counts[i] + a.cnt[i]
	}
	return p
}
