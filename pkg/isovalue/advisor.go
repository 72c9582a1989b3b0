// Package isovalue proposes thresholds for surface extraction from the value
// distribution of a volume.
package isovalue

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"slicesurf/pkg/logging"
	"slicesurf/pkg/volume"
)

const (
	// DefaultSampleCount is the target number of samples drawn from a volume
	DefaultSampleCount = 50000

	// HistogramBins is the resolution of the peak search
	HistogramBins = 64

	// minPeakFraction is the share of samples a histogram peak must hold
	minPeakFraction = 0.005

	// maxPeaks is the number of histogram peaks reported
	maxPeaks = 3

	// backgroundBand is the fraction of the value range above the minimum
	// that counts as dark background
	backgroundBand = 0.05

	// backgroundShare is the sample fraction the dark band must hold before
	// a background threshold is proposed
	backgroundShare = 0.2
)

// Hounsfield thresholds between air and skin, fat and soft tissue, soft
// tissue, and bone
var ctBands = []float64{-300, -100, 40, 300}

// Percentiles of the sampled value distribution
type Percentiles struct {
	P5, P25, P50, P75, P95 float64
}

// Peak is a local maximum of the value histogram
type Peak struct {
	Value float64
	Count int
}

// Analysis is the sampled value distribution of a volume with the
// thresholds derived from it.
type Analysis struct {
	Samples int
	Min     float64
	Max     float64
	Mean    float64

	Percentiles Percentiles

	// Suggestions are candidate isovalues, most useful first
	Suggestions []float64

	// Peaks is only filled by a full analysis
	Peaks []Peak

	// Background is the estimated upper bound of a dark MRI background
	Background    float64
	HasBackground bool
}

// Advisor samples volumes and proposes isovalues.
type Advisor struct {
	Logger logging.Logger

	// Workers bounds the number of planes sampled at once, NumCPU when zero
	Workers int
}

// NewAdvisor creates an Advisor that logs to logger
func NewAdvisor(logger logging.Logger) *Advisor {
	return &Advisor{Logger: logger}
}

// Sample draws about sampleCount physical values from vol on a regular
// stride and returns them sorted. Planes are sampled concurrently into local
// buffers that are merged under a single lock.
func (a *Advisor) Sample(ctx context.Context, vol *volume.Volume, sampleCount int) ([]float64, error) {
	if vol.IsEmpty() {
		return nil, nil
	}
	if sampleCount <= 0 {
		sampleCount = DefaultSampleCount
	}
	stride := int(math.Cbrt(float64(vol.Len()) / float64(sampleCount)))
	if stride < 1 {
		stride = 1
	}

	dims := vol.Dims()
	var (
		mu      sync.Mutex
		samples = make([]float64, 0, vol.Len()/(stride*stride*stride)+1)
	)

	workers := a.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for z := 0; z < dims[2]; z += stride {
		z := z
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			local := make([]float64, 0, (dims[0]/stride+1)*(dims[1]/stride+1))
			for y := 0; y < dims[1]; y += stride {
				for x := 0; x < dims[0]; x += stride {
					local = append(local, vol.ScalarAt(x, y, z))
				}
			}
			mu.Lock()
			samples = append(samples, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("sampling interrupted: %w", err)
	}

	sort.Float64s(samples)
	logging.OrNop(a.Logger).Debugf("sampled %d values with stride %d", len(samples), stride)
	return samples, nil
}

// Analyze samples vol and derives percentiles and suggested isovalues. A full
// analysis also searches the value histogram for peaks.
func (a *Advisor) Analyze(ctx context.Context, vol *volume.Volume, sampleCount int, full bool) (Analysis, error) {
	logger := logging.OrNop(a.Logger)

	samples, err := a.Sample(ctx, vol, sampleCount)
	if err != nil {
		return Analysis{}, err
	}
	if len(samples) == 0 {
		logger.Warningf("no samples available, cannot suggest an isovalue")
		return Analysis{}, nil
	}

	an := Analysis{
		Samples: len(samples),
		Min:     samples[0],
		Max:     samples[len(samples)-1],
		Mean:    stat.Mean(samples, nil),
	}
	an.Percentiles = percentiles(samples)
	p := an.Percentiles
	fallback := []float64{p.P25, p.P50, p.P75}

	if vol.Modality() == volume.CT {
		if an.Min <= -500 && an.Max >= 100 {
			for _, b := range ctBands {
				if b > an.Min && b < an.Max {
					an.Suggestions = append(an.Suggestions, b)
				}
			}
		}
		if len(an.Suggestions) == 0 {
			logger.Debugf("CT range [%.0f, %.0f] HU matches no known pattern, using percentiles", an.Min, an.Max)
			an.Suggestions = fallback
		}
	} else {
		if bg, ok := background(samples, p.P50); ok {
			an.Background = bg
			an.HasBackground = true
			an.Suggestions = append(an.Suggestions, bg)
		}
		an.Suggestions = append(an.Suggestions, fallback...)
	}

	if full {
		an.Peaks = peaks(samples)
		for _, pk := range an.Peaks {
			an.Suggestions = append(an.Suggestions, pk.Value)
		}
	}
	an.Suggestions = dedupe(an.Suggestions)

	logger.Debugf("%s value range [%.1f, %.1f], median %.1f, %d suggestions",
		vol.Modality(), an.Min, an.Max, p.P50, len(an.Suggestions))
	return an, nil
}

// Suggest returns candidate isovalues for vol, most useful first. An empty
// result means the volume had no samples.
func (a *Advisor) Suggest(ctx context.Context, vol *volume.Volume, sampleCount int, full bool) ([]float64, error) {
	an, err := a.Analyze(ctx, vol, sampleCount, full)
	if err != nil {
		return nil, err
	}
	return an.Suggestions, nil
}

// percentiles reads the quantiles of sorted samples
func percentiles(sorted []float64) Percentiles {
	q := func(p float64) float64 {
		return stat.Quantile(p, stat.Empirical, sorted, nil)
	}
	return Percentiles{
		P5:  q(0.05),
		P25: q(0.25),
		P50: q(0.50),
		P75: q(0.75),
		P95: q(0.95),
	}
}

// background detects a dark cluster at the bottom of the value range, as left
// by air around an MRI subject, and returns a threshold just above it. The
// threshold always lies below median.
func background(sorted []float64, median float64) (float64, bool) {
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi <= lo {
		return 0, false
	}
	limit := lo + backgroundBand*(hi-lo)
	n := sort.SearchFloat64s(sorted, limit)
	if float64(n) < backgroundShare*float64(len(sorted)) {
		return 0, false
	}

	cluster := sorted[:n]
	mean, std := cluster[0], 0.0
	if len(cluster) > 1 {
		mean, std = stat.MeanStdDev(cluster, nil)
	}
	bg := mean + 3*std
	if bg >= median {
		bg = (mean + median) / 2
	}
	if bg >= median {
		return 0, false
	}
	return bg, true
}

// peaks returns the most populated local maxima of the sample histogram
func peaks(sorted []float64) []Peak {
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if hi <= lo {
		return nil
	}

	dividers := make([]float64, HistogramBins+1)
	floats.Span(dividers, lo, hi)
	// the last bin must include the maximum
	dividers[HistogramBins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	minCount := minPeakFraction * float64(len(sorted))
	var found []Peak
	for i, c := range counts {
		if c < minCount || c == 0 {
			continue
		}
		if i > 0 && counts[i-1] >= c {
			continue
		}
		if i < len(counts)-1 && counts[i+1] > c {
			continue
		}
		found = append(found, Peak{
			Value: (dividers[i] + dividers[i+1]) / 2,
			Count: int(c),
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Count > found[j].Count
	})
	if len(found) > maxPeaks {
		found = found[:maxPeaks]
	}
	return found
}

// dedupe drops repeated values, keeping the first occurrence
func dedupe(values []float64) []float64 {
	out := values[:0]
	for _, v := range values {
		dup := false
		for _, w := range out {
			if math.Abs(v-w) < 1e-9 {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	return out
}
