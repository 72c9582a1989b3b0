package isovalue

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/phantom"
	"slicesurf/pkg/volume"
)

func TestSampleStride(t *testing.T) {
	v, err := phantom.Func([3]int{64, 64, 64}, func(x, y, z int) int { return (x + y + z) % 50 })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	a := NewAdvisor(nil)

	samples, err := a.Sample(context.Background(), v, 4000)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	// stride 4 on every axis
	if len(samples) != 16*16*16 {
		t.Errorf("Expected %d samples, got %d", 16*16*16, len(samples))
	}
	if !sort.Float64sAreSorted(samples) {
		t.Error("Samples are not sorted")
	}

	all, err := a.Sample(context.Background(), v, 1<<30)
	if err != nil {
		t.Fatalf("Sample failed: %v", err)
	}
	if len(all) != v.Len() {
		t.Errorf("Expected every voxel when oversampling, got %d", len(all))
	}
}

func TestPercentilesMonotonic(t *testing.T) {
	a := NewAdvisor(nil)
	for seed := int64(1); seed <= 5; seed++ {
		rng := rand.New(rand.NewSource(seed))
		v, err := phantom.Func([3]int{20, 20, 20}, func(x, y, z int) int {
			return rng.Intn(4000) - 2000
		})
		if err != nil {
			t.Fatalf("Func failed: %v", err)
		}
		an, err := a.Analyze(context.Background(), v, 1000, true)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		p := an.Percentiles
		if !(p.P5 <= p.P25 && p.P25 <= p.P50 && p.P50 <= p.P75 && p.P75 <= p.P95) {
			t.Errorf("Seed %d: percentiles not monotonic: %+v", seed, p)
		}
		if p.P5 < an.Min || p.P95 > an.Max {
			t.Errorf("Seed %d: percentiles outside [%f, %f]", seed, an.Min, an.Max)
		}
	}
}

func ctVolume(t *testing.T, fn func(x, y, z int) int) *volume.Volume {
	t.Helper()
	v, err := phantom.Func([3]int{24, 24, 24}, func(x, y, z int) int {
		return fn(x, y, z) + 1024
	}, phantom.WithModality(volume.CT, volume.Rescale{Slope: 1, Intercept: -1024}))
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	return v
}

func TestCTBands(t *testing.T) {
	v := ctVolume(t, func(x, y, z int) int {
		switch {
		case x < 6:
			return -1000
		case x < 18:
			return 40
		default:
			return 700
		}
	})
	got, err := NewAdvisor(nil).Suggest(context.Background(), v, 0, false)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	want := []float64{-300, -100, 40, 300}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Suggestion %d: expected %f, got %f", i, want[i], got[i])
		}
	}
}

func TestCTFallsBackToPercentiles(t *testing.T) {
	v := ctVolume(t, func(x, y, z int) int { return 4 * x })
	an, err := NewAdvisor(nil).Analyze(context.Background(), v, 0, false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	p := an.Percentiles
	want := []float64{p.P25, p.P50, p.P75}
	if len(an.Suggestions) != 3 {
		t.Fatalf("Expected 3 percentile suggestions, got %v", an.Suggestions)
	}
	for i := range want {
		if an.Suggestions[i] != want[i] {
			t.Errorf("Suggestion %d: expected %f, got %f", i, want[i], an.Suggestions[i])
		}
	}
}

func TestMRIBackground(t *testing.T) {
	v, err := phantom.Func([3]int{30, 30, 30}, func(x, y, z int) int {
		if x < 9 {
			return (x * y * z) % 10
		}
		return 500 + (7*y+3*z)%100
	})
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	an, err := NewAdvisor(nil).Analyze(context.Background(), v, 0, false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !an.HasBackground {
		t.Fatal("Expected a background threshold")
	}
	if an.Background <= 0 || an.Background >= 30 {
		t.Errorf("Background %f should sit just above the dark cluster", an.Background)
	}
	if an.Background >= an.Percentiles.P50 {
		t.Errorf("Background %f not below the median %f", an.Background, an.Percentiles.P50)
	}
	if an.Suggestions[0] != an.Background {
		t.Errorf("Background should be suggested first, got %v", an.Suggestions)
	}
	if len(an.Suggestions) != 4 {
		t.Errorf("Expected background plus 3 percentiles, got %v", an.Suggestions)
	}
}

func TestMRIWithoutBackground(t *testing.T) {
	v, err := phantom.Func([3]int{20, 20, 20}, func(x, y, z int) int { return x*50 + y })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	an, err := NewAdvisor(nil).Analyze(context.Background(), v, 0, false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if an.HasBackground {
		t.Errorf("Uniform distribution reported a background at %f", an.Background)
	}
	if len(an.Suggestions) != 3 {
		t.Errorf("Expected 3 suggestions, got %v", an.Suggestions)
	}
}

func TestHistogramPeaks(t *testing.T) {
	v, err := phantom.Func([3]int{20, 20, 20}, func(x, y, z int) int {
		if x < 8 {
			return 100
		}
		return 900
	})
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	a := NewAdvisor(nil)

	quick, err := a.Analyze(context.Background(), v, 0, false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(quick.Peaks) != 0 {
		t.Errorf("Quick analysis should not search peaks")
	}

	an, err := a.Analyze(context.Background(), v, 0, true)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(an.Peaks) != 2 {
		t.Fatalf("Expected 2 peaks, got %+v", an.Peaks)
	}
	binWidth := 800.0 / HistogramBins
	if math.Abs(an.Peaks[0].Value-900) > binWidth || an.Peaks[0].Count != 12*400 {
		t.Errorf("Expected the dominant peak near 900, got %+v", an.Peaks[0])
	}
	if math.Abs(an.Peaks[1].Value-100) > binWidth {
		t.Errorf("Expected the second peak near 100, got %+v", an.Peaks[1])
	}
	found := 0
	for _, s := range an.Suggestions {
		for _, p := range an.Peaks {
			if s == p.Value {
				found++
			}
		}
	}
	if found != 2 {
		t.Errorf("Peaks not appended to suggestions: %v", an.Suggestions)
	}
}

func TestEmptyVolume(t *testing.T) {
	an, err := NewAdvisor(nil).Analyze(context.Background(), volume.Empty(r3.Vec{}), 0, true)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if an.Samples != 0 || len(an.Suggestions) != 0 {
		t.Errorf("Expected an empty analysis, got %+v", an)
	}
}

func TestSampleCanceled(t *testing.T) {
	v, err := phantom.Func([3]int{8, 8, 8}, func(x, y, z int) int { return x })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewAdvisor(nil).Sample(ctx, v, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
