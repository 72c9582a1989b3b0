package gradient

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/phantom"
)

func near(a, b r3.Vec, tol float64) bool {
	return r3.Norm(r3.Sub(a, b)) <= tol
}

func TestRampNormals(t *testing.T) {
	v, err := phantom.Func([3]int{6, 5, 4}, func(x, y, z int) int { return 10 * x })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	f, err := Estimate(context.Background(), v, 1)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	want := r3.Vec{X: -1}
	// includes both borders, where the stencil is one-sided
	for _, x := range []int{0, 1, 3, 5} {
		if n := f.Normal(x, 2, 2); !near(n, want, 1e-6) {
			t.Errorf("Normal at x=%d: expected %v, got %v", x, want, n)
		}
	}
}

func TestFlatFallsBack(t *testing.T) {
	v, err := phantom.Func([3]int{4, 4, 4}, func(x, y, z int) int { return 7 })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	f, err := Estimate(context.Background(), v, 1)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}
	if n := f.Normal(1, 2, 3); n != DefaultNormal {
		t.Errorf("Expected default normal, got %v", n)
	}
}

func TestSphereNormalsPointOutward(t *testing.T) {
	dims := [3]int{24, 24, 24}
	c := r3.Vec{X: 12, Y: 12, Z: 12}
	v, err := phantom.Func(dims, func(x, y, z int) int {
		d := r3.Norm(r3.Sub(r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}, c))
		return int(1000 - 50*d)
	})
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	f, err := Estimate(context.Background(), v, 1)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	testCases := [][3]int{{18, 12, 12}, {6, 12, 12}, {12, 20, 12}, {12, 12, 3}, {16, 16, 16}}
	for _, p := range testCases {
		n := f.Normal(p[0], p[1], p[2])
		out := r3.Unit(r3.Sub(r3.Vec{X: float64(p[0]), Y: float64(p[1]), Z: float64(p[2])}, c))
		if r3.Dot(n, out) < 0.9 {
			t.Errorf("Normal at %v should point outward, got %v", p, n)
		}
		if math.Abs(r3.Norm(n)-1) > 1e-5 {
			t.Errorf("Normal at %v is not unit length: %f", p, r3.Norm(n))
		}
	}
}

func TestDownsample(t *testing.T) {
	v, err := phantom.Func([3]int{9, 8, 3}, func(x, y, z int) int { return 5 * y })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}

	testCases := []struct {
		factor int
		dims   [3]int
	}{
		{0, [3]int{9, 8, 3}},
		{1, [3]int{9, 8, 3}},
		{2, [3]int{5, 4, 2}},
		{4, [3]int{3, 2, 1}},
	}
	for _, tc := range testCases {
		f, err := Estimate(context.Background(), v, tc.factor)
		if err != nil {
			t.Fatalf("Estimate(%d) failed: %v", tc.factor, err)
		}
		if f.Dims() != tc.dims {
			t.Errorf("Factor %d: expected dims %v, got %v", tc.factor, tc.dims, f.Dims())
		}
		// coordinates past the end clamp onto the last sample
		for _, p := range [][3]int{{0, 0, 0}, {8, 7, 2}, {100, -5, 50}} {
			if n := f.Normal(p[0], p[1], p[2]); !near(n, r3.Vec{Y: -1}, 1e-6) {
				t.Errorf("Factor %d at %v: expected (0,-1,0), got %v", tc.factor, p, n)
			}
		}
	}
}

func TestDerivative(t *testing.T) {
	values := []float64{0, 1, 4, 9, 16}
	at := func(i int) float64 { return values[i] }

	testCases := []struct {
		name     string
		n, c     int
		spacing  float64
		expected float64
	}{
		{"centred", 5, 2, 1, (9 - 1) / 2.0},
		{"lower border", 5, 0, 1, (4 - 0) / 2.0},
		{"upper border", 5, 4, 1, (16 - 4) / 2.0},
		{"spacing", 5, 2, 0.5, (9 - 1) / 1.0},
		{"two voxels", 2, 1, 1, 1},
		{"single voxel", 1, 0, 1, 0},
	}
	for _, tc := range testCases {
		if got := derivative(tc.n, tc.c, tc.spacing, at); math.Abs(got-tc.expected) > 1e-12 {
			t.Errorf("%s: expected %f, got %f", tc.name, tc.expected, got)
		}
	}
}

func TestEstimateCanceled(t *testing.T) {
	v, err := phantom.Func([3]int{8, 8, 8}, func(x, y, z int) int { return x })
	if err != nil {
		t.Fatalf("Func failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Estimate(ctx, v, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
