// Package gradient estimates the surface normal field of a volume from
// finite differences of its scalar values.
package gradient

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/volume"
)

// MinMagnitude is the gradient length below which the default normal is used
const MinMagnitude = 1e-4

// DefaultNormal is returned where the gradient vanishes
var DefaultNormal = r3.Vec{X: 0, Y: 0, Z: 1}

// Field is a possibly downsampled grid of unit normals. Normals point
// against the gradient, away from increasing density.
type Field struct {
	dims    [3]int
	full    [3]int
	factor  int
	normals []float32
}

// Estimate computes the normal field of vol, sampling every factor-th voxel
// along each axis. A factor below 1 is treated as 1. Planes are processed in
// parallel; the call returns ctx.Err() if the context ends first.
func Estimate(ctx context.Context, vol *volume.Volume, factor int) (*Field, error) {
	if factor < 1 {
		factor = 1
	}
	full := vol.Dims()
	f := &Field{full: full, factor: factor}
	for i := 0; i < 3; i++ {
		f.dims[i] = (full[i] + factor - 1) / factor
	}
	f.normals = make([]float32, 3*f.dims[0]*f.dims[1]*f.dims[2])
	if len(f.normals) == 0 {
		return f, nil
	}

	spacing := vol.Spacing()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for fz := 0; fz < f.dims[2]; fz++ {
		fz := fz
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			z := fz * factor
			for fy := 0; fy < f.dims[1]; fy++ {
				y := fy * factor
				for fx := 0; fx < f.dims[0]; fx++ {
					x := fx * factor
					grad := r3.Vec{
						X: derivative(full[0], x, spacing.X, func(i int) float64 { return vol.ScalarAt(i, y, z) }),
						Y: derivative(full[1], y, spacing.Y, func(i int) float64 { return vol.ScalarAt(x, i, z) }),
						Z: derivative(full[2], z, spacing.Z, func(i int) float64 { return vol.ScalarAt(x, y, i) }),
					}
					f.set(fx, fy, fz, normalFromGradient(grad))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("gradient estimation interrupted: %w", err)
	}
	return f, nil
}

// derivative returns the finite difference along one axis of length n at
// coordinate c. Inside the grid the stencil is centred; at the border it
// covers the two nearest in-range voxels on the inner side.
func derivative(n, c int, spacing float64, at func(int) float64) float64 {
	lo, hi := c-1, c+1
	if lo < 0 {
		lo = 0
		hi = c + 2
	}
	if hi > n-1 {
		hi = n - 1
		lo = hi - 2
		if lo < 0 {
			lo = 0
		}
	}
	width := hi - lo
	if width <= 0 {
		return 0
	}
	return (at(hi) - at(lo)) / (float64(width) * spacing)
}

func normalFromGradient(g r3.Vec) r3.Vec {
	mag := r3.Norm(g)
	if mag < MinMagnitude || math.IsNaN(mag) {
		return DefaultNormal
	}
	return r3.Scale(-1/mag, g)
}

func (f *Field) set(x, y, z int, n r3.Vec) {
	i := 3 * ((z*f.dims[1]+y)*f.dims[0] + x)
	f.normals[i] = float32(n.X)
	f.normals[i+1] = float32(n.Y)
	f.normals[i+2] = float32(n.Z)
}

// Normal returns the unit normal for the full-resolution voxel (x,y,z).
// Coordinates are mapped onto the field by floor division and clamped.
func (f *Field) Normal(x, y, z int) r3.Vec {
	if len(f.normals) == 0 {
		return DefaultNormal
	}
	fx := clamp(floorDiv(x, f.factor), f.dims[0])
	fy := clamp(floorDiv(y, f.factor), f.dims[1])
	fz := clamp(floorDiv(z, f.factor), f.dims[2])
	i := 3 * ((fz*f.dims[1]+fy)*f.dims[0] + fx)
	return r3.Vec{X: float64(f.normals[i]), Y: float64(f.normals[i+1]), Z: float64(f.normals[i+2])}
}

// Dims returns the size of the sampled grid
func (f *Field) Dims() [3]int { return f.dims }

// Factor returns the downsampling factor
func (f *Field) Factor() int { return f.factor }

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
