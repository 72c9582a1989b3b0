// Package phantom generates synthetic volumes with known surfaces. They are
// used to exercise the pipeline without acquisition data.
package phantom

import (
	"encoding/binary"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/volume"
)

// Option adjusts the layout of a generated volume
type Option func(*volume.Layout)

// WithSpacing sets the voxel spacing in mm
func WithSpacing(spacing r3.Vec) Option {
	return func(l *volume.Layout) {
		l.Spacing = spacing
	}
}

// WithOrigin sets the patient-space origin
func WithOrigin(origin r3.Vec) Option {
	return func(l *volume.Layout) {
		l.Origin = origin
	}
}

// WithModality sets the modality and its value transform
func WithModality(m volume.Modality, t volume.ValueTransform) Option {
	return func(l *volume.Layout) {
		l.Modality = m
		l.Transform = t
	}
}

// WithWindow attaches a display window
func WithWindow(center, width float64) Option {
	return func(l *volume.Layout) {
		l.Window = &volume.Window{Center: center, Width: width}
	}
}

// Func builds a signed 16-bit volume whose raw samples are given by fn.
func Func(dims [3]int, fn func(x, y, z int) int, opts ...Option) (*volume.Volume, error) {
	layout := volume.Layout{
		Dims:     dims,
		Spacing:  r3.Vec{X: 1, Y: 1, Z: 1},
		Bits:     16,
		Signed:   true,
		Modality: volume.MRI,
	}
	for _, opt := range opts {
		opt(&layout)
	}
	for i, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("phantom: %w: axis %d is %d", volume.ErrInvalidDimensions, i, d)
		}
	}

	data := make([]byte, 2*dims[0]*dims[1]*dims[2])
	i := 0
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				binary.LittleEndian.PutUint16(data[i:], uint16(clamp16(fn(x, y, z))))
				i += 2
			}
		}
	}
	return volume.New(layout, data)
}

// Sphere fills voxels closer than radius to center (in voxel units) with
// inside and everything else with outside.
func Sphere(dims [3]int, center r3.Vec, radius float64, inside, outside int, opts ...Option) (*volume.Volume, error) {
	r2 := radius * radius
	return Func(dims, func(x, y, z int) int {
		d := r3.Sub(r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}, center)
		if r3.Dot(d, d) < r2 {
			return inside
		}
		return outside
	}, opts...)
}

// Box fills the half-open voxel box [min, max) with inside.
func Box(dims, min, max [3]int, inside, outside int, opts ...Option) (*volume.Volume, error) {
	return Func(dims, func(x, y, z int) int {
		if x >= min[0] && x < max[0] && y >= min[1] && y < max[1] && z >= min[2] && z < max[2] {
			return inside
		}
		return outside
	}, opts...)
}

// Shell fills the voxels whose distance to center lies in [rInner, rOuter).
func Shell(dims [3]int, center r3.Vec, rInner, rOuter float64, inside, outside int, opts ...Option) (*volume.Volume, error) {
	return Func(dims, func(x, y, z int) int {
		d := r3.Norm(r3.Sub(r3.Vec{X: float64(x), Y: float64(y), Z: float64(z)}, center))
		if d >= rInner && d < rOuter {
			return inside
		}
		return outside
	}, opts...)
}

// Center returns the geometric centre of a grid in voxel units.
func Center(dims [3]int) r3.Vec {
	return r3.Vec{
		X: float64(dims[0]-1) / 2,
		Y: float64(dims[1]-1) / 2,
		Z: float64(dims[2]-1) / 2,
	}
}

func clamp16(v int) int {
	if v < -32768 {
		return -32768
	}
	if v > 32767 {
		return 32767
	}
	return v
}
