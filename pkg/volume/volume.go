// Package volume holds the immutable scalar voxel grid reconstructed from a
// slice stack, and the single point of truth for the physical value of a
// voxel.
package volume

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrInvalidDimensions is returned when a dimension is not positive
	ErrInvalidDimensions = errors.New("volume dimensions must be positive")

	// ErrInvalidSpacing is returned when a voxel spacing is not positive
	ErrInvalidSpacing = errors.New("voxel spacing must be positive")

	// ErrUnsupportedBits is returned for sample sizes other than 8 or 16 bits
	ErrUnsupportedBits = errors.New("bits per voxel must be 8 or 16")
)

// Layout describes the geometry and encoding of a volume.
type Layout struct {
	// Dims is the number of voxels along x, y and z
	Dims [3]int

	// Spacing is the physical size of a voxel in mm along each axis
	Spacing r3.Vec

	// Origin is the patient-space position of voxel (0,0,0)
	Origin r3.Vec

	// Orientation holds the patient-space directions of the x, y and z axes
	// as columns. The zero matrix means identity.
	Orientation mgl64.Mat3

	// Bits is the storage size of one sample, 8 or 16
	Bits int

	// Signed is set when 16-bit samples are two's complement
	Signed bool

	// Modality selects the default value transform
	Modality Modality

	// Transform converts raw samples to physical values. Nil selects the
	// modality default.
	Transform ValueTransform

	// Window is the acquisition display window, nil when unknown
	Window *Window
}

// Volume is an immutable scalar grid stored row-major with z slowest.
type Volume struct {
	dims        [3]int
	spacing     r3.Vec
	origin      r3.Vec
	orientation mgl64.Mat3
	bits        int
	signed      bool
	modality    Modality
	transform   ValueTransform
	window      *Window
	data        []byte
}

// New creates a volume from a layout and raw little-endian samples. The data
// is copied; a short buffer is zero-padded and a long one truncated.
func New(layout Layout, data []byte) (*Volume, error) {
	for i, d := range layout.Dims {
		if d <= 0 {
			return nil, fmt.Errorf("%w: axis %d is %d", ErrInvalidDimensions, i, d)
		}
	}
	if layout.Spacing.X <= 0 || layout.Spacing.Y <= 0 || layout.Spacing.Z <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpacing, layout.Spacing)
	}
	if layout.Bits != 8 && layout.Bits != 16 {
		return nil, fmt.Errorf("%w: got %d", ErrUnsupportedBits, layout.Bits)
	}

	v := newVolume(layout)
	v.data = make([]byte, v.Len()*v.bytesPerVoxel())
	copy(v.data, data)
	return v, nil
}

func newVolume(layout Layout) *Volume {
	v := &Volume{
		dims:        layout.Dims,
		spacing:     layout.Spacing,
		origin:      layout.Origin,
		orientation: layout.Orientation,
		bits:        layout.Bits,
		signed:      layout.Signed && layout.Bits == 16,
		modality:    layout.Modality,
		transform:   layout.Transform,
	}
	if v.orientation == (mgl64.Mat3{}) {
		v.orientation = mgl64.Ident3()
	}
	if v.transform == nil {
		v.transform = DefaultTransform(layout.Modality)
	}
	if layout.Window != nil {
		w := *layout.Window
		v.window = &w
	}
	return v
}

// Empty returns a volume without voxels. It is the degenerate result of
// assembling unusable input.
func Empty(spacing r3.Vec) *Volume {
	if spacing.X <= 0 || spacing.Y <= 0 || spacing.Z <= 0 {
		spacing = r3.Vec{X: 1, Y: 1, Z: 1}
	}
	return newVolume(Layout{Spacing: spacing, Bits: 16})
}

// Layout returns the layout the volume was built from.
func (v *Volume) Layout() Layout {
	l := Layout{
		Dims:        v.dims,
		Spacing:     v.spacing,
		Origin:      v.origin,
		Orientation: v.orientation,
		Bits:        v.bits,
		Signed:      v.signed,
		Modality:    v.modality,
		Transform:   v.transform,
	}
	if v.window != nil {
		w := *v.window
		l.Window = &w
	}
	return l
}

// Dims returns the voxel counts along x, y and z.
func (v *Volume) Dims() [3]int { return v.dims }

// Spacing returns the voxel size in millimetres.
func (v *Volume) Spacing() r3.Vec { return v.spacing }

// Origin returns the patient position of the first voxel.
func (v *Volume) Origin() r3.Vec { return v.origin }

// Orientation returns the direction cosines as matrix columns.
func (v *Volume) Orientation() mgl64.Mat3 { return v.orientation }

// Bits returns the stored sample width, 8 or 16.
func (v *Volume) Bits() int { return v.bits }

// Signed reports whether 16-bit samples are two's complement.
func (v *Volume) Signed() bool { return v.signed }

// Modality returns the acquisition modality.
func (v *Volume) Modality() Modality { return v.modality }

// Transform returns the raw to physical value mapping.
func (v *Volume) Transform() ValueTransform { return v.transform }

// ByteLen returns the size of the sample buffer.
func (v *Volume) ByteLen() int { return len(v.data) }

// IsEmpty reports whether the volume has no voxels.
func (v *Volume) IsEmpty() bool { return v.Len() == 0 }

func (v *Volume) bytesPerVoxel() int { return v.bits / 8 }

func (v *Volume) index(x, y, z int) int { return (z*v.dims[1]+y)*v.dims[0] + x }

// Window returns the acquisition display window, if known.
func (v *Volume) Window() (Window, bool) {
	if v.window == nil {
		return Window{}, false
	}
	return *v.window, true
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.dims[0] * v.dims[1] * v.dims[2]
}

// InBounds reports whether (x,y,z) addresses a voxel.
func (v *Volume) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < v.dims[0] && y < v.dims[1] && z < v.dims[2]
}

// RawAt returns the stored sample at (x,y,z), sign-extended for signed
// 16-bit storage. Out-of-bounds coordinates return 0.
func (v *Volume) RawAt(x, y, z int) int {
	if !v.InBounds(x, y, z) {
		return 0
	}
	return v.rawAtIndex(v.index(x, y, z))
}

func (v *Volume) rawAtIndex(i int) int {
	if v.bits == 8 {
		return int(v.data[i])
	}
	u := binary.LittleEndian.Uint16(v.data[2*i:])
	if v.signed {
		return int(int16(u))
	}
	return int(u)
}

// ScalarAt returns the physical value at (x,y,z). Out-of-bounds coordinates
// return 0 so that stencils near the border need no special cases.
func (v *Volume) ScalarAt(x, y, z int) float64 {
	if !v.InBounds(x, y, z) {
		return 0
	}
	return v.transform.Apply(float64(v.rawAtIndex(v.index(x, y, z))))
}

// RawRange returns the smallest and largest stored samples.
func (v *Volume) RawRange() (lo, hi int) {
	n := v.Len()
	if n == 0 {
		return 0, 0
	}
	lo = v.rawAtIndex(0)
	hi = lo
	for i := 1; i < n; i++ {
		r := v.rawAtIndex(i)
		if r < lo {
			lo = r
		}
		if r > hi {
			hi = r
		}
	}
	return lo, hi
}

// clampRaw limits raw to the range the storage can represent
func (v *Volume) clampRaw(raw int) int {
	lo, hi := 0, 255
	if v.bits == 16 {
		if v.signed {
			lo, hi = -32768, 32767
		} else {
			hi = 65535
		}
	}
	if raw < lo {
		return lo
	}
	if raw > hi {
		return hi
	}
	return raw
}

func (v *Volume) putRaw(i, raw int) {
	raw = v.clampRaw(raw)
	if v.bits == 8 {
		v.data[i] = byte(raw)
		return
	}
	binary.LittleEndian.PutUint16(v.data[2*i:], uint16(raw))
}
