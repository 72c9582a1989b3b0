package volume

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Derive returns a new volume with the same layout whose raw samples are
// produced by fn. The receiver is left untouched. Results outside the
// storage range are clamped.
func (v *Volume) Derive(fn func(x, y, z, raw int) int) *Volume {
	out := newVolume(v.Layout())
	out.data = make([]byte, len(v.data))
	nx, ny := v.dims[0], v.dims[1]
	for z := 0; z < v.dims[2]; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				i := v.index(x, y, z)
				out.putRaw(i, fn(x, y, z, v.rawAtIndex(i)))
			}
		}
	}
	return out
}

// ThresholdFilter keeps the voxels whose physical value lies in [lo, hi] and
// replaces all others with the smallest stored sample of the volume.
func ThresholdFilter(v *Volume, lo, hi float64) *Volume {
	if v.IsEmpty() {
		return v
	}
	background, _ := v.RawRange()
	return v.Derive(func(_, _, _ int, raw int) int {
		value := v.transform.Apply(float64(raw))
		if value < lo || value > hi {
			return background
		}
		return raw
	})
}

// Crop copies the voxels in the half-open box [min, max) into a new volume.
// The box is clamped to the grid; an empty intersection yields an empty
// volume. The origin moves so that the cropped voxels keep their
// patient-space position.
func Crop(v *Volume, min, max [3]int) *Volume {
	var dims [3]int
	for i := 0; i < 3; i++ {
		if min[i] < 0 {
			min[i] = 0
		}
		if max[i] > v.dims[i] {
			max[i] = v.dims[i]
		}
		dims[i] = max[i] - min[i]
		if dims[i] <= 0 {
			return Empty(v.spacing)
		}
	}

	layout := v.Layout()
	layout.Dims = dims
	shift := r3.Vec{
		X: float64(min[0]) * v.spacing.X,
		Y: float64(min[1]) * v.spacing.Y,
		Z: float64(min[2]) * v.spacing.Z,
	}
	layout.Origin = r3.Add(v.origin, v.orient(shift))

	out := newVolume(layout)
	bpv := v.bytesPerVoxel()
	out.data = make([]byte, out.Len()*bpv)
	row := dims[0] * bpv
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			src := v.index(min[0], min[1]+y, min[2]+z) * bpv
			dst := out.index(0, y, z) * bpv
			copy(out.data[dst:dst+row], v.data[src:src+row])
		}
	}
	return out
}
