package volume

import (
	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// orient rotates a volume-local vector into patient space.
func (v *Volume) orient(p r3.Vec) r3.Vec {
	q := v.orientation.Mul3x1(mgl64.Vec3{p.X, p.Y, p.Z})
	return r3.Vec{X: q[0], Y: q[1], Z: q[2]}
}

// WorldTransform returns the affine map from volume-local millimetres
// (voxel index times spacing) to patient space.
func (v *Volume) WorldTransform() mgl64.Mat4 {
	m := mgl64.Ident4()
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			m.Set(row, col, v.orientation.At(row, col))
		}
	}
	m.Set(0, 3, v.origin.X)
	m.Set(1, 3, v.origin.Y)
	m.Set(2, 3, v.origin.Z)
	return m
}

// VoxelToWorld returns the patient-space position of the voxel centre (x,y,z).
func (v *Volume) VoxelToWorld(x, y, z float64) r3.Vec {
	local := r3.Vec{X: x * v.spacing.X, Y: y * v.spacing.Y, Z: z * v.spacing.Z}
	return r3.Add(v.origin, v.orient(local))
}

// OrientationFromCosines builds the axis matrix from DICOM-style row and
// column direction cosines. The slice normal completes a right-handed frame.
// All-zero cosines yield the identity.
func OrientationFromCosines(c [6]float64) mgl64.Mat3 {
	row := mgl64.Vec3{c[0], c[1], c[2]}
	col := mgl64.Vec3{c[3], c[4], c[5]}
	if row.Len() == 0 || col.Len() == 0 {
		return mgl64.Ident3()
	}
	row = row.Normalize()
	col = col.Normalize()
	normal := row.Cross(col)
	if normal.Len() == 0 {
		return mgl64.Ident3()
	}
	return mgl64.Mat3FromCols(row, col, normal.Normalize())
}
