// Package mesh defines the indexed triangle mesh produced by surface
// extraction and the operations that preserve its indexing invariants.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrIndexOutOfRange is returned by Validate when a triangle references a
// vertex that does not exist
var ErrIndexOutOfRange = errors.New("triangle index out of range")

// DefaultNormal is used wherever a normal cannot be derived
var DefaultNormal = r3.Vec{X: 0, Y: 0, Z: 1}

// Vertex is a surface point with its unit normal
type Vertex struct {
	Position r3.Vec
	Normal   r3.Vec
}

// Triangle holds three indices into Mesh.Vertices
type Triangle [3]int

// Mesh is an indexed triangle list. Positions are in millimetres.
type Mesh struct {
	Vertices  []Vertex
	Triangles []Triangle
}

// IsEmpty reports whether the mesh has no triangles
func (m *Mesh) IsEmpty() bool {
	return len(m.Triangles) == 0
}

// Validate checks that every triangle index addresses a vertex.
func (m *Mesh) Validate() error {
	n := len(m.Vertices)
	for i, t := range m.Triangles {
		for _, idx := range t {
			if idx < 0 || idx >= n {
				return fmt.Errorf("triangle %d: %w: %d not in [0,%d)", i, ErrIndexOutOfRange, idx, n)
			}
		}
	}
	return nil
}

// Clone returns a deep copy
func (m *Mesh) Clone() Mesh {
	out := Mesh{
		Vertices:  make([]Vertex, len(m.Vertices)),
		Triangles: make([]Triangle, len(m.Triangles)),
	}
	copy(out.Vertices, m.Vertices)
	copy(out.Triangles, m.Triangles)
	return out
}

// Bounds returns the axis-aligned bounding box of the vertices. An empty
// mesh yields two zero vectors.
func (m *Mesh) Bounds() (min, max r3.Vec) {
	if len(m.Vertices) == 0 {
		return r3.Vec{}, r3.Vec{}
	}
	min = m.Vertices[0].Position
	max = min
	for _, v := range m.Vertices[1:] {
		p := v.Position
		min = r3.Vec{X: math.Min(min.X, p.X), Y: math.Min(min.Y, p.Y), Z: math.Min(min.Z, p.Z)}
		max = r3.Vec{X: math.Max(max.X, p.X), Y: math.Max(max.Y, p.Y), Z: math.Max(max.Z, p.Z)}
	}
	return min, max
}

// Centroid returns the mean vertex position
func (m *Mesh) Centroid() r3.Vec {
	if len(m.Vertices) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, v := range m.Vertices {
		sum = r3.Add(sum, v.Position)
	}
	return r3.Scale(1/float64(len(m.Vertices)), sum)
}

// FaceNormal returns the unnormalised normal of triangle t. Its length is
// twice the triangle area.
func (m *Mesh) FaceNormal(t Triangle) r3.Vec {
	a := m.Vertices[t[0]].Position
	b := m.Vertices[t[1]].Position
	c := m.Vertices[t[2]].Position
	return r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
}

// RecomputeNormals replaces every vertex normal with the area-weighted sum
// of the normals of its incident triangles. Vertices without area get
// DefaultNormal.
func (m *Mesh) RecomputeNormals() {
	sums := make([]r3.Vec, len(m.Vertices))
	for _, t := range m.Triangles {
		n := m.FaceNormal(t)
		for _, idx := range t {
			sums[idx] = r3.Add(sums[idx], n)
		}
	}
	for i := range m.Vertices {
		m.Vertices[i].Normal = Normalize(sums[i])
	}
}

// Transform returns a copy with positions mapped through the affine matrix
// and normals through its rotational part.
func (m *Mesh) Transform(mat mgl64.Mat4) Mesh {
	out := m.Clone()
	for i, v := range out.Vertices {
		p := mgl64.TransformCoordinate(mgl64.Vec3{v.Position.X, v.Position.Y, v.Position.Z}, mat)
		n := mgl64.TransformNormal(mgl64.Vec3{v.Normal.X, v.Normal.Y, v.Normal.Z}, mat)
		out.Vertices[i].Position = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
		out.Vertices[i].Normal = Normalize(r3.Vec{X: n[0], Y: n[1], Z: n[2]})
	}
	if mat.Mat3().Det() < 0 {
		for i, t := range out.Triangles {
			out.Triangles[i] = Triangle{t[0], t[2], t[1]}
		}
	}
	return out
}

// Normalize returns the unit vector of v, or DefaultNormal when v is
// too short to have a direction.
func Normalize(v r3.Vec) r3.Vec {
	l := r3.Norm(v)
	if l < 1e-12 || math.IsNaN(l) {
		return DefaultNormal
	}
	return r3.Scale(1/l, v)
}
