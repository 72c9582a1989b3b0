// Package repair cleans up welded meshes: it fixes inverted normals, relaxes
// staircase artifacts, closes small holes and drops small fragments.
package repair

import (
	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/mesh"
)

// orientSamples is the number of vertices inspected by OrientNormals
const orientSamples = 100

// OrientNormals checks whether the normals of m point away from its centroid
// on average. If they do not, every normal is flipped and every triangle
// reversed so that winding and normals stay consistent. The second return
// value reports whether the mesh was flipped.
//
// The test assumes a roughly convex surface around the centroid. Strongly
// concave shapes can be misjudged.
func OrientNormals(m mesh.Mesh) (mesh.Mesh, bool) {
	n := len(m.Vertices)
	if n == 0 {
		return m, false
	}

	stride := n / orientSamples
	if stride < 1 {
		stride = 1
	}
	c := m.Centroid()

	sum := 0.0
	count := 0
	for i := 0; i < n && count < orientSamples; i += stride {
		v := m.Vertices[i]
		d := r3.Sub(v.Position, c)
		if r3.Norm(d) == 0 {
			continue
		}
		sum += r3.Dot(r3.Unit(d), v.Normal)
		count++
	}
	if count == 0 || sum/float64(count) >= 0 {
		return m, false
	}

	out := m.Clone()
	for i := range out.Vertices {
		out.Vertices[i].Normal = r3.Scale(-1, out.Vertices[i].Normal)
	}
	for i, t := range out.Triangles {
		out.Triangles[i] = mesh.Triangle{t[0], t[2], t[1]}
	}
	return out, true
}
