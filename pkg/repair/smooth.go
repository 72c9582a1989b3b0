package repair

import (
	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/mesh"
)

// Smooth applies Laplacian smoothing: on each iteration every vertex moves
// toward the mean of its neighbours by factor, which is clamped to [0,1].
// All vertices are updated from the positions of the previous iteration.
// Normals are recomputed from the smoothed triangles. Vertex and triangle
// counts never change.
func Smooth(m mesh.Mesh, iterations int, factor float64) mesh.Mesh {
	out := m.Clone()
	if iterations <= 0 || len(out.Vertices) == 0 {
		return out
	}
	if factor < 0 {
		factor = 0
	} else if factor > 1 {
		factor = 1
	}

	neighbors := adjacency(&out)
	cur := make([]r3.Vec, len(out.Vertices))
	next := make([]r3.Vec, len(out.Vertices))
	for i, v := range out.Vertices {
		cur[i] = v.Position
	}

	for it := 0; it < iterations; it++ {
		for i, p := range cur {
			nb := neighbors[i]
			if len(nb) == 0 {
				next[i] = p
				continue
			}
			var mean r3.Vec
			for _, j := range nb {
				mean = r3.Add(mean, cur[j])
			}
			mean = r3.Scale(1/float64(len(nb)), mean)
			next[i] = r3.Add(p, r3.Scale(factor, r3.Sub(mean, p)))
		}
		cur, next = next, cur
	}

	for i := range out.Vertices {
		out.Vertices[i].Position = cur[i]
	}
	out.RecomputeNormals()
	return out
}

// adjacency lists the distinct neighbours of each vertex
func adjacency(m *mesh.Mesh) [][]int {
	seen := make(map[mesh.Edge]bool, len(m.Triangles)*3/2)
	neighbors := make([][]int, len(m.Vertices))
	for _, t := range m.Triangles {
		for k := 0; k < 3; k++ {
			a, b := t[k], t[(k+1)%3]
			e := mesh.MakeEdge(a, b)
			if seen[e] {
				continue
			}
			seen[e] = true
			neighbors[a] = append(neighbors[a], b)
			neighbors[b] = append(neighbors[b], a)
		}
	}
	return neighbors
}
