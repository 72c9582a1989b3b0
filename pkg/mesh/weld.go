package mesh

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultWeldPrecision quantises positions to 0.01 mm
const DefaultWeldPrecision = 100

type weldKey [3]int64

func keyOf(p r3.Vec, precision float64) weldKey {
	return weldKey{
		int64(math.Trunc(p.X * precision)),
		int64(math.Trunc(p.Y * precision)),
		int64(math.Trunc(p.Z * precision)),
	}
}

// Weld merges vertices whose positions truncate to the same integer triple
// after scaling by precision. The first vertex seen for a key keeps its
// position; the normals of all merged vertices are summed and renormalised.
// Triangles referencing fewer than three distinct welded vertices are
// dropped. A precision of zero or less selects DefaultWeldPrecision.
//
// Welding a welded mesh again returns the same mesh.
func Weld(vertices []Vertex, triangles []Triangle, precision float64) Mesh {
	if precision <= 0 {
		precision = DefaultWeldPrecision
	}

	index := make(map[weldKey]int, len(vertices)/2)
	remap := make([]int, len(vertices))
	out := Mesh{Vertices: make([]Vertex, 0, len(vertices)/2)}
	sums := make([]r3.Vec, 0, len(vertices)/2)
	merged := make([]int, 0, len(vertices)/2)

	for i, v := range vertices {
		k := keyOf(v.Position, precision)
		if j, ok := index[k]; ok {
			remap[i] = j
			sums[j] = r3.Add(sums[j], v.Normal)
			merged[j]++
			continue
		}
		j := len(out.Vertices)
		index[k] = j
		remap[i] = j
		out.Vertices = append(out.Vertices, v)
		sums = append(sums, v.Normal)
		merged = append(merged, 1)
	}

	for j := range out.Vertices {
		// a lone vertex keeps its normal bit for bit
		if merged[j] > 1 {
			out.Vertices[j].Normal = Normalize(sums[j])
		}
	}

	out.Triangles = make([]Triangle, 0, len(triangles))
	for _, t := range triangles {
		a, b, c := remap[t[0]], remap[t[1]], remap[t[2]]
		if a == b || b == c || a == c {
			continue
		}
		out.Triangles = append(out.Triangles, Triangle{a, b, c})
	}
	return out
}

// WeldMesh welds m with the given precision
func WeldMesh(m Mesh, precision float64) Mesh {
	return Weld(m.Vertices, m.Triangles, precision)
}
