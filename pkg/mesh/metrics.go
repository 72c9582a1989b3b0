package mesh

import (
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Metrics summarises the geometry and topology of a mesh.
type Metrics struct {
	Vertices  int
	Triangles int

	// BoundaryEdges are edges used by exactly one triangle
	BoundaryEdges int

	// NonManifoldEdges are edges used by more than two triangles
	NonManifoldEdges int

	// Area is the total surface area in mm²
	Area float64

	// Volume is the signed enclosed volume in mm³. It is positive when the
	// triangles wind counter-clockwise seen from outside.
	Volume float64

	MeanEdgeLength float64
	StdEdgeLength  float64

	Min, Max r3.Vec
}

// Edge is an undirected vertex pair with A < B
type Edge struct {
	A, B int
}

// MakeEdge orders a and b into an Edge
func MakeEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

// EdgeCounts returns how many triangles use each undirected edge
func EdgeCounts(m *Mesh) map[Edge]int {
	counts := make(map[Edge]int, len(m.Triangles)*3/2)
	for _, t := range m.Triangles {
		counts[MakeEdge(t[0], t[1])]++
		counts[MakeEdge(t[1], t[2])]++
		counts[MakeEdge(t[2], t[0])]++
	}
	return counts
}

// Stats computes the metrics of m
func Stats(m *Mesh) Metrics {
	s := Metrics{
		Vertices:  len(m.Vertices),
		Triangles: len(m.Triangles),
	}
	s.Min, s.Max = m.Bounds()

	counts := EdgeCounts(m)
	lengths := make([]float64, 0, len(counts))
	for e, c := range counts {
		switch {
		case c == 1:
			s.BoundaryEdges++
		case c > 2:
			s.NonManifoldEdges++
		}
		lengths = append(lengths, r3.Norm(r3.Sub(m.Vertices[e.A].Position, m.Vertices[e.B].Position)))
	}
	if len(lengths) > 1 {
		s.MeanEdgeLength, s.StdEdgeLength = stat.MeanStdDev(lengths, nil)
	} else if len(lengths) == 1 {
		s.MeanEdgeLength = lengths[0]
	}

	for _, t := range m.Triangles {
		s.Area += r3.Norm(m.FaceNormal(t)) / 2
		a := m.Vertices[t[0]].Position
		b := m.Vertices[t[1]].Position
		c := m.Vertices[t[2]].Position
		s.Volume += r3.Dot(a, r3.Cross(b, c)) / 6
	}
	return s
}
