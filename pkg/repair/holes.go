package repair

import (
	"sort"

	"slicesurf/pkg/mesh"
)

const (
	// DefaultMaxLoopVertices bounds the loops that get filled
	DefaultMaxLoopVertices = 20

	// DefaultMaxBoundaryEdges is the boundary size above which hole closing
	// is not attempted
	DefaultMaxBoundaryEdges = 1000
)

// HoleOptions configures CloseHoles. Zero fields select the defaults.
type HoleOptions struct {
	// MaxLoopVertices is the exclusive upper bound on filled loop sizes
	MaxLoopVertices int

	// MaxBoundaryEdges skips the whole step when exceeded
	MaxBoundaryEdges int
}

// DefaultHoleOptions returns the default hole closing limits
func DefaultHoleOptions() HoleOptions {
	return HoleOptions{
		MaxLoopVertices:  DefaultMaxLoopVertices,
		MaxBoundaryEdges: DefaultMaxBoundaryEdges,
	}
}

// HoleReport describes what CloseHoles did
type HoleReport struct {
	BoundaryEdges int

	// Skipped is set when the boundary was too large to attempt
	Skipped bool

	Loops  int
	Filled int

	// TooLarge counts loops left open because of their size
	TooLarge int

	// NonSimple counts boundary components that branch or do not close
	NonSimple int

	TrianglesAdded int
}

// CloseHoles fills small boundary loops with a triangle fan rooted at the
// first vertex of the loop. The new triangles wind against the boundary so
// they agree with their neighbours.
//
// This is a best-effort filler, not a polygon triangulator. Boundary
// components where a vertex has more than one outgoing or incoming boundary
// edge, and chains that do not close, are reported and left alone. A mesh
// without boundary edges is returned as is.
func CloseHoles(m mesh.Mesh, opts HoleOptions) (mesh.Mesh, HoleReport) {
	if opts.MaxLoopVertices <= 0 {
		opts.MaxLoopVertices = DefaultMaxLoopVertices
	}
	if opts.MaxBoundaryEdges <= 0 {
		opts.MaxBoundaryEdges = DefaultMaxBoundaryEdges
	}

	var report HoleReport
	counts := mesh.EdgeCounts(&m)
	for _, c := range counts {
		if c == 1 {
			report.BoundaryEdges++
		}
	}
	if report.BoundaryEdges == 0 {
		return m, report
	}
	if report.BoundaryEdges > opts.MaxBoundaryEdges {
		report.Skipped = true
		return m, report
	}

	// directed boundary edges, in the winding of their triangle
	next := make(map[int][]int)
	prev := make(map[int][]int)
	for _, t := range m.Triangles {
		for k := 0; k < 3; k++ {
			a, b := t[k], t[(k+1)%3]
			if counts[mesh.MakeEdge(a, b)] == 1 {
				next[a] = append(next[a], b)
				prev[b] = append(prev[b], a)
			}
		}
	}

	vertices := make([]int, 0, len(next)+len(prev))
	for v := range next {
		vertices = append(vertices, v)
	}
	for v := range prev {
		if _, ok := next[v]; !ok {
			vertices = append(vertices, v)
		}
	}
	sort.Ints(vertices)

	var fill []mesh.Triangle
	visited := make(map[int]bool, len(vertices))
	for _, start := range vertices {
		if visited[start] {
			continue
		}
		component := boundaryComponent(start, next, prev, visited)

		simple := true
		for _, v := range component {
			if len(next[v]) != 1 || len(prev[v]) != 1 {
				simple = false
				break
			}
		}
		if !simple {
			report.NonSimple++
			continue
		}

		// in and out degree one everywhere and connected: a single cycle
		loop := make([]int, 0, len(component))
		for v := start; ; {
			loop = append(loop, v)
			v = next[v][0]
			if v == start {
				break
			}
		}
		report.Loops++

		if len(loop) < 3 || len(loop) >= opts.MaxLoopVertices {
			report.TooLarge++
			continue
		}
		for i := 1; i+1 < len(loop); i++ {
			fill = append(fill, mesh.Triangle{loop[0], loop[i+1], loop[i]})
		}
		report.Filled++
	}

	if len(fill) == 0 {
		return m, report
	}
	out := m.Clone()
	out.Triangles = append(out.Triangles, fill...)
	report.TrianglesAdded = len(fill)
	return out, report
}

// boundaryComponent collects the boundary vertices reachable from start
// ignoring edge direction
func boundaryComponent(start int, next, prev map[int][]int, visited map[int]bool) []int {
	var component []int
	stack := []int{start}
	visited[start] = true
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		component = append(component, v)
		for _, nbs := range [][]int{next[v], prev[v]} {
			for _, w := range nbs {
				if !visited[w] {
					visited[w] = true
					stack = append(stack, w)
				}
			}
		}
	}
	return component
}
