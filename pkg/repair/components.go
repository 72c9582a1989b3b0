package repair

import (
	"slicesurf/pkg/mesh"
)

// Components groups triangle indices into connected components. Triangles
// sharing a vertex are connected. Components are listed in order of their
// lowest triangle index.
func Components(m mesh.Mesh) [][]int {
	incident := make([][]int, len(m.Vertices))
	for i, t := range m.Triangles {
		for _, v := range t {
			incident[v] = append(incident[v], i)
		}
	}

	seen := make([]bool, len(m.Triangles))
	var components [][]int
	var stack []int
	for i := range m.Triangles {
		if seen[i] {
			continue
		}
		var comp []int
		seen[i] = true
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			t := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, t)
			for _, v := range m.Triangles[t] {
				for _, u := range incident[v] {
					if !seen[u] {
						seen[u] = true
						stack = append(stack, u)
					}
				}
			}
		}
		components = append(components, comp)
	}
	return components
}

// FilterComponents drops connected components with fewer than minSize
// triangles. If that would remove everything, the largest component is kept.
// Unreferenced vertices are removed afterwards. A minSize of zero or less
// returns m unchanged.
func FilterComponents(m mesh.Mesh, minSize int) mesh.Mesh {
	if minSize <= 0 || len(m.Triangles) == 0 {
		return m
	}

	components := Components(m)
	keep := make([]bool, len(m.Triangles))
	kept := 0
	largest := 0
	for ci, comp := range components {
		if len(comp) > len(components[largest]) {
			largest = ci
		}
		if len(comp) >= minSize {
			for _, t := range comp {
				keep[t] = true
			}
			kept++
		}
	}
	if kept == 0 {
		for _, t := range components[largest] {
			keep[t] = true
		}
	}

	out := mesh.Mesh{Vertices: m.Vertices}
	for i, t := range m.Triangles {
		if keep[i] {
			out.Triangles = append(out.Triangles, t)
		}
	}
	return Compact(out)
}

// Compact removes vertices no triangle references and renumbers the rest in
// their original order.
func Compact(m mesh.Mesh) mesh.Mesh {
	remap := make([]int, len(m.Vertices))
	for i := range remap {
		remap[i] = -1
	}
	for _, t := range m.Triangles {
		for _, v := range t {
			remap[v] = 0
		}
	}

	out := mesh.Mesh{
		Vertices:  make([]mesh.Vertex, 0, len(m.Vertices)),
		Triangles: make([]mesh.Triangle, len(m.Triangles)),
	}
	for i, v := range m.Vertices {
		if remap[i] < 0 {
			continue
		}
		remap[i] = len(out.Vertices)
		out.Vertices = append(out.Vertices, v)
	}
	for i, t := range m.Triangles {
		out.Triangles[i] = mesh.Triangle{remap[t[0]], remap[t[1]], remap[t[2]]}
	}
	return out
}
