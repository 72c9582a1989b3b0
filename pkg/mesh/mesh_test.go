package mesh

import (
	"errors"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/spatial/r3"
)

// tetrahedron returns a closed mesh wound counter-clockwise from outside
func tetrahedron() Mesh {
	return Mesh{
		Vertices: []Vertex{
			{Position: r3.Vec{}},
			{Position: r3.Vec{X: 1}},
			{Position: r3.Vec{Y: 1}},
			{Position: r3.Vec{Z: 1}},
		},
		Triangles: []Triangle{{0, 2, 1}, {0, 1, 3}, {0, 3, 2}, {1, 2, 3}},
	}
}

// soup expands m so that every triangle owns three fresh vertices
func soup(m Mesh) ([]Vertex, []Triangle) {
	var vertices []Vertex
	var triangles []Triangle
	for _, t := range m.Triangles {
		n := Normalize(m.FaceNormal(t))
		base := len(vertices)
		for _, idx := range t {
			vertices = append(vertices, Vertex{Position: m.Vertices[idx].Position, Normal: n})
		}
		triangles = append(triangles, Triangle{base, base + 1, base + 2})
	}
	return vertices, triangles
}

func TestValidate(t *testing.T) {
	m := tetrahedron()
	if err := m.Validate(); err != nil {
		t.Fatalf("Valid mesh rejected: %v", err)
	}
	m.Triangles = append(m.Triangles, Triangle{0, 1, 4})
	if err := m.Validate(); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestWeldSoup(t *testing.T) {
	vertices, triangles := soup(tetrahedron())
	if len(vertices) != 12 {
		t.Fatalf("Expected 12 soup vertices, got %d", len(vertices))
	}

	m := Weld(vertices, triangles, 0)
	if len(m.Vertices) != 4 || len(m.Triangles) != 4 {
		t.Fatalf("Expected 4 vertices and 4 triangles, got %d and %d", len(m.Vertices), len(m.Triangles))
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("Welded mesh invalid: %v", err)
	}
	for i, v := range m.Vertices {
		if math.Abs(r3.Norm(v.Normal)-1) > 1e-9 {
			t.Errorf("Vertex %d normal not renormalised: %v", i, v.Normal)
		}
	}
	// the apex normal is the mean of three axis-aligned face normals
	apex := m.Vertices[0]
	if apex.Position != (r3.Vec{}) {
		t.Fatalf("First occurrence should keep its slot, got %v", apex.Position)
	}
	want := r3.Unit(r3.Vec{X: -1, Y: -1, Z: -1})
	if r3.Norm(r3.Sub(apex.Normal, want)) > 1e-9 {
		t.Errorf("Expected merged normal %v, got %v", want, apex.Normal)
	}
}

func TestWeldIdempotent(t *testing.T) {
	vertices, triangles := soup(tetrahedron())
	once := Weld(vertices, triangles, 100)
	twice := WeldMesh(once, 100)

	if len(once.Vertices) != len(twice.Vertices) || len(once.Triangles) != len(twice.Triangles) {
		t.Fatalf("Second weld changed counts: %d/%d -> %d/%d",
			len(once.Vertices), len(once.Triangles), len(twice.Vertices), len(twice.Triangles))
	}
	for i := range once.Vertices {
		if once.Vertices[i] != twice.Vertices[i] {
			t.Errorf("Vertex %d changed: %v -> %v", i, once.Vertices[i], twice.Vertices[i])
		}
	}
	for i := range once.Triangles {
		if once.Triangles[i] != twice.Triangles[i] {
			t.Errorf("Triangle %d changed: %v -> %v", i, once.Triangles[i], twice.Triangles[i])
		}
	}
}

func TestWeldPrecision(t *testing.T) {
	vertices := []Vertex{
		{Position: r3.Vec{X: 1.001}, Normal: DefaultNormal},
		{Position: r3.Vec{X: 1.004}, Normal: DefaultNormal},
		{Position: r3.Vec{X: 1.02}, Normal: DefaultNormal},
		{Position: r3.Vec{Y: 1}, Normal: DefaultNormal},
	}
	triangles := []Triangle{{0, 1, 3}, {0, 2, 3}}

	testCases := []struct {
		precision float64
		vertices  int
		triangles int
	}{
		// 0.01 mm grid: 1.001 and 1.004 collapse, the first triangle degenerates
		{100, 3, 1},
		{1000, 4, 2},
		// 0.1 mm grid: everything on the x axis collapses
		{10, 2, 0},
	}
	for _, tc := range testCases {
		m := Weld(vertices, triangles, tc.precision)
		if len(m.Vertices) != tc.vertices || len(m.Triangles) != tc.triangles {
			t.Errorf("Precision %v: expected %d/%d, got %d/%d", tc.precision,
				tc.vertices, tc.triangles, len(m.Vertices), len(m.Triangles))
		}
		if err := m.Validate(); err != nil {
			t.Errorf("Precision %v: %v", tc.precision, err)
		}
	}
}

func TestStats(t *testing.T) {
	m := tetrahedron()
	s := Stats(&m)

	if s.Vertices != 4 || s.Triangles != 4 {
		t.Errorf("Unexpected counts %d/%d", s.Vertices, s.Triangles)
	}
	if s.BoundaryEdges != 0 || s.NonManifoldEdges != 0 {
		t.Errorf("Closed tetrahedron has %d boundary and %d non-manifold edges", s.BoundaryEdges, s.NonManifoldEdges)
	}
	if math.Abs(s.Volume-1.0/6) > 1e-12 {
		t.Errorf("Expected volume 1/6, got %f", s.Volume)
	}
	wantArea := 1.5 + math.Sqrt(3)/2
	if math.Abs(s.Area-wantArea) > 1e-12 {
		t.Errorf("Expected area %f, got %f", wantArea, s.Area)
	}
	wantMean := (3 + 3*math.Sqrt2) / 6
	if math.Abs(s.MeanEdgeLength-wantMean) > 1e-12 {
		t.Errorf("Expected mean edge %f, got %f", wantMean, s.MeanEdgeLength)
	}
	if s.Max != (r3.Vec{X: 1, Y: 1, Z: 1}) || s.Min != (r3.Vec{}) {
		t.Errorf("Unexpected bounds %v %v", s.Min, s.Max)
	}

	open := tetrahedron()
	open.Triangles = open.Triangles[:3]
	if s := Stats(&open); s.BoundaryEdges != 3 {
		t.Errorf("Expected 3 boundary edges, got %d", s.BoundaryEdges)
	}
}

func TestRecomputeNormals(t *testing.T) {
	m := tetrahedron()
	m.RecomputeNormals()
	c := m.Centroid()
	for i, v := range m.Vertices {
		if r3.Dot(v.Normal, r3.Sub(v.Position, c)) <= 0 {
			t.Errorf("Vertex %d normal %v points inward", i, v.Normal)
		}
	}

	lone := Mesh{Vertices: []Vertex{{Position: r3.Vec{X: 3}}}}
	lone.RecomputeNormals()
	if lone.Vertices[0].Normal != DefaultNormal {
		t.Errorf("Unreferenced vertex should get the default normal")
	}
}

func TestTransform(t *testing.T) {
	m := tetrahedron()
	m.RecomputeNormals()

	moved := m.Transform(mgl64.Translate3D(10, 0, -5))
	if p := moved.Vertices[1].Position; p != (r3.Vec{X: 11, Z: -5}) {
		t.Errorf("Expected translated position (11,0,-5), got %v", p)
	}
	if n := moved.Vertices[1].Normal; r3.Norm(r3.Sub(n, m.Vertices[1].Normal)) > 1e-12 {
		t.Errorf("Translation changed a normal: %v", n)
	}
	if m.Vertices[1].Position != (r3.Vec{X: 1}) {
		t.Errorf("Transform modified its receiver")
	}

	// a mirror keeps the enclosed volume positive by flipping the winding
	mirrored := m.Transform(mgl64.Scale3D(-1, 1, 1))
	if v := Stats(&mirrored).Volume; v <= 0 {
		t.Errorf("Mirrored mesh should stay outward wound, volume %f", v)
	}
}
