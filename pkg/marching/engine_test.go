package marching

import (
	"context"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/gradient"
	"slicesurf/pkg/mesh"
	"slicesurf/pkg/phantom"
	"slicesurf/pkg/volume"
)

func sphereVolume(t *testing.T, size int, radius float64, opts ...phantom.Option) *volume.Volume {
	t.Helper()
	dims := [3]int{size, size, size}
	v, err := phantom.Sphere(dims, phantom.Center(dims), radius, 1000, 0, opts...)
	if err != nil {
		t.Fatalf("Failed to create sphere: %v", err)
	}
	return v
}

func estimate(t *testing.T, v *volume.Volume) *gradient.Field {
	t.Helper()
	f, err := gradient.Estimate(context.Background(), v, 1)
	if err != nil {
		t.Fatalf("Gradient estimation failed: %v", err)
	}
	return f
}

func TestTablesConsistent(t *testing.T) {
	for cube := 0; cube < 256; cube++ {
		var crossed uint16
		for e, c := range edgeCorners {
			in0 := cube&(1<<uint(c[0])) != 0
			in1 := cube&(1<<uint(c[1])) != 0
			if in0 != in1 {
				crossed |= 1 << uint(e)
			}
		}
		if edgeTable[cube] != crossed {
			t.Errorf("Case %d: edge mask %#x, expected %#x", cube, edgeTable[cube], crossed)
		}
		if edgeTable[cube] != edgeTable[255-cube] {
			t.Errorf("Case %d: mask differs from its complement", cube)
		}

		var used uint16
		n := 0
		for n < 16 && triTable[cube][n] >= 0 {
			used |= 1 << uint(triTable[cube][n])
			n++
		}
		if n%3 != 0 {
			t.Errorf("Case %d: %d indices is not a whole number of triangles", cube, n)
		}
		if used != edgeTable[cube] {
			t.Errorf("Case %d: triangles use edges %#x, mask is %#x", cube, used, edgeTable[cube])
		}
	}
}

func TestSphereWithinBounds(t *testing.T) {
	const radius = 8.0
	v := sphereVolume(t, 32, radius)
	c := phantom.Center(v.Dims())

	res := Triangulate(context.Background(), v, estimate(t, v), 500, Options{})
	if res.Incomplete || res.Reason != Completed {
		t.Fatalf("Unexpected stop: %v", res.Reason)
	}
	if res.Mesh.IsEmpty() {
		t.Fatal("Sphere produced an empty mesh")
	}
	if len(res.Mesh.Vertices) != 3*len(res.Mesh.Triangles) {
		t.Errorf("Expected 3 fresh vertices per triangle, got %d for %d",
			len(res.Mesh.Vertices), len(res.Mesh.Triangles))
	}
	if res.Cubes != 31*31*31 {
		t.Errorf("Expected %d cubes, got %d", 31*31*31, res.Cubes)
	}

	lim := radius + 1
	for i, vert := range res.Mesh.Vertices {
		d := r3.Sub(vert.Position, c)
		if math.Abs(d.X) > lim || math.Abs(d.Y) > lim || math.Abs(d.Z) > lim {
			t.Fatalf("Vertex %d at %v lies outside the expanded bounding box", i, vert.Position)
		}
	}
}

func TestSphereClosedAndOutward(t *testing.T) {
	v := sphereVolume(t, 32, 8)
	res := Triangulate(context.Background(), v, estimate(t, v), 500, Options{})
	m := mesh.WeldMesh(res.Mesh, 0)

	s := mesh.Stats(&m)
	if s.BoundaryEdges != 0 || s.NonManifoldEdges != 0 {
		t.Errorf("Expected a closed manifold, got %d boundary and %d non-manifold edges",
			s.BoundaryEdges, s.NonManifoldEdges)
	}
	// voxelised radius lies between 7 and 9
	if s.Volume < 4.0/3*math.Pi*343 || s.Volume > 4.0/3*math.Pi*729 {
		t.Errorf("Enclosed volume %f is implausible for the sphere", s.Volume)
	}

	agree := 0
	for _, tri := range m.Triangles {
		fn := m.FaceNormal(tri)
		if r3.Dot(fn, m.Vertices[tri[0]].Normal) > 0 {
			agree++
		}
	}
	if float64(agree) < 0.95*float64(len(m.Triangles)) {
		t.Errorf("Only %d of %d triangles agree with the gradient normals", agree, len(m.Triangles))
	}
}

func TestFarIsovalueIsEmpty(t *testing.T) {
	v := sphereVolume(t, 16, 5)
	for _, iso := range []float64{-5000, 5000} {
		res := Triangulate(context.Background(), v, nil, iso, Options{})
		if !res.Mesh.IsEmpty() || res.Incomplete {
			t.Errorf("Isovalue %v: expected a complete empty mesh, got %d triangles", iso, len(res.Mesh.Triangles))
		}
	}
}

func TestThinVolumes(t *testing.T) {
	for depth := 1; depth <= 2; depth++ {
		dims := [3]int{12, 12, depth}
		v, err := phantom.Box(dims, [3]int{3, 3, 0}, [3]int{9, 9, 1}, 1000, 0)
		if err != nil {
			t.Fatalf("Box failed: %v", err)
		}
		first := Triangulate(context.Background(), v, nil, 500, Options{})
		second := Triangulate(context.Background(), v, nil, 500, Options{})
		if len(first.Mesh.Triangles) != len(second.Mesh.Triangles) {
			t.Errorf("Depth %d: triangulation is not deterministic", depth)
		}
		if depth == 1 && (!first.Mesh.IsEmpty() || first.Cubes != 0) {
			t.Errorf("Depth 1: expected no cubes, got %d cubes", first.Cubes)
		}
	}
}

func TestTriangleLimit(t *testing.T) {
	v := sphereVolume(t, 32, 8)
	res := Triangulate(context.Background(), v, nil, 500, Options{Limits: Limits{MaxTriangles: 50}})

	if !res.Incomplete || res.Reason != TriangleLimit {
		t.Fatalf("Expected triangle limit stop, got %v", res.Reason)
	}
	if len(res.Mesh.Triangles) != 50 || len(res.Mesh.Vertices) != 150 {
		t.Errorf("Expected 50 triangles and 150 vertices, got %d and %d",
			len(res.Mesh.Triangles), len(res.Mesh.Vertices))
	}
	if err := res.Mesh.Validate(); err != nil {
		t.Errorf("Truncated mesh invalid: %v", err)
	}
}

func TestCanceled(t *testing.T) {
	v := sphereVolume(t, 16, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Triangulate(ctx, v, nil, 500, Options{Limits: Limits{CheckInterval: 1}})
	if !res.Incomplete || res.Reason != Canceled {
		t.Errorf("Expected canceled stop, got %v", res.Reason)
	}
	if res.Cubes != 1 {
		t.Errorf("Expected to stop after the first check, visited %d cubes", res.Cubes)
	}
}

func TestDeadline(t *testing.T) {
	v := sphereVolume(t, 16, 5)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	res := Triangulate(ctx, v, nil, 500, Options{Limits: Limits{CheckInterval: 1}})
	if res.Reason != Deadline {
		t.Errorf("Expired context: expected deadline stop, got %v", res.Reason)
	}

	res = Triangulate(context.Background(), v, nil, 500, Options{Limits: Limits{Timeout: time.Nanosecond, CheckInterval: 8}})
	if !res.Incomplete || res.Reason != Deadline {
		t.Errorf("Timeout: expected deadline stop, got %v", res.Reason)
	}
}

func TestStepAndRegion(t *testing.T) {
	v := sphereVolume(t, 32, 10)
	full := Triangulate(context.Background(), v, nil, 500, Options{})

	coarse := Triangulate(context.Background(), v, nil, 500, Options{Limits: Limits{Step: 2}})
	if coarse.Mesh.IsEmpty() || len(coarse.Mesh.Triangles) >= len(full.Mesh.Triangles) {
		t.Errorf("Step 2 should give fewer triangles: %d vs %d",
			len(coarse.Mesh.Triangles), len(full.Mesh.Triangles))
	}

	region := &Region{Min: [3]int{0, 0, 0}, Max: [3]int{16, 32, 32}}
	half := Triangulate(context.Background(), v, nil, 500, Options{Limits: Limits{Region: region}})
	if half.Mesh.IsEmpty() {
		t.Fatal("Region produced an empty mesh")
	}
	for _, vert := range half.Mesh.Vertices {
		if vert.Position.X > 16 {
			t.Fatalf("Vertex %v lies outside the region", vert.Position)
		}
	}
	if half.Cubes != 16*31*31 {
		t.Errorf("Expected %d cubes in the region, got %d", 16*31*31, half.Cubes)
	}
}

func TestSpacingScalesPositions(t *testing.T) {
	spacing := r3.Vec{X: 0.5, Y: 0.5, Z: 2}
	v := sphereVolume(t, 24, 6, phantom.WithSpacing(spacing))
	res := Triangulate(context.Background(), v, nil, 500, Options{})

	min, max := res.Mesh.Bounds()
	ext := r3.Sub(max, min)
	// the sphere is 12-14 voxels wide on every axis
	if ext.X < 5 || ext.X > 7.5 || ext.Z < 20 || ext.Z > 30 {
		t.Errorf("Extent %v does not follow the spacing", ext)
	}
}

func TestFaceNormalsWithoutField(t *testing.T) {
	v := sphereVolume(t, 16, 5)
	res := Triangulate(context.Background(), v, nil, 500, Options{})
	c := phantom.Center(v.Dims())

	outward := 0
	for _, tri := range res.Mesh.Triangles {
		n := res.Mesh.Vertices[tri[0]].Normal
		if math.Abs(r3.Norm(n)-1) > 1e-9 {
			t.Fatalf("Normal %v is not unit length", n)
		}
		if r3.Dot(n, r3.Sub(res.Mesh.Vertices[tri[0]].Position, c)) > 0 {
			outward++
		}
	}
	if float64(outward) < 0.95*float64(len(res.Mesh.Triangles)) {
		t.Errorf("Only %d of %d face normals point out of the sphere", outward, len(res.Mesh.Triangles))
	}
}

func TestBoxShell(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping 64^3 volume in short mode")
	}

	dims := [3]int{64, 64, 64}
	v, err := phantom.Box(dims, [3]int{20, 20, 20}, [3]int{40, 40, 40}, 1000, 0)
	if err != nil {
		t.Fatalf("Box failed: %v", err)
	}
	res := Triangulate(context.Background(), v, estimate(t, v), 500, Options{})
	m := mesh.WeldMesh(res.Mesh, 0)

	// one vertex per boundary voxel face
	if len(m.Vertices) != 6*20*20 {
		t.Errorf("Expected %d welded vertices, got %d", 6*20*20, len(m.Vertices))
	}
	for _, vert := range m.Vertices {
		p := vert.Position
		onShell := false
		for _, c := range []float64{p.X, p.Y, p.Z} {
			if c == 19.5 || c == 39.5 {
				onShell = true
			}
		}
		if !onShell {
			t.Fatalf("Vertex %v is not on the box surface", p)
		}
	}
	if s := mesh.Stats(&m); s.BoundaryEdges != 0 || s.Volume <= 0 {
		t.Errorf("Expected a closed outward surface, got %d boundary edges and volume %f", s.BoundaryEdges, s.Volume)
	}
}
