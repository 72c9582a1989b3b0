// Package marching extracts a triangulated isosurface from a volume with the
// marching cubes algorithm.
package marching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/gradient"
	"slicesurf/pkg/logging"
	"slicesurf/pkg/mesh"
	"slicesurf/pkg/volume"
)

// DefaultCheckInterval is the number of cubes visited between deadline and
// cancellation checks
const DefaultCheckInterval = 4096

// StopReason tells why a traversal ended
type StopReason int

const (
	Completed StopReason = iota
	TriangleLimit
	Deadline
	Canceled
)

func (r StopReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case TriangleLimit:
		return "triangle limit"
	case Deadline:
		return "deadline"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// Region restricts the traversal to cube origins in the half-open box
// [Min, Max).
type Region struct {
	Min [3]int
	Max [3]int
}

// Limits bounds the work done by a single traversal. Zero values disable
// the corresponding limit.
type Limits struct {
	// MaxTriangles is the triangle ceiling
	MaxTriangles int

	// Timeout is the wall-clock budget of the traversal
	Timeout time.Duration

	// Step is the cube edge length in voxels, 1 when unset
	Step int

	// Region restricts the traversal to a sub-range of the grid
	Region *Region

	// CheckInterval is the number of cubes between deadline checks
	CheckInterval int
}

// Options configures Triangulate
type Options struct {
	Limits
	Logger   logging.Logger
	Progress logging.ProgressFunc
}

// Result is the unwelded output of a traversal. Each triangle owns three
// vertices of its own.
type Result struct {
	Mesh mesh.Mesh

	// Incomplete is set when a limit or the context stopped the traversal
	Incomplete bool
	Reason     StopReason

	// Cubes is the number of cubes visited
	Cubes   int
	Elapsed time.Duration
}

// Triangulate runs marching cubes over vol at isovalue. Vertex positions are
// in volume-local millimetres. Normals are interpolated from field, or taken
// from the triangle geometry when field is nil.
//
// Exhausting a limit or ending ctx does not fail the call: the triangles
// gathered so far are returned with Incomplete set.
func Triangulate(ctx context.Context, vol *volume.Volume, field *gradient.Field, isovalue float64, opts Options) Result {
	start := time.Now()
	logger := logging.OrNop(opts.Logger)

	step := opts.Step
	if step < 1 {
		step = 1
	}
	interval := opts.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = start.Add(opts.Timeout)
	}

	lo, hi := cubeRange(vol.Dims(), step, opts.Region)
	t := &traversal{
		vol:      vol,
		field:    field,
		isovalue: isovalue,
		step:     step,
		spacing:  vol.Spacing(),
	}

	res := Result{Reason: Completed}
	planes := 0
	if hi[2] > lo[2] {
		planes = (hi[2] - lo[2] + step - 1) / step
	}

traverse:
	for z := lo[2]; z < hi[2]; z += step {
		for y := lo[1]; y < hi[1]; y += step {
			for x := lo[0]; x < hi[0]; x += step {
				t.march(x, y, z)
				res.Cubes++

				if opts.MaxTriangles > 0 && len(t.mesh.Triangles) > opts.MaxTriangles {
					t.truncate(opts.MaxTriangles)
					res.Reason = TriangleLimit
					break traverse
				}
				if res.Cubes%interval == 0 {
					if err := ctx.Err(); err != nil {
						res.Reason = Canceled
						if errors.Is(err, context.DeadlineExceeded) {
							res.Reason = Deadline
						}
						break traverse
					}
					if !deadline.IsZero() && time.Now().After(deadline) {
						res.Reason = Deadline
						break traverse
					}
				}
			}
		}
		opts.Progress.Report("triangulate", (z-lo[2])/step+1, planes)
	}

	if field == nil {
		t.faceNormals()
	}
	res.Mesh = t.mesh
	res.Incomplete = res.Reason != Completed
	res.Elapsed = time.Since(start)

	if res.Incomplete {
		logger.Warningf("triangulation stopped early (%s) after %d cubes with %d triangles",
			res.Reason, res.Cubes, len(res.Mesh.Triangles))
	} else {
		logger.Debugf("triangulated %d cubes into %d triangles in %v",
			res.Cubes, len(res.Mesh.Triangles), res.Elapsed)
	}
	return res
}

// cubeRange returns the half-open range of cube origins. A cube needs its
// far corner inside the grid.
func cubeRange(dims [3]int, step int, region *Region) (lo, hi [3]int) {
	for i := 0; i < 3; i++ {
		hi[i] = dims[i] - step
		if region != nil {
			if region.Min[i] > lo[i] {
				lo[i] = region.Min[i]
			}
			if region.Max[i] < hi[i] {
				hi[i] = region.Max[i]
			}
		}
		if hi[i] < lo[i] {
			hi[i] = lo[i]
		}
	}
	return lo, hi
}

type traversal struct {
	vol      *volume.Volume
	field    *gradient.Field
	isovalue float64
	step     int
	spacing  r3.Vec
	mesh     mesh.Mesh

	values [8]float64
	points [12]mesh.Vertex
}

// march triangulates the cube whose minimum corner is (x,y,z)
func (t *traversal) march(x, y, z int) {
	cube := 0
	for i, off := range cornerOffsets {
		v := t.vol.ScalarAt(x+off[0]*t.step, y+off[1]*t.step, z+off[2]*t.step)
		t.values[i] = v
		if v < t.isovalue {
			cube |= 1 << uint(i)
		}
	}

	edges := edgeTable[cube]
	if edges == 0 {
		return
	}
	for e := 0; e < 12; e++ {
		if edges&(1<<uint(e)) != 0 {
			t.points[e] = t.interpolate(x, y, z, e)
		}
	}

	row := triTable[cube]
	n := 0
	for n < len(row) && row[n] >= 0 {
		n++
	}
	for i := 0; i+2 < n; i += 3 {
		base := len(t.mesh.Vertices)
		t.mesh.Vertices = append(t.mesh.Vertices, t.points[row[i]], t.points[row[i+1]], t.points[row[i+2]])
		t.mesh.Triangles = append(t.mesh.Triangles, mesh.Triangle{base, base + 1, base + 2})
	}
}

// interpolate places the surface crossing on edge e of the cube at (x,y,z)
func (t *traversal) interpolate(x, y, z, e int) mesh.Vertex {
	c0, c1 := edgeCorners[e][0], edgeCorners[e][1]
	v0, v1 := t.values[c0], t.values[c1]

	mu := 0.5
	if v1 != v0 {
		mu = (t.isovalue - v0) / (v1 - v0)
	}
	if mu < 0 {
		mu = 0
	} else if mu > 1 {
		mu = 1
	}

	o0, o1 := cornerOffsets[c0], cornerOffsets[c1]
	p0 := [3]int{x + o0[0]*t.step, y + o0[1]*t.step, z + o0[2]*t.step}
	p1 := [3]int{x + o1[0]*t.step, y + o1[1]*t.step, z + o1[2]*t.step}

	pos := r3.Vec{
		X: (float64(p0[0]) + mu*float64(p1[0]-p0[0])) * t.spacing.X,
		Y: (float64(p0[1]) + mu*float64(p1[1]-p0[1])) * t.spacing.Y,
		Z: (float64(p0[2]) + mu*float64(p1[2]-p0[2])) * t.spacing.Z,
	}

	normal := mesh.DefaultNormal
	if t.field != nil {
		n0 := t.field.Normal(p0[0], p0[1], p0[2])
		n1 := t.field.Normal(p1[0], p1[1], p1[2])
		normal = mesh.Normalize(r3.Add(n0, r3.Scale(mu, r3.Sub(n1, n0))))
	}
	return mesh.Vertex{Position: pos, Normal: normal}
}

// truncate drops every triangle past max together with its vertices
func (t *traversal) truncate(max int) {
	t.mesh.Triangles = t.mesh.Triangles[:max]
	t.mesh.Vertices = t.mesh.Vertices[:3*max]
}

// faceNormals gives each vertex the normal of the triangle that owns it
func (t *traversal) faceNormals() {
	for _, tri := range t.mesh.Triangles {
		n := mesh.Normalize(t.mesh.FaceNormal(tri))
		for _, idx := range tri {
			t.mesh.Vertices[idx].Normal = n
		}
	}
}
