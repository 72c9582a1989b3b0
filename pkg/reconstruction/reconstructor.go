package reconstruction

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/pkg/gradient"
	"slicesurf/pkg/isovalue"
	"slicesurf/pkg/logging"
	"slicesurf/pkg/marching"
	"slicesurf/pkg/mesh"
	"slicesurf/pkg/repair"
	"slicesurf/pkg/volume"
)

// Stage names used for progress reports and timings
const (
	StageAnalyze     = "analyze"
	StageGradient    = "gradient"
	StageTriangulate = "triangulate"
	StageWeld        = "weld"
	StageCleanup     = "cleanup"
)

// Params holds the reconstruction parameters.
// These parameters control how the isovalue is chosen and how the extracted
// surface is cleaned up.
type Params struct {
	// Isovalue is the surface threshold. When nil it is chosen by the
	// isovalue advisor, guided by Tissue.
	Isovalue *float64

	// Tissue selects a preset threshold when Isovalue is nil
	Tissue isovalue.Tissue

	// SampleCount is the number of voxels the advisor samples
	SampleCount int

	// FullAnalysis makes the advisor also search the value histogram for peaks
	FullAnalysis bool

	// Downsample is the step of the normal field in voxels. Larger values
	// trade normal quality for speed on big volumes.
	Downsample int

	// Limits bounds the triangulation
	Limits marching.Limits

	// WeldPrecision is the number of weld cells per millimetre
	WeldPrecision float64

	// FixNormals flips the mesh when its normals point inward
	FixNormals bool

	// SmoothIterations and SmoothFactor configure Laplacian smoothing.
	// No smoothing is done when SmoothIterations is zero.
	SmoothIterations int
	SmoothFactor     float64

	// CloseHoles enables fan filling of small boundary loops
	CloseHoles bool
	Holes      repair.HoleOptions

	// MinComponentSize drops fragments with fewer triangles. Zero keeps all.
	MinComponentSize int

	// WorldSpace maps the mesh into patient coordinates using the volume
	// origin and orientation
	WorldSpace bool

	// Workers bounds the concurrency of the sampling stage, NumCPU when zero
	Workers int
}

// DefaultParams returns the parameters used when nothing is configured
func DefaultParams() Params {
	return Params{
		SampleCount:      isovalue.DefaultSampleCount,
		Downsample:       1,
		Limits:           marching.Limits{MaxTriangles: 5000000, Timeout: 2 * time.Minute},
		WeldPrecision:    mesh.DefaultWeldPrecision,
		FixNormals:       true,
		SmoothIterations: 0,
		SmoothFactor:     0.5,
		CloseHoles:       true,
		Holes:            repair.DefaultHoleOptions(),
		MinComponentSize: 0,
	}
}

// Result is the outcome of a reconstruction.
type Result struct {
	// Mesh is the welded and cleaned surface
	Mesh mesh.Mesh

	// Isovalue is the threshold the surface was extracted at
	Isovalue float64

	// Suggestions are the advisor's candidate thresholds, useful for a retry
	// when the mesh came out empty
	Suggestions []float64
	Analysis    isovalue.Analysis

	// Incomplete is set when triangulation stopped early; Reason tells why
	Incomplete bool
	Reason     marching.StopReason

	// Spacing and Origin of the source volume, for placing the mesh
	Spacing r3.Vec
	Origin  r3.Vec

	// World maps volume-local millimetres to patient space
	World mgl64.Mat4

	Metrics mesh.Metrics
	Holes   repair.HoleReport

	// Timings holds the wall time of each stage
	Timings map[string]time.Duration
}

// Reconstructor turns a volume into a cleaned isosurface mesh.
//
// The reconstruction process consists of several steps:
// 1. Sampling the value distribution and estimating the normal field, concurrently
// 2. Choosing the isovalue
// 3. Triangulating with marching cubes
// 4. Welding shared vertices
// 5. Cleaning up: normal orientation, smoothing, hole closing and fragment removal
// 6. Placing the mesh and computing quality metrics
type Reconstructor struct {
	params   Params
	logger   logging.Logger
	progress logging.ProgressFunc
	advisor  *isovalue.Advisor
}

// NewReconstructor creates a reconstructor. logger and progress may be nil.
func NewReconstructor(params Params, logger logging.Logger, progress logging.ProgressFunc) *Reconstructor {
	logger = logging.OrNop(logger)
	advisor := isovalue.NewAdvisor(logger)
	advisor.Workers = params.Workers
	return &Reconstructor{
		params:   params,
		logger:   logger,
		progress: progress,
		advisor:  advisor,
	}
}

// Process runs the complete reconstruction pipeline on vol.
//
// Malformed input does not fail: an empty volume or a threshold that crosses
// no voxels yields an empty mesh and a warning. A triangulation cut short by
// its limits or by ctx is returned with Incomplete set. The only error is a
// context that ends before triangulation starts.
func (r *Reconstructor) Process(ctx context.Context, vol *volume.Volume) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Spacing: vol.Spacing(),
		Origin:  vol.Origin(),
		World:   vol.WorldTransform(),
		Timings: make(map[string]time.Duration),
	}
	if vol.IsEmpty() {
		r.logger.Warningf("volume has no voxels, nothing to reconstruct")
		return res, nil
	}
	dims := vol.Dims()
	r.logger.Infof("reconstructing %s volume %dx%dx%d (%s voxels)",
		vol.Modality(), dims[0], dims[1], dims[2], humanize.Comma(int64(vol.Len())))

	// Step 1: the advisor and the normal field only read the volume, so they
	// run side by side
	var (
		field                 *gradient.Field
		analyzeTime, gradTime time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		an, err := r.advisor.Analyze(gctx, vol, r.params.SampleCount, r.params.FullAnalysis)
		if err != nil {
			return fmt.Errorf("isovalue analysis failed: %w", err)
		}
		res.Analysis = an
		res.Suggestions = an.Suggestions
		analyzeTime = time.Since(start)
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		f, err := gradient.Estimate(gctx, vol, r.params.Downsample)
		if err != nil {
			return err
		}
		field = f
		gradTime = time.Since(start)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Timings[StageAnalyze] = analyzeTime
	res.Timings[StageGradient] = gradTime
	r.progress.Report(StageAnalyze, 1, 1)
	r.progress.Report(StageGradient, 1, 1)

	// Step 2: choose the threshold
	iso, ok, err := r.chooseIsovalue(ctx, vol, res.Analysis)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.logger.Warningf("no isovalue could be determined, returning empty mesh")
		return res, nil
	}
	res.Isovalue = iso
	r.logger.Infof("using isovalue %.2f", iso)

	// Step 3: marching cubes
	tri := marching.Triangulate(ctx, vol, field, iso, marching.Options{
		Limits:   r.params.Limits,
		Logger:   r.logger,
		Progress: r.progress,
	})
	res.Incomplete = tri.Incomplete
	res.Reason = tri.Reason
	res.Timings[StageTriangulate] = tri.Elapsed
	if tri.Mesh.IsEmpty() {
		r.logger.Warningf("no surface at isovalue %.2f, try one of %v", iso, res.Suggestions)
		return res, nil
	}

	// Step 4: merge the vertices shared by neighbouring cubes
	start := time.Now()
	m := mesh.Weld(tri.Mesh.Vertices, tri.Mesh.Triangles, r.params.WeldPrecision)
	res.Timings[StageWeld] = time.Since(start)
	r.progress.Report(StageWeld, 1, 1)
	r.logger.Debugf("welded %s vertices into %s",
		humanize.Comma(int64(len(tri.Mesh.Vertices))), humanize.Comma(int64(len(m.Vertices))))

	// Step 5: cleanup
	start = time.Now()
	m = r.cleanup(m, res)
	res.Timings[StageCleanup] = time.Since(start)
	r.progress.Report(StageCleanup, 1, 1)

	// Step 6: placement and metrics
	if r.params.WorldSpace {
		m = m.Transform(res.World)
	}
	res.Mesh = m
	res.Metrics = mesh.Stats(&m)

	r.logger.Infof("mesh has %s vertices and %s triangles, %d boundary edges",
		humanize.Comma(int64(res.Metrics.Vertices)), humanize.Comma(int64(res.Metrics.Triangles)),
		res.Metrics.BoundaryEdges)
	return res, nil
}

// chooseIsovalue picks the explicit threshold, the tissue preset, or the first
// suggestion of the advisor, in that order
func (r *Reconstructor) chooseIsovalue(ctx context.Context, vol *volume.Volume, an isovalue.Analysis) (float64, bool, error) {
	if r.params.Isovalue != nil {
		return *r.params.Isovalue, true, nil
	}
	_, hasWindow := vol.Window()
	if r.params.Tissue == isovalue.Auto && !hasWindow {
		if len(an.Suggestions) == 0 {
			return 0, false, nil
		}
		return an.Suggestions[0], true, nil
	}
	iso, err := r.advisor.ForTissue(ctx, vol, r.params.Tissue)
	if err != nil {
		return 0, false, err
	}
	return iso, true, nil
}

// cleanup applies the configured repair steps in order
func (r *Reconstructor) cleanup(m mesh.Mesh, res *Result) mesh.Mesh {
	if r.params.FixNormals {
		var flipped bool
		m, flipped = repair.OrientNormals(m)
		if flipped {
			r.logger.Debugf("normals pointed inward, flipped mesh")
		}
	}

	if r.params.SmoothIterations > 0 {
		m = repair.Smooth(m, r.params.SmoothIterations, r.params.SmoothFactor)
	}

	if r.params.CloseHoles {
		m, res.Holes = repair.CloseHoles(m, r.params.Holes)
		switch {
		case res.Holes.Skipped:
			r.logger.Warningf("%d boundary edges, hole closing skipped", res.Holes.BoundaryEdges)
		case res.Holes.NonSimple > 0:
			r.logger.Warningf("%d branching boundary components left open", res.Holes.NonSimple)
		}
		if res.Holes.Filled > 0 {
			r.logger.Debugf("filled %d holes with %d triangles", res.Holes.Filled, res.Holes.TrianglesAdded)
		}
	}

	if r.params.MinComponentSize > 0 {
		before := len(m.Triangles)
		m = repair.FilterComponents(m, r.params.MinComponentSize)
		if dropped := before - len(m.Triangles); dropped > 0 {
			r.logger.Debugf("dropped %d triangles in small components", dropped)
		}
	}
	return m
}
