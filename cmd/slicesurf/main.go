package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"slicesurf/pkg/config"
	"slicesurf/pkg/ingest"
	"slicesurf/pkg/isovalue"
	"slicesurf/pkg/logging"
	"slicesurf/pkg/phantom"
	"slicesurf/pkg/reconstruction"
	"slicesurf/pkg/stl"
	"slicesurf/pkg/visualization"
	"slicesurf/pkg/volume"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing 2D slice images and an optional series.yaml")
	phantomName := flag.String("phantom", "", "Reconstruct a synthetic volume instead: sphere, box or shell")
	size := flag.Int("size", 64, "Edge length in voxels of the synthetic volume")
	outputPath := flag.String("output", "output.stl", "Output STL filename, .gz to compress")
	configPath := flag.String("config", "", "YAML or TOML configuration file")
	isoValue := flag.Float64("isovalue", 0, "Surface threshold in physical units (default: chosen automatically)")
	tissue := flag.String("tissue", "", "Preset threshold: auto, skin, bone, brain or soft-tissue")
	suggest := flag.Bool("suggest", false, "Print isovalue suggestions and exit")
	timeout := flag.Duration("timeout", 0, "Triangulation time budget (default from config)")
	maxTriangles := flag.Int("max-triangles", 0, "Triangle ceiling (default from config)")
	step := flag.Int("step", 0, "Marching cube edge length in voxels (default from config)")
	region := flag.String("region", "", "Triangulate only cube origins in x0,y0,z0:x1,y1,z1 (voxel indices, max exclusive)")
	logFile := flag.String("log", "", "Write the log to a rotating file instead of stderr")
	verbose := flag.Bool("verbose", false, "Log debug messages")
	writeConfig := flag.String("write-config", "", "Write the default configuration to this path and exit")
	previewDir := flag.String("preview", "", "Save z-axis slices with the isosurface outlined to this directory")
	flag.Parse()

	if *writeConfig != "" {
		if err := config.CreateDefaultConfigFile(*writeConfig); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *writeConfig)
		return
	}

	// Validate inputs
	if (*inputDir == "") == (*phantomName == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -input and -phantom is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	// Flags given on the command line override the configuration
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "isovalue":
			cfg.Processing.Isovalue = isoValue
		case "tissue":
			cfg.Processing.Tissue = *tissue
		case "timeout":
			cfg.Processing.TimeoutSeconds = timeout.Seconds()
		case "max-triangles":
			cfg.Processing.MaxTriangles = *maxTriangles
		case "step":
			cfg.Processing.Step = *step
		case "region":
			cfg.Processing.Region, flagErr = config.ParseRegion(*region)
		case "log":
			cfg.Log.File = *logFile
		case "verbose":
			if *verbose {
				cfg.Log.Level = logging.DebugLevel.String()
			}
		}
	})
	if flagErr != nil {
		log.Fatalf("Invalid flag: %v", flagErr)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(cfg.LogConfig())
	defer logger.Close()

	vol, err := loadVolume(*inputDir, *phantomName, *size, logger)
	if err != nil {
		log.Fatalf("Failed to load volume: %v", err)
	}
	dims := vol.Dims()
	fmt.Printf("Volume: %dx%dx%d %s, spacing %.3gx%.3gx%.3g mm\n",
		dims[0], dims[1], dims[2], vol.Modality(), vol.Spacing().X, vol.Spacing().Y, vol.Spacing().Z)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *suggest {
		printSuggestions(ctx, vol, cfg, logger)
		return
	}

	params, err := cfg.ReconstructionParams()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	progress := func(stage string, completed, total int) {
		if total > 0 && completed%32 != 0 && completed != total {
			return
		}
		logger.Debugf("%s %d/%d", stage, completed, total)
	}

	fmt.Println("Starting surface reconstruction...")
	startTime := time.Now()
	res, err := reconstruction.NewReconstructor(params, logger, progress).Process(ctx, vol)
	if err != nil {
		log.Fatalf("Reconstruction failed: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nReconstruction finished in %.2f seconds at isovalue %.2f\n", processingTime.Seconds(), res.Isovalue)
	if res.Incomplete {
		fmt.Printf("Warning: triangulation stopped early (%s), the mesh is partial\n", res.Reason)
		fmt.Println("Retry with -region to triangulate a smaller part of the volume")
	}
	printMetrics(res)

	if *previewDir != "" {
		viewer := visualization.NewViewer(vol)
		viewer.SetIsovalue(res.Isovalue)
		if err := viewer.SaveSliceSequence("z", *previewDir); err != nil {
			log.Printf("Warning: Failed to save preview slices: %v", err)
		} else {
			fmt.Printf("Preview slices saved to: %s\n", *previewDir)
		}
	}

	if res.Mesh.IsEmpty() {
		fmt.Printf("No surface found. Suggested isovalues: %s\n", formatValues(res.Suggestions))
		os.Exit(2)
	}

	opts := stl.Options{
		ASCII: strings.EqualFold(cfg.Output.Format, config.FormatASCII),
		Name:  cfg.Output.Name,
	}
	if err := stl.Save(*outputPath, &res.Mesh, opts); err != nil {
		log.Fatalf("Failed to save STL: %v", err)
	}
	if info, err := os.Stat(*outputPath); err == nil {
		fmt.Printf("Output 3D model saved to: %s (%s)\n", *outputPath, humanize.Bytes(uint64(info.Size())))
	}
}

// loadVolume reads the slice directory or builds the requested phantom
func loadVolume(inputDir, phantomName string, size int, logger logging.Logger) (*volume.Volume, error) {
	if inputDir != "" {
		series, err := ingest.LoadSeries(filepath.Clean(inputDir))
		if err != nil {
			return nil, err
		}
		return volume.Assemble(*series, logger), nil
	}

	dims := [3]int{size, size, size}
	center := phantom.Center(dims)
	r := float64(size) / 4
	switch strings.ToLower(phantomName) {
	case "sphere":
		return phantom.Sphere(dims, center, r, 1000, 0)
	case "box":
		lo, hi := size/4, size-size/4
		return phantom.Box(dims, [3]int{lo, lo, lo}, [3]int{hi, hi, hi}, 1000, 0)
	case "shell":
		return phantom.Shell(dims, center, r, 1.5*r, 1000, 0)
	}
	return nil, fmt.Errorf("unknown phantom %q", phantomName)
}

func printSuggestions(ctx context.Context, vol *volume.Volume, cfg *config.Config, logger logging.Logger) {
	advisor := isovalue.NewAdvisor(logger)
	advisor.Workers = cfg.Processing.NumWorkers
	an, err := advisor.Analyze(ctx, vol, cfg.Advisor.SampleCount, true)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	p := an.Percentiles
	fmt.Printf("Sampled %s voxels, range [%.1f, %.1f]\n", humanize.Comma(int64(an.Samples)), an.Min, an.Max)
	fmt.Printf("Percentiles: P5 %.1f  P25 %.1f  P50 %.1f  P75 %.1f  P95 %.1f\n", p.P5, p.P25, p.P50, p.P75, p.P95)
	if an.HasBackground {
		fmt.Printf("Background threshold: %.1f\n", an.Background)
	}
	for _, peak := range an.Peaks {
		fmt.Printf("Histogram peak at %.1f (%s voxels)\n", peak.Value, humanize.Comma(int64(peak.Count)))
	}
	fmt.Printf("Suggested isovalues: %s\n", formatValues(an.Suggestions))

	for _, t := range []isovalue.Tissue{isovalue.Skin, isovalue.Bone, isovalue.Brain, isovalue.SoftTissue} {
		iso, err := advisor.ForTissue(ctx, vol, t)
		if err != nil {
			log.Fatalf("Analysis failed: %v", err)
		}
		fmt.Printf("  %-12s %.1f\n", t, iso)
	}
}

func printMetrics(res *reconstruction.Result) {
	m := res.Metrics
	fmt.Printf("\nMesh Metrics:\n")
	fmt.Printf("=======================================\n")
	fmt.Printf("Vertices: %s\n", humanize.Comma(int64(m.Vertices)))
	fmt.Printf("Triangles: %s\n", humanize.Comma(int64(m.Triangles)))
	fmt.Printf("Boundary edges: %d, non-manifold edges: %d\n", m.BoundaryEdges, m.NonManifoldEdges)
	fmt.Printf("Surface area: %s mm²\n", humanize.CommafWithDigits(m.Area, 1))
	fmt.Printf("Enclosed volume: %s mm³\n", humanize.CommafWithDigits(m.Volume, 1))
	fmt.Printf("Edge length: %.3f ± %.3f mm\n", m.MeanEdgeLength, m.StdEdgeLength)
	if res.Holes.Filled > 0 {
		fmt.Printf("Holes filled: %d (%d triangles)\n", res.Holes.Filled, res.Holes.TrianglesAdded)
	}

	fmt.Println("\nStage timings:")
	for _, stage := range []string{
		reconstruction.StageAnalyze, reconstruction.StageGradient, reconstruction.StageTriangulate,
		reconstruction.StageWeld, reconstruction.StageCleanup,
	} {
		if d, ok := res.Timings[stage]; ok {
			fmt.Printf("- %s: %v\n", stage, d.Round(time.Millisecond))
		}
	}
}

func formatValues(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.1f", v)
	}
	return strings.Join(parts, ", ")
}
