package volume

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesurf/internal/models"
	"slicesurf/pkg/logging"
)

// minUsefulSlices is the smallest stack that yields a volume with interior cubes
const minUsefulSlices = 3

// Assemble builds a volume from a slice series. Malformed input never fails:
// mismatched slices are dropped, short or long pixel buffers are padded or
// truncated, and unusable series produce an empty volume. Every such repair
// is reported through logger.
//
// Slices are ordered by SliceLocation. The z spacing is the series
// SliceThickness when positive, otherwise the distance between the first two
// ordered slices, otherwise 1.
func Assemble(series models.Series, logger logging.Logger) *Volume {
	logger = logging.OrNop(logger)

	if len(series.Slices) == 0 {
		logger.Warningf("series has no slices, returning empty volume")
		return Empty(r3.Vec{X: 1, Y: 1, Z: 1})
	}

	slices := make([]models.Slice, len(series.Slices))
	copy(slices, series.Slices)
	sort.SliceStable(slices, func(i, j int) bool {
		return slices[i].SliceLocation < slices[j].SliceLocation
	})

	ref := slices[0]
	if ref.Rows <= 0 || ref.Columns <= 0 {
		logger.Warningf("first slice has no pixels (%dx%d), returning empty volume", ref.Columns, ref.Rows)
		return Empty(r3.Vec{X: 1, Y: 1, Z: 1})
	}

	kept := slices[:0]
	for i, s := range slices {
		if s.Rows != ref.Rows || s.Columns != ref.Columns {
			logger.Warningf("dropping slice %d at %.3f mm: %dx%d does not match %dx%d",
				i, s.SliceLocation, s.Columns, s.Rows, ref.Columns, ref.Rows)
			continue
		}
		kept = append(kept, s)
	}
	slices = kept

	if len(slices) < minUsefulSlices {
		logger.Warningf("only %d slices available, volume will be degenerate", len(slices))
	}

	bits := 16
	if ref.BitsAllocated > 0 && ref.BitsAllocated <= 8 {
		bits = 8
	} else if ref.BitsAllocated != 16 {
		logger.Warningf("unsupported bits allocated %d, storing as 16-bit", ref.BitsAllocated)
	}

	spacing := r3.Vec{
		X: positiveOr(ref.PixelSpacing[1], 1),
		Y: positiveOr(ref.PixelSpacing[0], 1),
		Z: sliceSpacing(series.SliceThickness, slices),
	}

	modality := ParseModality(series.Modality)
	orientation := OrientationFromCosines(series.Orientation)
	layout := Layout{
		Dims:        [3]int{ref.Columns, ref.Rows, len(slices)},
		Spacing:     spacing,
		Bits:        bits,
		Signed:      ref.Signed,
		Modality:    modality,
		Orientation: orientation,
		Transform:   DefaultTransform(modality),
	}
	normal := orientation.Col(2)
	loc := slices[0].SliceLocation
	layout.Origin = r3.Vec{X: normal[0] * loc, Y: normal[1] * loc, Z: normal[2] * loc}

	if modality == CT {
		layout.Transform = rescaleFrom(slices)
	}
	for _, s := range slices {
		if s.WindowCenter != nil && s.WindowWidth != nil {
			layout.Window = &Window{Center: *s.WindowCenter, Width: *s.WindowWidth}
			break
		}
	}

	bytesPerVoxel := bits / 8
	sliceBytes := ref.Rows * ref.Columns * bytesPerVoxel
	data := make([]byte, sliceBytes*len(slices))
	for i, s := range slices {
		n := len(s.PixelData)
		switch {
		case n < sliceBytes:
			logger.Warningf("slice %d has %d bytes, padding to %d", i, n, sliceBytes)
		case n > sliceBytes:
			logger.Debugf("slice %d has %d bytes, truncating to %d", i, n, sliceBytes)
		}
		copy(data[i*sliceBytes:(i+1)*sliceBytes], s.PixelData)
	}

	v, err := New(layout, data)
	if err != nil {
		// layout is validated above, so this only trips on programming errors
		logger.Errorf("failed to assemble volume: %v", err)
		return Empty(spacing)
	}
	logger.Debugf("assembled %s volume %dx%dx%d, spacing %.3fx%.3fx%.3f mm",
		modality, layout.Dims[0], layout.Dims[1], layout.Dims[2], spacing.X, spacing.Y, spacing.Z)
	return v
}

func sliceSpacing(thickness float64, slices []models.Slice) float64 {
	if thickness > 0 {
		return thickness
	}
	if len(slices) >= 2 {
		if d := math.Abs(slices[1].SliceLocation - slices[0].SliceLocation); d > 0 {
			return d
		}
	}
	return 1
}

func rescaleFrom(slices []models.Slice) Rescale {
	r := Rescale{Slope: 1}
	for _, s := range slices {
		if s.RescaleSlope != nil || s.RescaleIntercept != nil {
			if s.RescaleSlope != nil {
				r.Slope = *s.RescaleSlope
			}
			if s.RescaleIntercept != nil {
				r.Intercept = *s.RescaleIntercept
			}
			break
		}
	}
	return r
}

func positiveOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
