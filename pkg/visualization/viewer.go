// Package visualization renders cross sections of a volume as images, with
// an optional outline of the voxels that cross the isovalue. The previews
// help to judge an isovalue before triangulating.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"slicesurf/pkg/volume"
)

// outlineColor marks voxels on the isosurface
var outlineColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// Viewer extracts 2D slices from a volume along the three grid axes
type Viewer struct {
	vol *volume.Volume

	// lo and hi map physical values onto the gray ramp
	lo, hi float64

	// iso is outlined when hasIso is set
	iso    float64
	hasIso bool
}

// NewViewer creates a viewer for vol. The gray ramp spans the display window
// when the volume carries one and the full value range otherwise.
func NewViewer(vol *volume.Volume) *Viewer {
	v := &Viewer{vol: vol}
	if w, ok := vol.Window(); ok && w.Width > 0 {
		v.lo, v.hi = w.Center-w.Width/2, w.Center+w.Width/2
		return v
	}
	rawLo, rawHi := vol.RawRange()
	a := vol.Transform().Apply(float64(rawLo))
	b := vol.Transform().Apply(float64(rawHi))
	v.lo, v.hi = math.Min(a, b), math.Max(a, b)
	return v
}

// SetIsovalue enables the outline of voxels at or above iso that touch a
// voxel below it
func (v *Viewer) SetIsovalue(iso float64) {
	v.iso = iso
	v.hasIso = true
}

// gray maps a physical value onto the 16-bit ramp
func (v *Viewer) gray(value float64) uint16 {
	if v.hi <= v.lo {
		return 0
	}
	t := (value - v.lo) / (v.hi - v.lo)
	return uint16(math.Max(0, math.Min(65535, t*65535)))
}

// sliceAxes returns the image width and height for a slice along axis, the
// number of positions, and a mapping from image pixel to voxel
func (v *Viewer) sliceAxes(axis string, position int) (int, int, func(i, j int) [3]int, error) {
	d := v.vol.Dims()
	var w, h, n int
	var at func(i, j int) [3]int
	switch strings.ToLower(axis) {
	case "x":
		// YZ plane
		w, h, n = d[2], d[1], d[0]
		at = func(i, j int) [3]int { return [3]int{position, j, i} }
	case "y":
		// XZ plane
		w, h, n = d[0], d[2], d[1]
		at = func(i, j int) [3]int { return [3]int{i, position, j} }
	case "z":
		// XY plane
		w, h, n = d[0], d[1], d[2]
		at = func(i, j int) [3]int { return [3]int{i, j, position} }
	default:
		return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	if position < 0 || position >= n {
		return 0, 0, nil, fmt.Errorf("position %d outside [0,%d) along %s", position, n, axis)
	}
	return w, h, at, nil
}

// onSurface reports whether voxel p is at or above the isovalue with a face
// neighbour below it
func (v *Viewer) onSurface(p [3]int) bool {
	if v.vol.ScalarAt(p[0], p[1], p[2]) < v.iso {
		return false
	}
	for _, o := range [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}} {
		x, y, z := p[0]+o[0], p[1]+o[1], p[2]+o[2]
		if v.vol.InBounds(x, y, z) && v.vol.ScalarAt(x, y, z) < v.iso {
			return true
		}
	}
	return false
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis.
// Without an isovalue the image is 16-bit gray, with one it is RGBA with the
// surface voxels outlined.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	w, h, at, err := v.sliceAxes(axis, position)
	if err != nil {
		return nil, err
	}

	if !v.hasIso {
		img := image.NewGray16(image.Rect(0, 0, w, h))
		for j := 0; j < h; j++ {
			for i := 0; i < w; i++ {
				p := at(i, j)
				img.SetGray16(i, j, color.Gray16{Y: v.gray(v.vol.ScalarAt(p[0], p[1], p[2]))})
			}
		}
		return img, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			p := at(i, j)
			if v.onSurface(p) {
				img.SetRGBA(i, j, outlineColor)
				continue
			}
			g := uint8(v.gray(v.vol.ScalarAt(p[0], p[1], p[2])) >> 8)
			img.SetRGBA(i, j, color.RGBA{R: g, G: g, B: g, A: 255})
		}
	}
	return img, nil
}

// SaveSlice saves an extracted slice as PNG, or JPEG for .jpg and .jpeg names
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as slice_<axis>_NNN.png
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if _, _, _, err := v.sliceAxes(axis, 0); err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	d := v.vol.Dims()
	n := d[strings.Index("xyz", strings.ToLower(axis))]
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", strings.ToLower(axis), pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	return nil
}
