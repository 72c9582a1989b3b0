// Package ingest loads a stack of grayscale slice images from a directory into
// a models.Series.
//
// The images are ordered by the number embedded in their file names. An
// optional series.yaml sidecar in the same directory carries the acquisition
// metadata that plain images lack:
//
//	modality: CT
//	pixelSpacing: [0.5, 0.5]
//	sliceThickness: 2.5
//	rescaleSlope: 1
//	rescaleIntercept: -1024
//	windowCenter: 40
//	windowWidth: 400
//	signed: false
//	orientation: [1, 0, 0, 0, 1, 0]
package ingest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"slicesurf/internal/models"
)

// SidecarName is the metadata file looked up next to the images
const SidecarName = "series.yaml"

// ErrNoImages is returned when a directory holds no supported image files
var ErrNoImages = errors.New("no slice images found")

var supportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
	".bmp":  true,
}

// Sidecar is the series metadata stored in series.yaml
type Sidecar struct {
	Modality         string     `yaml:"modality"`
	PixelSpacing     [2]float64 `yaml:"pixelSpacing"`
	SliceThickness   float64    `yaml:"sliceThickness"`
	RescaleSlope     *float64   `yaml:"rescaleSlope,omitempty"`
	RescaleIntercept *float64   `yaml:"rescaleIntercept,omitempty"`
	WindowCenter     *float64   `yaml:"windowCenter,omitempty"`
	WindowWidth      *float64   `yaml:"windowWidth,omitempty"`
	Signed           bool       `yaml:"signed"`
	Orientation      [6]float64 `yaml:"orientation"`
}

// defaultSidecar describes an MRI series with unit spacing
func defaultSidecar() Sidecar {
	return Sidecar{
		Modality:       "MR",
		PixelSpacing:   [2]float64{1, 1},
		SliceThickness: 1,
	}
}

// ReadSidecar reads series metadata from path. Fields missing from the file
// keep their defaults.
func ReadSidecar(path string) (Sidecar, error) {
	sc := defaultSidecar()
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, err
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("error parsing %s: %w", path, err)
	}
	return sc, nil
}

// WriteSidecar stores series metadata in dir
func WriteSidecar(dir string, sc Sidecar) error {
	data, err := yaml.Marshal(sc)
	if err != nil {
		return fmt.Errorf("error marshaling sidecar: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, SidecarName), data, 0644)
}

// extractNumber returns the number formed by the digits in a file name, 0
// when there are none
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return 0
	}
	num, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return num
}

// ListImages returns the supported image files of dir in slice order
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	// Files with equal numbers fall back to name order
	sort.SliceStable(files, func(i, j int) bool {
		ni, nj := extractNumber(files[i]), extractNumber(files[j])
		if ni != nj {
			return ni < nj
		}
		return files[i] < files[j]
	})
	return files, nil
}

// LoadSeries loads every slice image in dir together with the optional
// series.yaml sidecar. Slices are placed one slice thickness apart. Images
// with 16-bit channels keep their depth, everything else is stored as 8-bit
// gray.
func LoadSeries(dir string) (*models.Series, error) {
	files, err := ListImages(dir)
	if err != nil {
		return nil, err
	}

	sc := defaultSidecar()
	sidecarPath := filepath.Join(dir, SidecarName)
	if _, err := os.Stat(sidecarPath); err == nil {
		if sc, err = ReadSidecar(sidecarPath); err != nil {
			return nil, err
		}
	}

	series := &models.Series{
		Modality:       sc.Modality,
		SliceThickness: sc.SliceThickness,
		Orientation:    sc.Orientation,
		Slices:         make([]models.Slice, 0, len(files)),
	}

	bits := 0
	for i, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		// The first image decides the sample depth of the whole series
		if bits == 0 {
			bits = bitDepth(img)
		}

		bounds := img.Bounds()
		series.Slices = append(series.Slices, models.Slice{
			Rows:             bounds.Dy(),
			Columns:          bounds.Dx(),
			BitsAllocated:    bits,
			Signed:           sc.Signed && bits == 16,
			PixelSpacing:     sc.PixelSpacing,
			SliceLocation:    float64(i) * sc.SliceThickness,
			PixelData:        grayBytes(img, bits),
			RescaleSlope:     sc.RescaleSlope,
			RescaleIntercept: sc.RescaleIntercept,
			WindowCenter:     sc.WindowCenter,
			WindowWidth:      sc.WindowWidth,
		})
	}
	return series, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// bitDepth returns 16 for images with 16-bit channels and 8 otherwise
func bitDepth(img image.Image) int {
	switch img.ColorModel() {
	case color.Gray16Model, color.RGBA64Model, color.NRGBA64Model:
		return 16
	}
	return 8
}

// grayBytes converts img to row-major little-endian gray samples
func grayBytes(img image.Image, bits int) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if bits == 16 {
		data := make([]byte, width*height*2)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				binary.LittleEndian.PutUint16(data[(y*width+x)*2:], g.Y)
			}
		}
		return data
	}

	data := make([]byte, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			data[y*width+x] = g.Y
		}
	}
	return data
}
