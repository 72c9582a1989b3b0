package models

// Slice represents a single 2D cross-section as delivered by the ingestion
// collaborator (a DICOM reader, an image-stack loader, ...).
type Slice struct {
	// Rows and Columns are the pixel dimensions of the slice
	Rows    int
	Columns int

	// BitsAllocated is the storage size of one sample (8 or 16)
	BitsAllocated int

	// Signed is set when 16-bit samples are two's complement
	Signed bool

	// PixelSpacing is the physical distance in mm between the centers of
	// adjacent rows and adjacent columns, in that order
	PixelSpacing [2]float64

	// SliceLocation is the position of the slice along the stacking axis in mm
	SliceLocation float64

	// PixelData holds the raw samples, row-major, little-endian
	PixelData []byte

	// RescaleSlope and RescaleIntercept convert raw samples to physical
	// units. Only meaningful for CT, nil when the source carries none.
	RescaleSlope     *float64
	RescaleIntercept *float64

	// WindowCenter and WindowWidth are the display window suggested by the
	// acquisition, nil when unknown
	WindowCenter *float64
	WindowWidth  *float64
}

// BytesPerSample returns the storage size of one sample in bytes
func (s Slice) BytesPerSample() int {
	if s.BitsAllocated > 8 {
		return 2
	}
	return 1
}

// Series is an ordered collection of slices sharing one acquisition
type Series struct {
	// Modality is the series-level modality string ("CT", "MR", ...)
	Modality string

	// SliceThickness, when positive, overrides the spacing derived from
	// slice locations
	SliceThickness float64

	// Orientation holds the row and column direction cosines of the slices.
	// The zero value means the axes are aligned with patient space.
	Orientation [6]float64

	// Slices is the slice stack, in any order
	Slices []Slice
}
