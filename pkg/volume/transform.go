package volume

import (
	"fmt"
	"strings"
)

// Modality identifies the acquisition type of a volume
type Modality int

const (
	// MRI volumes store intensities without a physical unit
	MRI Modality = iota

	// CT volumes store raw samples that rescale to Hounsfield Units
	CT
)

// ParseModality maps a series-level modality string to a Modality.
// "CT" (any case) is CT; everything else is treated as MRI.
func ParseModality(s string) Modality {
	if strings.EqualFold(strings.TrimSpace(s), "CT") {
		return CT
	}
	return MRI
}

func (m Modality) String() string {
	switch m {
	case CT:
		return "CT"
	case MRI:
		return "MRI"
	default:
		return fmt.Sprintf("Modality(%d)", int(m))
	}
}

// ValueTransform converts raw stored samples to physical values. A volume
// carries exactly one transform and every reader goes through it.
type ValueTransform interface {
	// Apply maps a raw sample to its physical value
	Apply(raw float64) float64

	// Invert maps a physical value back to the raw scale
	Invert(value float64) float64
}

// Identity returns raw samples unchanged. Used for MRI.
type Identity struct{}

func (Identity) Apply(raw float64) float64    { return raw }
func (Identity) Invert(value float64) float64 { return value }

// Rescale is the linear CT rescale: value = raw*Slope + Intercept.
type Rescale struct {
	Slope     float64
	Intercept float64
}

func (r Rescale) Apply(raw float64) float64 {
	return raw*r.Slope + r.Intercept
}

func (r Rescale) Invert(value float64) float64 {
	if r.Slope == 0 {
		return 0
	}
	return (value - r.Intercept) / r.Slope
}

// DefaultTransform returns the transform used when none is given for m
func DefaultTransform(m Modality) ValueTransform {
	if m == CT {
		return Rescale{Slope: 1}
	}
	return Identity{}
}

// Window is a display window carried through from acquisition metadata
type Window struct {
	Center float64
	Width  float64
}
