package isovalue

import (
	"context"
	"fmt"
	"strings"

	"slicesurf/pkg/logging"
	"slicesurf/pkg/volume"
)

// Tissue selects a preset isovalue
type Tissue int

const (
	Auto Tissue = iota
	Skin
	Bone
	Brain
	SoftTissue
)

var tissueNames = map[Tissue]string{
	Auto:       "auto",
	Skin:       "skin",
	Bone:       "bone",
	Brain:      "brain",
	SoftTissue: "soft-tissue",
}

func (t Tissue) String() string {
	if name, ok := tissueNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tissue(%d)", int(t))
}

// ParseTissue maps a name such as "bone" or "soft-tissue" to a Tissue. The
// empty string is Auto.
func ParseTissue(name string) (Tissue, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	switch name {
	case "":
		return Auto, nil
	case "soft", "softtissue":
		return SoftTissue, nil
	}
	for t, n := range tissueNames {
		if n == name {
			return t, nil
		}
	}
	return Auto, fmt.Errorf("unknown tissue %q", name)
}

// Hounsfield defaults used for CT without a display window
var ctTissue = map[Tissue]float64{
	Skin:       -300,
	Bone:       300,
	Brain:      30,
	SoftTissue: 40,
}

// Fractions of the 95th percentile used for MRI without a display window
var mriTissue = map[Tissue]float64{
	Skin:       0.15,
	Bone:       0.6,
	Brain:      0.35,
	SoftTissue: 0.3,
}

// ForTissue returns an isovalue for tissue. When the volume carries a display
// window it is derived from the window: skin sits at the bottom of the
// window, bone a quarter width above the centre and everything else at the
// centre. Otherwise fixed Hounsfield values are used for CT and fractions of
// the bright end of the distribution for MRI. Auto without a window is the
// first suggestion of Suggest.
func (a *Advisor) ForTissue(ctx context.Context, vol *volume.Volume, tissue Tissue) (float64, error) {
	logger := logging.OrNop(a.Logger)

	if w, ok := vol.Window(); ok && w.Width > 0 {
		iso := w.Center
		switch tissue {
		case Skin:
			iso = w.Center - w.Width/2
		case Bone:
			iso = w.Center + w.Width/4
		}
		logger.Debugf("%s isovalue %.1f from window %.1f/%.1f", tissue, iso, w.Center, w.Width)
		return iso, nil
	}

	if tissue != Auto && vol.Modality() == volume.CT {
		return ctTissue[tissue], nil
	}

	an, err := a.Analyze(ctx, vol, DefaultSampleCount, false)
	if err != nil {
		return 0, err
	}
	if tissue == Auto {
		if len(an.Suggestions) == 0 {
			logger.Warningf("no isovalue suggestion available, using 0")
			return 0, nil
		}
		return an.Suggestions[0], nil
	}
	return mriTissue[tissue] * an.Percentiles.P95, nil
}
