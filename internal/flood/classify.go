package flood

import (
	"errors"
	"math"
)

// ThresholdBands holds the water-level boundaries of the four status ranges
// for a location. Bands are ordered by convention but may leave gaps; a value
// falling in a gap classifies as AMAN.
type ThresholdBands struct {
	AmanMax    float64
	WaspadaMin float64
	WaspadaMax float64
	SiagaMin   float64
	SiagaMax   float64
	BahayaMin  float64
}

// ErrNonFiniteLevel is returned when the water level is NaN or infinite.
var ErrNonFiniteLevel = errors.New("water level is not a finite number")

// Classify maps a water-level reading onto a flood status. Evaluation order
// matters: the danger floor wins over the alert range, which wins over the
// watch range. Any finite value matching no band falls back to AMAN.
func Classify(waterLevel float64, b ThresholdBands) (Status, error) {
	if math.IsNaN(waterLevel) || math.IsInf(waterLevel, 0) {
		return "", ErrNonFiniteLevel
	}

	switch {
	case waterLevel >= b.BahayaMin:
		return StatusBahaya, nil
	case waterLevel >= b.SiagaMin && waterLevel <= b.SiagaMax:
		return StatusSiaga, nil
	case waterLevel >= b.WaspadaMin && waterLevel <= b.WaspadaMax:
		return StatusWaspada, nil
	case waterLevel <= b.AmanMax:
		return StatusAman, nil
	default:
		// Value sits in a gap between configured bands.
		return StatusAman, nil
	}
}
