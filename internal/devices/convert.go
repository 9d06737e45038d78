package devices

import (
	"math"

	"dosecore/pkg/domain"
)

// MarkTolerance is the relative slack used when deciding whether a volume
// sits exactly on a graduation mark.
const MarkTolerance = 1e-6

// VolumeToUnits converts a volume (mL) to the nearest whole unit printed on d.
func VolumeToUnits(volume float64, d domain.Device) int {
	if d.MaxVolume <= 0 {
		return 0
	}
	return int(math.Round(volume / d.MaxVolume * float64(d.MaxUnits)))
}

// UnitsToVolume converts barrel units on d back to mL.
func UnitsToVolume(units int, d domain.Device) float64 {
	if d.MaxUnits <= 0 {
		return 0
	}
	return float64(units) * d.MaxVolume / float64(d.MaxUnits)
}

// Marks returns how many precision steps volume spans on d, rounded to the
// nearest mark.
func Marks(volume float64, d domain.Device) int {
	if d.Precision <= 0 {
		return 0
	}
	return int(math.Round(volume / d.Precision))
}

// RoundToMark snaps volume to the nearest graduation of d.
func RoundToMark(volume float64, d domain.Device) float64 {
	return float64(Marks(volume, d)) * d.Precision
}

// OnMark reports whether volume is an integer multiple of d.Precision within
// MarkTolerance.
func OnMark(volume float64, d domain.Device) bool {
	if d.Precision <= 0 {
		return false
	}
	steps := volume / d.Precision
	return math.Abs(steps-math.Round(steps)) <= MarkTolerance*math.Max(1, math.Abs(steps))
}

// Measurable reports whether d can deliver volume: it fits the barrel and is
// at least one graduation. Off-mark volumes are still measurable; the user
// draws to the nearest mark.
func Measurable(volume float64, d domain.Device) bool {
	if volume <= 0 || volume > d.MaxVolume*(1+MarkTolerance) {
		return false
	}
	return volume >= d.Precision*(1-MarkTolerance)
}
