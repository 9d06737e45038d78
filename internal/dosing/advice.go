package dosing

import (
	"fmt"
	"math"

	"dosecore/internal/devices"
	"dosecore/pkg/domain"
)

// reconstitutionStepMl is the granularity of suggested water volumes.
const reconstitutionStepMl = 0.5

// annotate attaches advisory warnings and suggestions. It never fails.
func annotate(out *domain.CalculatorOutput, in domain.CalculatorInput) {
	rec := out.RecommendedDevice

	if out.DrawVolume < SmallDrawMl {
		if out.DrawUnits < MinComfortableUnits {
			out.Warnings = append(out.Warnings, domain.CalculatorWarning{
				Code:    domain.WarningTooSmall,
				Message: fmt.Sprintf("%.3f mL is only %d %s on the %s and is hard to measure accurately", out.DrawVolume, out.DrawUnits, rec.UnitsLabel, rec.Name),
			})
		} else {
			out.Warnings = append(out.Warnings, domain.CalculatorWarning{
				Code:    domain.WarningRequiresPrecision,
				Message: fmt.Sprintf("%.3f mL draw requires careful measurement", out.DrawVolume),
			})
		}
		if water := suggestedReconstitution(in, SmallDrawMl); water > in.ReconstitutionVolumeMl {
			out.Suggestions = append(out.Suggestions,
				fmt.Sprintf("reconstitute with %.1f mL to draw at least %.2f mL per dose", water, SmallDrawMl))
		}
	}

	if float64(out.DrawUnits) > NearLimitFraction*float64(rec.MaxUnits) {
		out.Warnings = append(out.Warnings, domain.CalculatorWarning{
			Code:    domain.WarningNearDeviceLimit,
			Message: fmt.Sprintf("%d of %d %s fills the %s nearly to capacity", out.DrawUnits, rec.MaxUnits, rec.UnitsLabel, rec.Name),
		})
		if len(out.CompatibleDevices) > 1 {
			out.Suggestions = append(out.Suggestions,
				fmt.Sprintf("consider the %s for more headroom", out.CompatibleDevices[1].Name))
		}
	}

	if !devices.OnMark(out.DrawVolume, rec) {
		snapped := devices.RoundToMark(out.DrawVolume, rec)
		out.Warnings = append(out.Warnings, domain.CalculatorWarning{
			Code:    domain.WarningRoundedToMark,
			Message: fmt.Sprintf("%.4f mL falls between marks on the %s", out.DrawVolume, rec.Name),
		})
		out.Suggestions = append(out.Suggestions,
			fmt.Sprintf("draw to the nearest mark: %.3f mL (%d %s)", snapped, devices.VolumeToUnits(snapped, rec), rec.UnitsLabel))
	}
}

// suggestedReconstitution returns the water volume (rounded up to the next
// half mL) that yields at least minDraw per dose.
func suggestedReconstitution(in domain.CalculatorInput, minDraw float64) float64 {
	draw := in.VolumePerInjection()
	if draw <= 0 {
		return 0
	}
	needed := in.ReconstitutionVolumeMl * minDraw / draw
	return math.Ceil(needed/reconstitutionStepMl-floorEpsilon) * reconstitutionStepMl
}
