// Package dosing converts vial, reconstitution and dose inputs into draw
// volumes, device units and per-vial projections.
package dosing

import (
	"fmt"
	"math"

	"dosecore/internal/devices"
	"dosecore/pkg/domain"
)

// Calculation constants.
const (
	// DefaultMaxConcentration is the mg/mL ceiling above which draws become
	// unmeasurably small.
	DefaultMaxConcentration = 100.0
	// BufferMultiplier is applied to monthly vial counts when the input asks
	// for a safety margin.
	BufferMultiplier = 1.10
	// DaysPerMonth is the fixed month length used for supply projections.
	DaysPerMonth = 30.0
	// SmallDrawMl is the draw volume below which precision warnings apply.
	SmallDrawMl = 0.1
	// MinComfortableUnits is the unit count below which a small draw is
	// flagged too-small rather than requires-precision.
	MinComfortableUnits = 5
	// NearLimitFraction of a device's units triggers near-device-limit.
	NearLimitFraction = 0.9

	floorEpsilon = 1e-9
)

// Config tunes a Calculator.
type Config struct {
	Registry         *devices.Registry
	MaxConcentration float64
}

// Calculator is a pure dosing calculator bound to a device catalog.
type Calculator struct {
	registry         *devices.Registry
	maxConcentration float64
}

// New constructs a Calculator. Zero values fall back to the built-in catalog
// and DefaultMaxConcentration.
func New(cfg Config) *Calculator {
	reg := cfg.Registry
	if reg == nil {
		reg = devices.Default()
	}
	ceiling := cfg.MaxConcentration
	if ceiling <= 0 {
		ceiling = DefaultMaxConcentration
	}
	return &Calculator{registry: reg, maxConcentration: ceiling}
}

// Default returns a calculator over the built-in catalog.
func Default() *Calculator {
	return New(Config{})
}

// Registry exposes the device catalog used by the calculator.
func (c *Calculator) Registry() *devices.Registry {
	return c.registry
}

// MaxConcentration returns the configured concentration ceiling.
func (c *Calculator) MaxConcentration() float64 {
	return c.maxConcentration
}

// Calculate runs the full dosing calculation for in.
func (c *Calculator) Calculate(in domain.CalculatorInput) (domain.CalculatorOutput, error) {
	if err := ValidateInput(in); err != nil {
		return domain.CalculatorOutput{}, err
	}
	concentration, err := c.Concentration(in.VialSizeMg, in.ReconstitutionVolumeMl)
	if err != nil {
		return domain.CalculatorOutput{}, err
	}
	draw := in.TargetDoseMg / concentration
	if !finite(draw) {
		return domain.CalculatorOutput{}, domain.CalculationFailed("draw_volume_ml", draw)
	}

	compatible, err := c.SelectDevices(draw)
	if err != nil {
		return domain.CalculatorOutput{}, err
	}
	recommended := compatible[0]
	units := devices.VolumeToUnits(draw, recommended)

	projection, err := Project(in.VialSizeMg, in.TargetDoseMg, in.Frequency, bufferMultiplier(in.ConsiderBuffer))
	if err != nil {
		return domain.CalculatorOutput{}, err
	}

	out := domain.CalculatorOutput{
		Concentration:     concentration,
		DrawVolume:        draw,
		DrawUnits:         units,
		CompatibleDevices: compatible,
		RecommendedDevice: recommended,
		DosesPerVial:      projection.DosesPerVial,
		DaysPerVial:       projection.DaysPerVial,
		VialsPerMonth:     projection.VialsPerMonth,
		MonthlyVials:      projection.MonthlyVials,
		Suggestions:       []string{},
		Warnings:          []domain.CalculatorWarning{},
	}
	annotate(&out, in)
	return out, nil
}

// ValidateInput enforces the positive-magnitude and dose-within-vial rules.
func ValidateInput(in domain.CalculatorInput) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"vial_size_mg", in.VialSizeMg},
		{"reconstitution_volume_ml", in.ReconstitutionVolumeMl},
		{"target_dose_mg", in.TargetDoseMg},
	}
	for _, f := range fields {
		if !finite(f.value) || f.value <= 0 {
			return domain.InvalidInput(f.name, f.value, "must be greater than zero")
		}
	}
	if in.TargetDoseMg > in.VialSizeMg {
		return domain.InvalidInput("target_dose_mg", in.TargetDoseMg, fmt.Sprintf("exceeds the %g mg vial", in.VialSizeMg))
	}
	return ValidateFrequency(in.Frequency)
}

// ValidateFrequency rejects schedules that cannot drive a projection.
func ValidateFrequency(f domain.FrequencySchedule) error {
	if !finite(f.IntervalDays) || f.IntervalDays <= 0 {
		return domain.InvalidInput("frequency.interval_days", f.IntervalDays, "must be greater than zero")
	}
	if !finite(f.InjectionsPerWeek) || f.InjectionsPerWeek <= 0 {
		return domain.InvalidInput("frequency.injections_per_week", f.InjectionsPerWeek, "must be greater than zero")
	}
	return nil
}

// Concentration returns vial/recon, enforcing the configured ceiling.
func (c *Calculator) Concentration(vialSizeMg, reconstitutionVolumeMl float64) (float64, error) {
	if reconstitutionVolumeMl <= 0 {
		return 0, domain.DivisionByZero("reconstitution_volume_ml")
	}
	concentration := vialSizeMg / reconstitutionVolumeMl
	if !finite(concentration) {
		return 0, domain.CalculationFailed("concentration_mg_per_ml", concentration)
	}
	if concentration > c.maxConcentration {
		return 0, domain.ConcentrationTooHigh(concentration, c.maxConcentration)
	}
	return concentration, nil
}

// SelectDevices returns every catalog device able to measure draw, smallest
// first. When none can, the error distinguishes too-large, too-small and
// otherwise-unmeasurable draws.
func (c *Calculator) SelectDevices(draw float64) ([]domain.Device, error) {
	if !finite(draw) || draw <= 0 {
		return nil, domain.InvalidInput("draw_volume_ml", draw, "must be greater than zero")
	}
	var compatible []domain.Device
	for _, d := range c.registry.All() {
		if devices.Measurable(draw, d) {
			compatible = append(compatible, d)
		}
	}
	if len(compatible) > 0 {
		return compatible, nil
	}
	if draw > c.registry.Largest().MaxVolume {
		return nil, domain.VolumeTooLarge(draw)
	}
	if draw < c.registry.FinestPrecision() {
		return nil, domain.VolumeTooSmall(draw)
	}
	return nil, domain.NoCompatibleDevice(draw)
}

// DrawVolume computes the volume needed to deliver doseMg from a vial of
// vialSizeMg reconstituted with reconstitutionVolumeMl. ok is false when any
// input is not positive.
func DrawVolume(doseMg, vialSizeMg, reconstitutionVolumeMl float64) (float64, bool) {
	if doseMg <= 0 || vialSizeMg <= 0 || reconstitutionVolumeMl <= 0 {
		return 0, false
	}
	draw := doseMg / (vialSizeMg / reconstitutionVolumeMl)
	return draw, finite(draw)
}

// Projection is the per-vial and per-month arithmetic shared with the supply
// planner.
type Projection struct {
	DosesPerVial  int
	DaysPerVial   float64
	VialsPerMonth float64
	MonthlyVials  int
}

// Project computes doses per vial, days per vial and monthly vial needs. The
// multiplier scales monthly vials (1.0 for none).
func Project(vialSizeMg, doseMg float64, f domain.FrequencySchedule, multiplier float64) (Projection, error) {
	if doseMg <= 0 {
		return Projection{}, domain.DivisionByZero("target_dose_mg")
	}
	doses := int(math.Floor(vialSizeMg/doseMg + floorEpsilon))
	days := float64(doses) * f.IntervalDays
	if days <= 0 || !finite(days) {
		return Projection{}, domain.DivisionByZero("days_per_vial")
	}
	perMonth := DaysPerMonth / days
	monthly := int(math.Ceil(perMonth*multiplier - floorEpsilon))
	return Projection{
		DosesPerVial:  doses,
		DaysPerVial:   days,
		VialsPerMonth: perMonth,
		MonthlyVials:  monthly,
	}, nil
}

func bufferMultiplier(considerBuffer bool) float64 {
	if considerBuffer {
		return BufferMultiplier
	}
	return 1.0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
