// Package supply projects a dosing plan across time and cost: vials per
// month, reorder points and reorder urgency.
package supply

import (
	"math"

	"dosecore/internal/dosing"
	"dosecore/pkg/domain"
)

// Thresholds configures reorder arithmetic. The values are product choices
// kept for compatibility, not derived quantities.
type Thresholds struct {
	// DefaultLeadTimeDays applies when the input carries no lead time.
	DefaultLeadTimeDays int
	// ReorderCushion is the fraction of a vial's duration added to the lead time.
	ReorderCushion float64
	// CriticalDays, HighDays and MediumDays bound the urgency ladder
	// (inclusive upper bounds).
	CriticalDays float64
	HighDays     float64
	MediumDays   float64
}

// DefaultThresholds returns the 7-day lead time, 15% cushion and 3/7/14 day
// urgency ladder.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DefaultLeadTimeDays: 7,
		ReorderCushion:      0.15,
		CriticalDays:        3,
		HighDays:            7,
		MediumDays:          14,
	}
}

// Planner computes supply projections.
type Planner struct {
	calc       *dosing.Calculator
	thresholds Thresholds
}

// NewPlanner constructs a planner. A nil calculator uses dosing.Default().
func NewPlanner(calc *dosing.Calculator, thresholds Thresholds) *Planner {
	if calc == nil {
		calc = dosing.Default()
	}
	def := DefaultThresholds()
	if thresholds.DefaultLeadTimeDays <= 0 {
		thresholds.DefaultLeadTimeDays = def.DefaultLeadTimeDays
	}
	if thresholds.ReorderCushion <= 0 {
		thresholds.ReorderCushion = def.ReorderCushion
	}
	if thresholds.CriticalDays <= 0 && thresholds.HighDays <= 0 && thresholds.MediumDays <= 0 {
		thresholds.CriticalDays, thresholds.HighDays, thresholds.MediumDays = def.CriticalDays, def.HighDays, def.MediumDays
	}
	return &Planner{calc: calc, thresholds: thresholds}
}

// Default returns a planner with default thresholds over the default catalog.
func Default() *Planner {
	return NewPlanner(nil, DefaultThresholds())
}

// Thresholds returns the planner configuration.
func (p *Planner) Thresholds() Thresholds {
	return p.thresholds
}

// Plan projects in across time and cost. Device selection is not required:
// supply math holds even for draws no catalog device can measure.
func (p *Planner) Plan(in domain.SupplyInput) (domain.SupplyOutput, error) {
	if err := ValidateInput(in); err != nil {
		return domain.SupplyOutput{}, err
	}
	concentration, err := p.calc.Concentration(in.VialSizeMg, in.ReconstitutionVolumeMl)
	if err != nil {
		return domain.SupplyOutput{}, err
	}
	draw := in.TargetDoseMg / concentration

	projection, err := dosing.Project(in.VialSizeMg, in.TargetDoseMg, in.Frequency, 1+in.BufferPercent/100)
	if err != nil {
		return domain.SupplyOutput{}, err
	}

	leadTime := p.thresholds.DefaultLeadTimeDays
	if in.LeadTimeDays != nil {
		leadTime = *in.LeadTimeDays
	}

	out := domain.SupplyOutput{
		Concentration: concentration,
		DrawVolume:    draw,
		DosesPerVial:  projection.DosesPerVial,
		DaysPerVial:   projection.DaysPerVial,
		VialsPerMonth: projection.VialsPerMonth,
		MonthlyVials:  projection.MonthlyVials,
		BufferPercent: in.BufferPercent,
		LeadTimeDays:  leadTime,
		ReorderPoint:  p.ReorderPoint(leadTime, projection.DaysPerVial),
		ReorderAmount: projection.MonthlyVials,
	}
	if in.CostPerVial != nil {
		monthly := float64(projection.MonthlyVials) * *in.CostPerVial
		annual := monthly * 12
		out.MonthlyCost = &monthly
		out.AnnualCost = &annual
	}
	if in.VialsOnHand != nil {
		remaining := *in.VialsOnHand * projection.DaysPerVial
		alert := p.Alert(remaining, out.ReorderPoint)
		out.DaysRemaining = &remaining
		out.Alert = &alert
	}
	return out, nil
}

// ReorderPoint is the number of remaining days that should trigger a reorder:
// lead time plus the cushion fraction of one vial's duration, rounded up.
func (p *Planner) ReorderPoint(leadTimeDays int, daysPerVial float64) int {
	return leadTimeDays + int(math.Ceil(daysPerVial*p.thresholds.ReorderCushion-1e-9))
}

// Urgency classifies days of remaining supply.
func (p *Planner) Urgency(daysRemaining float64) domain.Urgency {
	switch {
	case daysRemaining <= p.thresholds.CriticalDays:
		return domain.UrgencyCritical
	case daysRemaining <= p.thresholds.HighDays:
		return domain.UrgencyHigh
	case daysRemaining <= p.thresholds.MediumDays:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

// Alert builds a standalone reorder alert for daysRemaining.
func (p *Planner) Alert(daysRemaining float64, reorderPoint int) domain.ReorderAlert {
	return domain.ReorderAlert{
		DaysRemaining: daysRemaining,
		Urgency:       p.Urgency(daysRemaining),
		ShouldReorder: daysRemaining <= float64(reorderPoint),
	}
}

// Urgency classifies daysRemaining with the default 3/7/14 ladder.
func Urgency(daysRemaining float64) domain.Urgency {
	return Default().Urgency(daysRemaining)
}

// ValidateInput applies the calculator's input rules plus supply bounds.
func ValidateInput(in domain.SupplyInput) error {
	if err := dosing.ValidateInput(in.Dosing()); err != nil {
		return err
	}
	if math.IsNaN(in.BufferPercent) || in.BufferPercent < 0 || in.BufferPercent > 100 {
		return domain.InvalidInput("buffer_percent", in.BufferPercent, "must be between 0 and 100")
	}
	if in.CostPerVial != nil && (math.IsNaN(*in.CostPerVial) || *in.CostPerVial < 0) {
		return domain.InvalidInput("cost_per_vial", *in.CostPerVial, "must not be negative")
	}
	if in.LeadTimeDays != nil && *in.LeadTimeDays < 0 {
		return domain.InvalidInput("lead_time_days", float64(*in.LeadTimeDays), "must not be negative")
	}
	if in.VialsOnHand != nil && (math.IsNaN(*in.VialsOnHand) || *in.VialsOnHand < 0) {
		return domain.InvalidInput("vials_on_hand", *in.VialsOnHand, "must not be negative")
	}
	return nil
}
