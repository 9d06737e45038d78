package domain

// CalculatorInput carries the reconstitution and dose parameters for one
// compound.
type CalculatorInput struct {
	VialSizeMg             float64           `json:"vial_size_mg"`
	ReconstitutionVolumeMl float64           `json:"reconstitution_volume_ml"`
	TargetDoseMg           float64           `json:"target_dose_mg"`
	Frequency              FrequencySchedule `json:"frequency"`
	ConsiderBuffer         bool              `json:"consider_buffer"`
}

// Concentration is the reconstituted strength in mg/mL. Zero when the
// reconstitution volume is not positive.
func (in CalculatorInput) Concentration() float64 {
	if in.ReconstitutionVolumeMl <= 0 {
		return 0
	}
	return in.VialSizeMg / in.ReconstitutionVolumeMl
}

// VolumePerInjection is the draw volume (mL) needed for TargetDoseMg.
func (in CalculatorInput) VolumePerInjection() float64 {
	c := in.Concentration()
	if c <= 0 {
		return 0
	}
	return in.TargetDoseMg / c
}

// WarningCode identifies an advisory calculator warning.
type WarningCode string

// Calculator warning codes.
const (
	WarningTooSmall          WarningCode = "too-small"
	WarningRequiresPrecision WarningCode = "requires-precision"
	WarningNearDeviceLimit   WarningCode = "near-device-limit"
	WarningRoundedToMark     WarningCode = "rounded-to-mark"
)

// CalculatorWarning is an advisory note attached to a calculation. Warnings
// never block a calculation.
type CalculatorWarning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// CalculatorOutput is the result of a dosing calculation.
type CalculatorOutput struct {
	Concentration     float64             `json:"concentration_mg_per_ml"`
	DrawVolume        float64             `json:"draw_volume_ml"`
	DrawUnits         int                 `json:"draw_units"`
	CompatibleDevices []Device            `json:"compatible_devices"`
	RecommendedDevice Device              `json:"recommended_device"`
	DosesPerVial      int                 `json:"doses_per_vial"`
	DaysPerVial       float64             `json:"days_per_vial"`
	VialsPerMonth     float64             `json:"vials_per_month"`
	MonthlyVials      int                 `json:"monthly_vials"`
	Suggestions       []string            `json:"suggestions"`
	Warnings          []CalculatorWarning `json:"warnings"`
}

// HasWarning reports whether a warning with code is present.
func (o CalculatorOutput) HasWarning(code WarningCode) bool {
	for _, w := range o.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Urgency ranks how soon a reorder should be placed.
type Urgency string

// Reorder urgency levels.
const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// SupplyInput is the supply-side analog of CalculatorInput. BufferPercent is
// a safety margin in [0,100] applied to monthly vial counts.
type SupplyInput struct {
	VialSizeMg             float64           `json:"vial_size_mg"`
	ReconstitutionVolumeMl float64           `json:"reconstitution_volume_ml"`
	TargetDoseMg           float64           `json:"target_dose_mg"`
	Frequency              FrequencySchedule `json:"frequency"`
	BufferPercent          float64           `json:"buffer_percent"`
	CostPerVial            *float64          `json:"cost_per_vial,omitempty"`
	LeadTimeDays           *int              `json:"lead_time_days,omitempty"`
	VialsOnHand            *float64          `json:"vials_on_hand,omitempty"`
}

// Dosing projects the supply input onto the calculator input.
func (in SupplyInput) Dosing() CalculatorInput {
	return CalculatorInput{
		VialSizeMg:             in.VialSizeMg,
		ReconstitutionVolumeMl: in.ReconstitutionVolumeMl,
		TargetDoseMg:           in.TargetDoseMg,
		Frequency:              in.Frequency,
	}
}

// ReorderAlert classifies remaining supply.
type ReorderAlert struct {
	DaysRemaining float64 `json:"days_remaining"`
	Urgency       Urgency `json:"urgency"`
	ShouldReorder bool    `json:"should_reorder"`
}

// SupplyOutput projects a dose across time and cost.
type SupplyOutput struct {
	Concentration float64       `json:"concentration_mg_per_ml"`
	DrawVolume    float64       `json:"draw_volume_ml"`
	DosesPerVial  int           `json:"doses_per_vial"`
	DaysPerVial   float64       `json:"days_per_vial"`
	VialsPerMonth float64       `json:"vials_per_month"`
	MonthlyVials  int           `json:"monthly_vials"`
	BufferPercent float64       `json:"buffer_percent"`
	LeadTimeDays  int           `json:"lead_time_days"`
	ReorderPoint  int           `json:"reorder_point_days"`
	ReorderAmount int           `json:"reorder_amount_vials"`
	MonthlyCost   *float64      `json:"monthly_cost,omitempty"`
	AnnualCost    *float64      `json:"annual_cost,omitempty"`
	DaysRemaining *float64      `json:"days_remaining,omitempty"`
	Alert         *ReorderAlert `json:"alert,omitempty"`
}
