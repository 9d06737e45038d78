package domain

import "time"

// ProtocolState enumerates the lifecycle states of a protocol. It doubles as
// the discriminator tag of serialized ProtocolRecords.
type ProtocolState string

// Protocol lifecycle states.
const (
	StateDraft     ProtocolState = "draft"
	StateActive    ProtocolState = "active"
	StateCompleted ProtocolState = "completed"
)

// ProtocolMetadata holds descriptive, non-dosing protocol data.
type ProtocolMetadata struct {
	Description string     `json:"description,omitempty"`
	Goal        string     `json:"goal,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// ProtocolPhase is a named block of weeks within a protocol.
type ProtocolPhase struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Order         int    `json:"order"`
	DurationWeeks int    `json:"duration_weeks"`
	Notes         string `json:"notes,omitempty"`
}

// PhaseAssignment places a peptide in a phase, optionally overriding its
// per-injection dose while that phase runs.
type PhaseAssignment struct {
	PhaseID        string   `json:"phase_id"`
	DoseOverrideMg *float64 `json:"dose_override_mg,omitempty"`
}

// PeptideDosePlan is the dosing half of a protocol peptide.
type PeptideDosePlan struct {
	PerInjectionMg float64            `json:"per_injection_mg"`
	Schedule       *FrequencySchedule `json:"schedule,omitempty"`
	DeviceID       string             `json:"device_id,omitempty"`
}

// WeeklyTotalMg is PerInjectionMg times injections per week. Zero without a
// schedule.
func (p PeptideDosePlan) WeeklyTotalMg() float64 {
	if p.Schedule == nil {
		return 0
	}
	return p.PerInjectionMg * p.Schedule.InjectionsPerWeek
}

// TimingSeparation declares a minimum gap between this peptide's injections
// and another peptide's.
type TimingSeparation struct {
	PeptideID string  `json:"peptide_id"`
	Hours     float64 `json:"hours"`
}

// PeptideTiming captures when a peptide is injected.
type PeptideTiming struct {
	TimesOfDay  []string           `json:"times_of_day,omitempty"`
	Separations []TimingSeparation `json:"separations,omitempty"`
}

// PeptideSupplyPlan carries the vial and reconstitution used for a peptide.
type PeptideSupplyPlan struct {
	VialSizeMg             float64  `json:"vial_size_mg,omitempty"`
	ReconstitutionVolumeMl float64  `json:"reconstitution_volume_ml,omitempty"`
	VialsOnHand            float64  `json:"vials_on_hand,omitempty"`
	CostPerVial            *float64 `json:"cost_per_vial,omitempty"`
	LeadTimeDays           *int     `json:"lead_time_days,omitempty"`
}

// ProtocolPeptide is one dosed compound within a protocol. ID is unique within
// the protocol; PeptideID identifies the compound in reference data.
type ProtocolPeptide struct {
	ID        string            `json:"id"`
	PeptideID string            `json:"peptide_id"`
	Name      string            `json:"name"`
	Dose      *PeptideDosePlan  `json:"dose,omitempty"`
	Timing    PeptideTiming     `json:"timing"`
	Supply    PeptideSupplyPlan `json:"supply"`
	Phases    []PhaseAssignment `json:"phases,omitempty"`
}

// Clone returns a deep copy of the peptide.
func (p ProtocolPeptide) Clone() ProtocolPeptide {
	out := p
	if p.Dose != nil {
		dose := *p.Dose
		if p.Dose.Schedule != nil {
			sched := p.Dose.Schedule.Clone()
			dose.Schedule = &sched
		}
		out.Dose = &dose
	}
	if p.Timing.TimesOfDay != nil {
		out.Timing.TimesOfDay = append([]string(nil), p.Timing.TimesOfDay...)
	}
	if p.Timing.Separations != nil {
		out.Timing.Separations = append([]TimingSeparation(nil), p.Timing.Separations...)
	}
	out.Supply.CostPerVial = cloneFloat(p.Supply.CostPerVial)
	if p.Supply.LeadTimeDays != nil {
		v := *p.Supply.LeadTimeDays
		out.Supply.LeadTimeDays = &v
	}
	if p.Phases != nil {
		out.Phases = make([]PhaseAssignment, len(p.Phases))
		for i, a := range p.Phases {
			out.Phases[i] = PhaseAssignment{PhaseID: a.PhaseID, DoseOverrideMg: cloneFloat(a.DoseOverrideMg)}
		}
	}
	return out
}

// ProtocolBase is the dosing content and bookkeeping shared by every
// protocol record variant. It exclusively owns its Peptides and Phases.
type ProtocolBase struct {
	ID        string            `json:"id"`
	Version   int               `json:"version"`
	State     ProtocolState     `json:"state"`
	Name      string            `json:"name"`
	Metadata  ProtocolMetadata  `json:"metadata"`
	Peptides  []ProtocolPeptide `json:"peptides"`
	Phases    []ProtocolPhase   `json:"phases"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	ParentID  *string           `json:"parent_id,omitempty"`
}

// Clone returns a deep copy so the result shares no slices with p.
func (p ProtocolBase) Clone() ProtocolBase {
	out := p
	out.Peptides = make([]ProtocolPeptide, len(p.Peptides))
	for i, peptide := range p.Peptides {
		out.Peptides[i] = peptide.Clone()
	}
	out.Phases = append([]ProtocolPhase{}, p.Phases...)
	if p.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), p.Metadata.Tags...)
	}
	if p.Metadata.StartDate != nil {
		sd := *p.Metadata.StartDate
		out.Metadata.StartDate = &sd
	}
	if p.ParentID != nil {
		parent := *p.ParentID
		out.ParentID = &parent
	}
	return out
}

// FindPeptide returns the protocol peptide with the given entry ID.
func (p ProtocolBase) FindPeptide(id string) (ProtocolPeptide, bool) {
	for _, peptide := range p.Peptides {
		if peptide.ID == id {
			return peptide, true
		}
	}
	return ProtocolPeptide{}, false
}

// ActiveProtocolSnapshot is the audit stamp written at activation.
// ValidationHash must equal the hash of the ValidationResult that authorized
// activation.
type ActiveProtocolSnapshot struct {
	ValidationHash string    `json:"validation_hash"`
	ActivatedAt    time.Time `json:"activated_at"`
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
