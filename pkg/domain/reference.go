package domain

// RequiredSeparation states that two compounds must not be injected within
// Hours of each other.
type RequiredSeparation struct {
	PeptideID string  `json:"peptide_id" yaml:"peptide"`
	Hours     float64 `json:"hours" yaml:"hours"`
}

// PeptideProfile is the narrow slice of reference data the safety validator
// consumes for one compound.
type PeptideProfile struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	MaxWeeklyDoseMg     *float64             `json:"max_weekly_dose_mg,omitempty"`
	Interactions        []string             `json:"interactions,omitempty"`
	RequiredSeparations []RequiredSeparation `json:"required_separations,omitempty"`
}

// PeptideReference is a read-only lookup of compound reference data.
type PeptideReference interface {
	Peptide(id string) (PeptideProfile, bool)
}
