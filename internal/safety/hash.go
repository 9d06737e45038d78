package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"dosecore/pkg/domain"
)

// fingerprintVersion prefixes the canonical form so a future change of
// layout cannot collide with existing hashes.
const fingerprintVersion = "dosecore/v2"

type canonicalSchedule struct {
	Pattern           domain.FrequencyPattern `json:"pattern"`
	IntervalDays      string                  `json:"interval_days"`
	InjectionsPerWeek string                  `json:"injections_per_week"`
	SpecificDays      []int                   `json:"specific_days"`
}

type canonicalPhase struct {
	PhaseID        string   `json:"phase_id"`
	DoseOverrideMg *string `json:"dose_override_mg"`
}

type canonicalSeparation struct {
	PeptideID string `json:"peptide_id"`
	Hours     string `json:"hours"`
}

type canonicalPeptide struct {
	ID                     string                `json:"id"`
	PeptideID              string                `json:"peptide_id"`
	Name                   string                `json:"name"`
	HasDose                bool                  `json:"has_dose"`
	PerInjectionMg         string                `json:"per_injection_mg"`
	Schedule               *canonicalSchedule    `json:"schedule"`
	DeviceID               string                `json:"device_id"`
	TimesOfDay             []string              `json:"times_of_day"`
	Separations            []canonicalSeparation `json:"separations"`
	VialSizeMg             string                `json:"vial_size_mg"`
	ReconstitutionVolumeMl string                `json:"reconstitution_volume_ml"`
	Phases                 []canonicalPhase      `json:"phases"`
}

// Fingerprint returns the sha256 hex digest of the protocol's evaluated
// dosing data: per peptide the dose, schedule, device, timing, supply
// concentration inputs and phase overrides. Peptide order, slice order within
// timing and bookkeeping fields (version, timestamps, metadata) do not
// affect the digest.
func Fingerprint(protocol domain.ProtocolBase) string {
	peptides := make([]canonicalPeptide, 0, len(protocol.Peptides))
	for _, p := range protocol.Peptides {
		peptides = append(peptides, canonicalize(p))
	}
	sort.Slice(peptides, func(i, j int) bool {
		if peptides[i].PeptideID != peptides[j].PeptideID {
			return peptides[i].PeptideID < peptides[j].PeptideID
		}
		return peptides[i].ID < peptides[j].ID
	})

	// Struct fields marshal in declaration order and every number is already
	// a string, so encoding cannot fail and NaN or Inf stay distinct.
	payload, _ := json.Marshal(peptides)
	sum := sha256.New()
	sum.Write([]byte(fingerprintVersion))
	sum.Write([]byte{0})
	sum.Write(payload)
	return hex.EncodeToString(sum.Sum(nil))
}

func canonicalize(p domain.ProtocolPeptide) canonicalPeptide {
	out := canonicalPeptide{
		ID:                     p.ID,
		PeptideID:              p.PeptideID,
		Name:                   p.Name,
		TimesOfDay:             append([]string{}, p.Timing.TimesOfDay...),
		Separations:            make([]canonicalSeparation, 0, len(p.Timing.Separations)),
		VialSizeMg:             canonicalFloat(p.Supply.VialSizeMg),
		ReconstitutionVolumeMl: canonicalFloat(p.Supply.ReconstitutionVolumeMl),
		Phases:                 make([]canonicalPhase, 0, len(p.Phases)),
	}
	for _, sep := range p.Timing.Separations {
		out.Separations = append(out.Separations, canonicalSeparation{PeptideID: sep.PeptideID, Hours: canonicalFloat(sep.Hours)})
	}
	if p.Dose != nil {
		out.HasDose = true
		out.PerInjectionMg = canonicalFloat(p.Dose.PerInjectionMg)
		out.DeviceID = p.Dose.DeviceID
		if s := p.Dose.Schedule; s != nil {
			days := make([]int, 0, len(s.SpecificDays))
			for _, d := range s.SpecificDays {
				days = append(days, int(d))
			}
			sort.Ints(days)
			out.Schedule = &canonicalSchedule{
				Pattern:           s.Pattern,
				IntervalDays:      canonicalFloat(s.IntervalDays),
				InjectionsPerWeek: canonicalFloat(s.InjectionsPerWeek),
				SpecificDays:      days,
			}
		}
	}
	sort.Strings(out.TimesOfDay)
	sort.Slice(out.Separations, func(i, j int) bool {
		if out.Separations[i].PeptideID != out.Separations[j].PeptideID {
			return out.Separations[i].PeptideID < out.Separations[j].PeptideID
		}
		return out.Separations[i].Hours < out.Separations[j].Hours
	})
	for _, a := range p.Phases {
		phase := canonicalPhase{PhaseID: a.PhaseID}
		if a.DoseOverrideMg != nil {
			v := canonicalFloat(*a.DoseOverrideMg)
			phase.DoseOverrideMg = &v
		}
		out.Phases = append(out.Phases, phase)
	}
	sort.Slice(out.Phases, func(i, j int) bool { return out.Phases[i].PhaseID < out.Phases[j].PhaseID })
	return out
}

// canonicalFloat is the shortest round-trip form; NaN and ±Inf render as
// "NaN", "+Inf" and "-Inf".
func canonicalFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
