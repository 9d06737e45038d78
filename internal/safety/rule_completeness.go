package safety

import (
	"fmt"

	"dosecore/pkg/domain"
)

// NewMissingDataRule flags peptides that cannot be evaluated because a dose,
// schedule or device is absent, or because a dose or supply figure is not a
// usable number.
func NewMissingDataRule() Rule {
	return missingDataRule{}
}

type missingDataRule struct{}

func (missingDataRule) Name() string { return "missing_data" }

func (missingDataRule) Evaluate(ev Evaluation) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	missing := func(p domain.ProtocolPeptide, field, message string) {
		issues = append(issues, domain.ValidationIssue{
			ID:       issueID(string(domain.IssueMissingData), p.ID, field),
			Type:     domain.IssueMissingData,
			Severity: domain.SeverityError,
			Message:  fmt.Sprintf("%s %s", label(p), message),
			Meta:     map[string]string{"entry_id": p.ID, "peptide_id": p.PeptideID, "field": field},
		})
	}
	for _, p := range ev.Protocol.Peptides {
		if p.PeptideID == "" {
			missing(p, "peptide", "is not linked to a compound")
		}
		if p.Dose == nil {
			missing(p, "dose", "has no dose")
			missing(p, "schedule", "has no schedule")
			missing(p, "device", "has no device assigned")
			continue
		}
		if !domain.PositiveFinite(p.Dose.PerInjectionMg) {
			missing(p, "dose", "has no positive per-injection dose")
		}
		for _, phase := range p.Phases {
			if phase.DoseOverrideMg != nil && !domain.PositiveFinite(*phase.DoseOverrideMg) {
				missing(p, "dose_override:"+phase.PhaseID, fmt.Sprintf("has no positive dose override in phase %s", phase.PhaseID))
			}
		}
		if !usableSupply(p.Supply.VialSizeMg) || !usableSupply(p.Supply.ReconstitutionVolumeMl) {
			missing(p, "supply", "has a negative or non-numeric vial size or reconstitution volume")
		}
		if p.Dose.Schedule == nil {
			missing(p, "schedule", "has no schedule")
		}
		switch {
		case p.Dose.DeviceID == "":
			missing(p, "device", "has no device assigned")
		default:
			if _, ok := ev.Devices.Lookup(p.Dose.DeviceID); !ok {
				missing(p, "device", fmt.Sprintf("references unknown device %q", p.Dose.DeviceID))
			}
		}
	}
	return issues
}

// usableSupply accepts an unset (zero) supply figure or a positive finite one.
func usableSupply(v float64) bool {
	return v == 0 || domain.PositiveFinite(v)
}

// NewInvalidScheduleRule flags schedules whose cadence does not add up to a
// week.
func NewInvalidScheduleRule() Rule {
	return invalidScheduleRule{}
}

type invalidScheduleRule struct{}

func (invalidScheduleRule) Name() string { return "invalid_schedule" }

func (invalidScheduleRule) Evaluate(ev Evaluation) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	for _, p := range ev.Protocol.Peptides {
		if p.Dose == nil || p.Dose.Schedule == nil || p.Dose.Schedule.Consistent() {
			continue
		}
		s := p.Dose.Schedule
		issues = append(issues, domain.ValidationIssue{
			ID:       issueID(string(domain.IssueInvalidSchedule), p.ID),
			Type:     domain.IssueInvalidSchedule,
			Severity: domain.SeverityError,
			Message: fmt.Sprintf("%s schedule of %s injections per week every %s days is inconsistent",
				label(p), formatMg(s.InjectionsPerWeek), formatMg(s.IntervalDays)),
			Meta: map[string]string{
				"entry_id":            p.ID,
				"pattern":             string(s.Pattern),
				"injections_per_week": formatMg(s.InjectionsPerWeek),
				"interval_days":       formatMg(s.IntervalDays),
			},
		})
	}
	return issues
}
