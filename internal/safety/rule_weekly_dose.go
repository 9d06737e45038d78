package safety

import (
	"fmt"
	"strconv"

	"dosecore/pkg/domain"
)

// nearLimitFraction of a weekly ceiling triggers an advisory issue.
const nearLimitFraction = 0.9

// limitEpsilon absorbs float noise when comparing weekly totals to ceilings.
const limitEpsilon = 1e-9

// NewMaxWeeklyDoseRule flags weekly totals above the compound's ceiling,
// including totals produced by phase dose overrides.
func NewMaxWeeklyDoseRule() Rule {
	return maxWeeklyDoseRule{}
}

type maxWeeklyDoseRule struct{}

func (maxWeeklyDoseRule) Name() string { return "max_weekly_dose" }

func (maxWeeklyDoseRule) Evaluate(ev Evaluation) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	for _, p := range ev.Protocol.Peptides {
		if p.Dose == nil || p.Dose.Schedule == nil || !domain.PositiveFinite(p.Dose.PerInjectionMg) {
			continue
		}
		limit, ok := ev.MaxWeeklyDose(p.PeptideID)
		if !ok {
			continue
		}
		perWeek := p.Dose.Schedule.InjectionsPerWeek
		if issue, found := weeklyIssue(p, "", p.Dose.PerInjectionMg*perWeek, limit); found {
			issues = append(issues, issue)
		}
		for _, phase := range p.Phases {
			if phase.DoseOverrideMg == nil || !domain.PositiveFinite(*phase.DoseOverrideMg) {
				continue
			}
			if issue, found := weeklyIssue(p, phase.PhaseID, *phase.DoseOverrideMg*perWeek, limit); found {
				issues = append(issues, issue)
			}
		}
	}
	return issues
}

func weeklyIssue(p domain.ProtocolPeptide, phaseID string, weekly, limit float64) (domain.ValidationIssue, bool) {
	meta := map[string]string{
		"peptide_id":      p.PeptideID,
		"entry_id":        p.ID,
		"weekly_total_mg": formatMg(weekly),
		"max_weekly_dose": formatMg(limit),
	}
	where := ""
	parts := []string{p.ID}
	if phaseID != "" {
		meta["phase_id"] = phaseID
		where = fmt.Sprintf(" during phase %s", phaseID)
		parts = append(parts, phaseID)
	}
	switch {
	case weekly > limit*(1+limitEpsilon):
		return domain.ValidationIssue{
			ID:       issueID(append([]string{string(domain.IssueMaxWeeklyDose)}, parts...)...),
			Type:     domain.IssueMaxWeeklyDose,
			Severity: domain.SeverityError,
			Message:  fmt.Sprintf("%s weekly total %s mg%s exceeds the %s mg limit", label(p), formatMg(weekly), where, formatMg(limit)),
			Meta:     meta,
		}, true
	case weekly >= limit*nearLimitFraction:
		return domain.ValidationIssue{
			ID:       issueID(append([]string{string(domain.IssueNearWeeklyLimit)}, parts...)...),
			Type:     domain.IssueNearWeeklyLimit,
			Severity: domain.SeverityInfo,
			Message:  fmt.Sprintf("%s weekly total %s mg%s is close to the %s mg limit", label(p), formatMg(weekly), where, formatMg(limit)),
			Meta:     meta,
		}, true
	}
	return domain.ValidationIssue{}, false
}

func label(p domain.ProtocolPeptide) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.PeptideID != "":
		return p.PeptideID
	default:
		return p.ID
	}
}

func formatMg(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
