package safety

import (
	"fmt"

	"dosecore/pkg/domain"
)

// NewInteractionRule flags mutually exclusive compounds in one protocol. A
// pair is reported once regardless of which side declares the interaction.
func NewInteractionRule() Rule {
	return interactionRule{}
}

type interactionRule struct{}

func (interactionRule) Name() string { return "interaction" }

func (interactionRule) Evaluate(ev Evaluation) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	ids := protocolPeptideIDs(ev.Protocol)
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			if !ev.Interacts(a, b) {
				continue
			}
			issues = append(issues, domain.ValidationIssue{
				ID:       issueID(string(domain.IssueInteraction), a, b),
				Type:     domain.IssueInteraction,
				Severity: domain.SeverityError,
				Message:  fmt.Sprintf("%s and %s must not be combined in one protocol", a, b),
				Meta:     map[string]string{"peptide_a": a, "peptide_b": b},
			})
		}
	}
	return issues
}

// NewSeparationRule warns when a required gap between two compounds is not
// declared in either peptide's timing.
func NewSeparationRule() Rule {
	return separationRule{}
}

type separationRule struct{}

func (separationRule) Name() string { return "separation" }

func (separationRule) Evaluate(ev Evaluation) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	ids := protocolPeptideIDs(ev.Protocol)
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			a, b := ids[i], ids[j]
			required, ok := ev.RequiredSeparation(a, b)
			if !ok {
				continue
			}
			declared := declaredSeparation(ev.Protocol, a, b)
			if declared >= required {
				continue
			}
			issues = append(issues, domain.ValidationIssue{
				ID:       issueID(string(domain.IssueSeparation), a, b),
				Type:     domain.IssueSeparation,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("%s and %s should be injected at least %s hours apart", a, b, formatMg(required)),
				Meta: map[string]string{
					"peptide_a":      a,
					"peptide_b":      b,
					"required_hours": formatMg(required),
					"declared_hours": formatMg(declared),
				},
			})
		}
	}
	return issues
}

// declaredSeparation is the largest gap any entry of one compound declares
// against the other. Declarations may name either the compound or the entry.
func declaredSeparation(protocol domain.ProtocolBase, a, b string) float64 {
	entryCompound := make(map[string]string, len(protocol.Peptides))
	for _, p := range protocol.Peptides {
		entryCompound[p.ID] = p.PeptideID
	}
	best := 0.0
	for _, p := range protocol.Peptides {
		var other string
		switch p.PeptideID {
		case a:
			other = b
		case b:
			other = a
		default:
			continue
		}
		for _, sep := range p.Timing.Separations {
			target := sep.PeptideID
			if compound, ok := entryCompound[target]; ok {
				target = compound
			}
			if target == other && sep.Hours > best {
				best = sep.Hours
			}
		}
	}
	return best
}
