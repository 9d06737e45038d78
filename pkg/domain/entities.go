// Package domain defines the value types shared by the dosing calculator,
// supply planner, safety validator and protocol lifecycle of dosecore.
package domain

import "time"

// Severity ranks a validation finding.
type Severity string

// Validation severities. Only SeverityError blocks protocol activation.
const (
	// SeverityInfo is advisory only.
	SeverityInfo Severity = "info"
	// SeverityWarning is surfaced to the user but does not block.
	SeverityWarning Severity = "warning"
	// SeverityError blocks activation.
	SeverityError Severity = "error"
)

// Rank orders severities from most to least urgent (error first).
func (s Severity) Rank() int {
	switch s {
	case SeverityError:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// IssueType identifies the rule that produced a ValidationIssue.
type IssueType string

// Issue types emitted by the safety validator.
const (
	IssueMaxWeeklyDose   IssueType = "max_weekly_dose"
	IssueNearWeeklyLimit IssueType = "near_weekly_limit"
	IssueDeviceLimit     IssueType = "device_limit"
	IssueSeparation      IssueType = "separation"
	IssueInteraction     IssueType = "interaction"
	IssueMissingData     IssueType = "missing_data"
	IssueInvalidSchedule IssueType = "invalid_schedule"
)

// ValidationIssue is a single typed finding of the safety validator.
type ValidationIssue struct {
	ID       string            `json:"id"`
	Type     IssueType         `json:"type"`
	Message  string            `json:"message"`
	Severity Severity          `json:"severity"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// Blocking reports whether the issue prevents activation.
func (i ValidationIssue) Blocking() bool {
	return i.Severity == SeverityError
}

// ValidationResult is the verdict for one exact protocol state. Hash
// fingerprints the evaluated dosing data so stale verdicts can be detected.
type ValidationResult struct {
	Hash        string            `json:"hash"`
	Issues      []ValidationIssue `json:"issues"`
	Valid       bool              `json:"valid"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
}

// NewValidationResult derives Valid from the supplied issues.
func NewValidationResult(hash string, issues []ValidationIssue, evaluatedAt time.Time) ValidationResult {
	if issues == nil {
		issues = []ValidationIssue{}
	}
	valid := true
	for _, issue := range issues {
		if issue.Blocking() {
			valid = false
			break
		}
	}
	return ValidationResult{Hash: hash, Issues: issues, Valid: valid, EvaluatedAt: evaluatedAt}
}

// PendingValidation returns the "not yet evaluated" verdict carried by new drafts.
func PendingValidation() ValidationResult {
	return ValidationResult{Issues: []ValidationIssue{}}
}

// Evaluated reports whether the result came from a validator run.
func (r ValidationResult) Evaluated() bool {
	return r.Hash != "" && !r.EvaluatedAt.IsZero()
}

// BlockingIssues returns the error-severity issues in display order.
func (r ValidationResult) BlockingIssues() []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Blocking() {
			out = append(out, issue)
		}
	}
	return out
}

// Count returns the number of issues with the given severity.
func (r ValidationResult) Count(severity Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the result.
func (r ValidationResult) Clone() ValidationResult {
	out := r
	out.Issues = make([]ValidationIssue, len(r.Issues))
	for i, issue := range r.Issues {
		cpy := issue
		if issue.Meta != nil {
			cpy.Meta = make(map[string]string, len(issue.Meta))
			for k, v := range issue.Meta {
				cpy.Meta[k] = v
			}
		}
		out.Issues[i] = cpy
	}
	return out
}
