// Package safety evaluates a protocol's dosing content against injected
// safety limits and reference data, producing a hashed ValidationResult.
package safety

import (
	"sort"
	"strings"
	"time"

	"dosecore/internal/devices"
	"dosecore/pkg/domain"
)

// Rule inspects one protocol evaluation and reports findings. Rules must be
// pure: the same Evaluation always yields the same issues.
type Rule interface {
	Name() string
	Evaluate(ev Evaluation) []domain.ValidationIssue
}

// ValidationContext supplies the collaborators a validation run reads.
type ValidationContext struct {
	// Reference is optional compound reference data merged with Limits.
	Reference domain.PeptideReference
	// Devices resolves device IDs. Nil uses the default catalog.
	Devices *devices.Registry
	// Now stamps EvaluatedAt. Zero uses time.Now.
	Now time.Time
}

// Engine orchestrates rule evaluation.
type Engine struct {
	rules []Rule
}

// NewEngine constructs an empty engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewDefaultEngine builds an engine with the built-in rule set.
func NewDefaultEngine() *Engine {
	engine := NewEngine()
	engine.Register(NewMissingDataRule())
	engine.Register(NewInvalidScheduleRule())
	engine.Register(NewMaxWeeklyDoseRule())
	engine.Register(NewDeviceLimitRule())
	engine.Register(NewInteractionRule())
	engine.Register(NewSeparationRule())
	return engine
}

// Register appends a rule to the engine.
func (e *Engine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Validate runs every rule and returns the combined, ordered verdict. It does
// not fail: problems with the protocol itself surface as issues.
func (e *Engine) Validate(protocol domain.ProtocolBase, limits Limits, vctx ValidationContext) domain.ValidationResult {
	ev := newEvaluation(protocol, limits, vctx)
	var issues []domain.ValidationIssue
	seen := make(map[string]struct{})
	for _, rule := range e.rules {
		for _, issue := range rule.Evaluate(ev) {
			if _, dup := seen[issue.ID]; dup {
				continue
			}
			seen[issue.ID] = struct{}{}
			issues = append(issues, issue)
		}
	}
	SortIssues(issues)

	now := vctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return domain.NewValidationResult(Fingerprint(protocol), issues, now)
}

// Validate evaluates protocol with the default rule set.
func Validate(protocol domain.ProtocolBase, limits Limits, vctx ValidationContext) domain.ValidationResult {
	return NewDefaultEngine().Validate(protocol, limits, vctx)
}

// SortIssues orders issues by severity (errors first), then type, then ID.
func SortIssues(issues []domain.ValidationIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
}

// Evaluation is the read-only view handed to each rule.
type Evaluation struct {
	Protocol domain.ProtocolBase
	Devices  *devices.Registry

	maxWeekly    map[string]float64
	interactions map[string]map[string]struct{}
	separations  map[pairKey]float64
}

type pairKey struct{ a, b string }

func newPairKey(x, y string) pairKey {
	if y < x {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

func newEvaluation(protocol domain.ProtocolBase, limits Limits, vctx ValidationContext) Evaluation {
	ev := Evaluation{
		Protocol:     protocol,
		Devices:      vctx.Devices,
		maxWeekly:    make(map[string]float64),
		interactions: make(map[string]map[string]struct{}),
		separations:  make(map[pairKey]float64),
	}
	if ev.Devices == nil {
		ev.Devices = devices.Default()
	}
	for id, limit := range limits.MaxWeeklyDoseMg {
		ev.addMaxWeekly(id, limit)
	}
	for id, peers := range limits.Interactions {
		for _, peer := range peers {
			ev.addInteraction(id, peer)
		}
	}
	for _, sep := range limits.Separations {
		ev.addSeparation(sep.PeptideA, sep.PeptideB, sep.Hours)
	}
	if vctx.Reference != nil {
		for _, id := range protocolPeptideIDs(protocol) {
			profile, ok := vctx.Reference.Peptide(id)
			if !ok {
				continue
			}
			if profile.MaxWeeklyDoseMg != nil {
				ev.addMaxWeekly(id, *profile.MaxWeeklyDoseMg)
			}
			for _, peer := range profile.Interactions {
				ev.addInteraction(id, peer)
			}
			for _, sep := range profile.RequiredSeparations {
				ev.addSeparation(id, sep.PeptideID, sep.Hours)
			}
		}
	}
	return ev
}

func (ev *Evaluation) addMaxWeekly(id string, limit float64) {
	if limit <= 0 {
		return
	}
	if cur, ok := ev.maxWeekly[id]; !ok || limit < cur {
		ev.maxWeekly[id] = limit
	}
}

func (ev *Evaluation) addInteraction(a, b string) {
	if a == "" || b == "" || a == b {
		return
	}
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		set, ok := ev.interactions[pair[0]]
		if !ok {
			set = make(map[string]struct{})
			ev.interactions[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

func (ev *Evaluation) addSeparation(a, b string, hours float64) {
	if a == "" || b == "" || a == b || hours <= 0 {
		return
	}
	key := newPairKey(a, b)
	if hours > ev.separations[key] {
		ev.separations[key] = hours
	}
}

// MaxWeeklyDose returns the strictest known weekly ceiling for a compound.
func (ev Evaluation) MaxWeeklyDose(peptideID string) (float64, bool) {
	limit, ok := ev.maxWeekly[peptideID]
	return limit, ok
}

// Interacts reports whether two compounds must not be combined.
func (ev Evaluation) Interacts(a, b string) bool {
	_, ok := ev.interactions[a][b]
	return ok
}

// RequiredSeparation returns the minimum hours between two compounds.
func (ev Evaluation) RequiredSeparation(a, b string) (float64, bool) {
	hours, ok := ev.separations[newPairKey(a, b)]
	return hours, ok
}

func protocolPeptideIDs(protocol domain.ProtocolBase) []string {
	seen := make(map[string]struct{}, len(protocol.Peptides))
	ids := make([]string, 0, len(protocol.Peptides))
	for _, p := range protocol.Peptides {
		if p.PeptideID == "" {
			continue
		}
		if _, ok := seen[p.PeptideID]; ok {
			continue
		}
		seen[p.PeptideID] = struct{}{}
		ids = append(ids, p.PeptideID)
	}
	sort.Strings(ids)
	return ids
}

func issueID(parts ...string) string {
	return strings.Join(parts, ":")
}
