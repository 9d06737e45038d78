package safety

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"dosecore/pkg/domain"
)

// PairSeparation requires Hours between injections of PeptideA and PeptideB.
type PairSeparation struct {
	PeptideA string  `json:"peptide_a" yaml:"a"`
	PeptideB string  `json:"peptide_b" yaml:"b"`
	Hours    float64 `json:"hours" yaml:"hours"`
}

// Limits is the injected safety table: weekly dose ceilings, mutually
// exclusive compounds and required timing separations, keyed by peptide ID.
type Limits struct {
	MaxWeeklyDoseMg map[string]float64  `json:"max_weekly_dose_mg" yaml:"max_weekly_dose_mg"`
	Interactions    map[string][]string `json:"interactions" yaml:"interactions"`
	Separations     []PairSeparation    `json:"separations" yaml:"separations"`
}

// limitsFile is the on-disk layout: one entry per compound.
type limitsFile struct {
	Peptides []struct {
		ID              string                      `yaml:"id"`
		Name            string                      `yaml:"name"`
		MaxWeeklyDoseMg *float64                    `yaml:"max_weekly_dose_mg"`
		Interactions    []string                    `yaml:"interactions"`
		Separations     []domain.RequiredSeparation `yaml:"separations"`
	} `yaml:"peptides"`
}

// ParseLimits decodes a YAML limits document.
func ParseLimits(data []byte) (Limits, error) {
	var file limitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Limits{}, fmt.Errorf("parse safety limits: %w", err)
	}
	limits := Limits{
		MaxWeeklyDoseMg: make(map[string]float64),
		Interactions:    make(map[string][]string),
	}
	for i, p := range file.Peptides {
		if p.ID == "" {
			return Limits{}, fmt.Errorf("safety limits: peptide %d missing id", i)
		}
		if p.MaxWeeklyDoseMg != nil {
			if *p.MaxWeeklyDoseMg <= 0 {
				return Limits{}, fmt.Errorf("safety limits: %s max weekly dose must be positive", p.ID)
			}
			limits.MaxWeeklyDoseMg[p.ID] = *p.MaxWeeklyDoseMg
		}
		if len(p.Interactions) > 0 {
			limits.Interactions[p.ID] = append(limits.Interactions[p.ID], p.Interactions...)
		}
		for _, sep := range p.Separations {
			if sep.PeptideID == "" || sep.Hours <= 0 {
				return Limits{}, fmt.Errorf("safety limits: %s has an invalid separation", p.ID)
			}
			limits.Separations = append(limits.Separations, PairSeparation{PeptideA: p.ID, PeptideB: sep.PeptideID, Hours: sep.Hours})
		}
	}
	return limits, nil
}

// LoadLimits reads and parses a YAML limits file.
func LoadLimits(path string) (Limits, error) {
	// #nosec G304 -- path comes from operator configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("read safety limits: %w", err)
	}
	return ParseLimits(data)
}

// DefaultLimits returns the built-in table: GLP-1 class agonists are mutually
// exclusive and carry their labelled weekly maxima.
func DefaultLimits() Limits {
	return Limits{
		MaxWeeklyDoseMg: map[string]float64{
			"semaglutide": 2.4,
			"tirzepatide": 15,
			"liraglutide": 21,
		},
		Interactions: map[string][]string{
			"semaglutide": {"tirzepatide", "liraglutide"},
			"tirzepatide": {"semaglutide", "liraglutide"},
			"liraglutide": {"semaglutide", "tirzepatide"},
		},
	}
}

// Merge overlays other onto l. Weekly ceilings take the stricter value;
// interactions and separations are unioned.
func (l Limits) Merge(other Limits) Limits {
	out := Limits{
		MaxWeeklyDoseMg: make(map[string]float64, len(l.MaxWeeklyDoseMg)+len(other.MaxWeeklyDoseMg)),
		Interactions:    make(map[string][]string, len(l.Interactions)+len(other.Interactions)),
	}
	for _, src := range []Limits{l, other} {
		for id, limit := range src.MaxWeeklyDoseMg {
			if cur, ok := out.MaxWeeklyDoseMg[id]; !ok || limit < cur {
				out.MaxWeeklyDoseMg[id] = limit
			}
		}
		for id, peers := range src.Interactions {
			out.Interactions[id] = unionStrings(out.Interactions[id], peers)
		}
		out.Separations = append(out.Separations, src.Separations...)
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// StaticReference is an in-memory PeptideReference.
type StaticReference struct {
	profiles map[string]domain.PeptideProfile
}

// NewStaticReference indexes profiles by ID.
func NewStaticReference(profiles ...domain.PeptideProfile) *StaticReference {
	ref := &StaticReference{profiles: make(map[string]domain.PeptideProfile, len(profiles))}
	for _, p := range profiles {
		ref.profiles[p.ID] = p
	}
	return ref
}

// Peptide implements domain.PeptideReference.
func (r *StaticReference) Peptide(id string) (domain.PeptideProfile, bool) {
	if r == nil {
		return domain.PeptideProfile{}, false
	}
	p, ok := r.profiles[id]
	return p, ok
}
