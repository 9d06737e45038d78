package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func sampleBase(state ProtocolState) ProtocolBase {
	sched := Weekly()
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	parent := "parent-1"
	return ProtocolBase{
		ID:      "p-1",
		Version: 2,
		State:   state,
		Name:    "Recovery",
		Metadata: ProtocolMetadata{
			Goal: "tendon",
			Tags: []string{"a", "b"},
		},
		Peptides: []ProtocolPeptide{{
			ID:        "entry-1",
			PeptideID: "bpc-157",
			Name:      "BPC-157",
			Dose:      &PeptideDosePlan{PerInjectionMg: 0.25, Schedule: &sched, DeviceID: "insulin-0.3"},
			Timing:    PeptideTiming{TimesOfDay: []string{"08:00"}, Separations: []TimingSeparation{{PeptideID: "tb-500", Hours: 4}}},
			Supply:    PeptideSupplyPlan{VialSizeMg: 10, ReconstitutionVolumeMl: 2},
			Phases:    []PhaseAssignment{{PhaseID: "ph-1"}},
		}},
		Phases:    []ProtocolPhase{{ID: "ph-1", Name: "Loading", Order: 1, DurationWeeks: 4}},
		CreatedAt: created,
		UpdatedAt: created,
		ParentID:  &parent,
	}
}

func TestRecordJSONRoundTripPreservesVariant(t *testing.T) {
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	validation := NewValidationResult("abc", []ValidationIssue{{ID: "w", Type: IssueSeparation, Severity: SeverityWarning, Message: "m", Meta: map[string]string{"k": "v"}}}, at)
	snapshot := ActiveProtocolSnapshot{ValidationHash: "abc", ActivatedAt: at}

	records := []ProtocolRecord{
		ProtocolDraft{Protocol: sampleBase(StateDraft), Validation: validation, LastValidatedHash: "abc"},
		ProtocolActive{Protocol: sampleBase(StateActive), Validation: validation, Snapshot: snapshot},
		ProtocolCompleted{Protocol: sampleBase(StateCompleted), Validation: validation, Snapshot: snapshot, CompletedAt: at.Add(time.Hour)},
	}
	for _, rec := range records {
		t.Run(string(rec.State()), func(t *testing.T) {
			data, err := MarshalRecord(rec)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !strings.Contains(string(data), `"type":"`+string(rec.State())+`"`) {
				t.Fatalf("expected discriminator in %s", data)
			}
			got, err := UnmarshalRecord(data)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.State() != rec.State() {
				t.Fatalf("state mismatch: %s vs %s", got.State(), rec.State())
			}
			again, err := MarshalRecord(got)
			if err != nil {
				t.Fatalf("re-marshal: %v", err)
			}
			if string(again) != string(data) {
				t.Fatalf("round trip changed encoding:\n%s\n%s", data, again)
			}
		})
	}
}

func TestVariantUnmarshalRejectsWrongTag(t *testing.T) {
	data, err := json.Marshal(ProtocolDraft{Protocol: sampleBase(StateDraft), Validation: PendingValidation()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var active ProtocolActive
	if err := json.Unmarshal(data, &active); err == nil {
		t.Fatalf("expected error decoding draft into active")
	}
	var draft ProtocolDraft
	if err := json.Unmarshal(data, &draft); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	if draft.Protocol.ID != "p-1" {
		t.Fatalf("unexpected draft id %q", draft.Protocol.ID)
	}
}

func TestUnmarshalRecordUnknownType(t *testing.T) {
	if _, err := UnmarshalRecord([]byte(`{"type":"archived","protocol":{}}`)); err == nil {
		t.Fatalf("expected unknown type error")
	}
	if _, err := UnmarshalRecord([]byte(`{"type":"active","protocol":{"id":"x"}}`)); err == nil {
		t.Fatalf("expected missing snapshot error")
	}
}

func TestStorageShapeRoundTripAndFilter(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	draft := ProtocolDraft{Protocol: sampleBase(StateDraft), Validation: PendingValidation()}
	activeBase := sampleBase(StateActive)
	activeBase.ID = "p-2"
	activeBase.CreatedAt = at
	active := ProtocolActive{Protocol: activeBase, Validation: NewValidationResult("h", nil, at), Snapshot: ActiveProtocolSnapshot{ValidationHash: "h", ActivatedAt: at}}

	shape := ProtocolStorageShape{Protocols: []ProtocolRecord{active, draft}, LastUpdated: at}
	data, err := json.Marshal(shape)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ProtocolStorageShape
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Protocols) != 2 || !decoded.LastUpdated.Equal(at) {
		t.Fatalf("unexpected decoded shape: %+v", decoded)
	}
	if got := decoded.Drafts(); len(got) != 1 || got[0].Protocol.ID != "p-1" {
		t.Fatalf("unexpected drafts: %+v", got)
	}
	if got := decoded.Actives(); len(got) != 1 || got[0].Snapshot.ValidationHash != "h" {
		t.Fatalf("unexpected actives: %+v", got)
	}
	if got := decoded.Completed(); len(got) != 0 {
		t.Fatalf("expected no completed records")
	}
	all := decoded.Filter("")
	if len(all) != 2 || all[0].Base().ID != "p-1" {
		t.Fatalf("expected creation-time ordering, got %s first", all[0].Base().ID)
	}
}

func TestStorageShapeUpsertRemove(t *testing.T) {
	var shape ProtocolStorageShape
	draft := ProtocolDraft{Protocol: sampleBase(StateDraft)}
	shape.Upsert(draft)
	draft.Protocol.Name = "Renamed"
	shape.Upsert(draft)
	if len(shape.Protocols) != 1 || shape.Protocols[0].Base().Name != "Renamed" {
		t.Fatalf("upsert should replace in place: %+v", shape.Protocols)
	}
	if !shape.Remove("p-1") {
		t.Fatalf("expected remove to succeed")
	}
	if shape.Remove("p-1") {
		t.Fatalf("expected second remove to fail")
	}
}

func TestCheckIntegrity(t *testing.T) {
	at := time.Now().UTC()
	good := ProtocolActive{Protocol: sampleBase(StateActive), Validation: NewValidationResult("h", nil, at), Snapshot: ActiveProtocolSnapshot{ValidationHash: "h"}}
	if err := CheckIntegrity(good); err != nil {
		t.Fatalf("unexpected integrity error: %v", err)
	}
	drifted := good
	drifted.Snapshot.ValidationHash = "other"
	if err := CheckIntegrity(drifted); err == nil {
		t.Fatalf("expected drift to be detected")
	}
	mislabelled := ProtocolDraft{Protocol: sampleBase(StateActive)}
	if err := CheckIntegrity(mislabelled); err == nil {
		t.Fatalf("expected state tag mismatch to be detected")
	}
}

type countingVisitor struct{ drafts, actives, completed int }

func (c *countingVisitor) VisitDraft(ProtocolDraft) error         { c.drafts++; return nil }
func (c *countingVisitor) VisitActive(ProtocolActive) error       { c.actives++; return nil }
func (c *countingVisitor) VisitCompleted(ProtocolCompleted) error { c.completed++; return nil }

func TestVisitRecord(t *testing.T) {
	v := &countingVisitor{}
	for _, rec := range []ProtocolRecord{ProtocolDraft{}, ProtocolActive{}, ProtocolCompleted{}, ProtocolDraft{}} {
		if err := VisitRecord(rec, v); err != nil {
			t.Fatalf("visit: %v", err)
		}
	}
	if v.drafts != 2 || v.actives != 1 || v.completed != 1 {
		t.Fatalf("unexpected visit counts: %+v", v)
	}
	if err := VisitRecord(nil, v); err == nil {
		t.Fatalf("expected error for nil record")
	}
}

func TestCloneRecordIsDeep(t *testing.T) {
	draft := ProtocolDraft{Protocol: sampleBase(StateDraft), Validation: NewValidationResult("h", []ValidationIssue{{ID: "i", Meta: map[string]string{"a": "b"}}}, time.Now())}
	cloned := CloneRecord(draft).(ProtocolDraft)
	cloned.Protocol.Peptides[0].Dose.PerInjectionMg = 9
	cloned.Protocol.Peptides[0].Dose.Schedule.InjectionsPerWeek = 3
	cloned.Protocol.Phases[0].Name = "changed"
	cloned.Validation.Issues[0].Meta["a"] = "z"
	if draft.Protocol.Peptides[0].Dose.PerInjectionMg != 0.25 {
		t.Fatalf("dose shared between clones")
	}
	if draft.Protocol.Peptides[0].Dose.Schedule.InjectionsPerWeek != 1 {
		t.Fatalf("schedule shared between clones")
	}
	if draft.Protocol.Phases[0].Name != "Loading" {
		t.Fatalf("phases shared between clones")
	}
	if draft.Validation.Issues[0].Meta["a"] != "b" {
		t.Fatalf("issue meta shared between clones")
	}
}

func TestValidationResultValidity(t *testing.T) {
	res := NewValidationResult("h", []ValidationIssue{{Severity: SeverityWarning}, {Severity: SeverityInfo}}, time.Now())
	if !res.Valid {
		t.Fatalf("warnings and info must not invalidate")
	}
	res = NewValidationResult("h", []ValidationIssue{{Severity: SeverityError}, {Severity: SeverityWarning}}, time.Now())
	if res.Valid || len(res.BlockingIssues()) != 1 || res.Count(SeverityWarning) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	pending := PendingValidation()
	if pending.Valid || pending.Evaluated() {
		t.Fatalf("pending validation must be invalid and unevaluated")
	}
}

func TestCalculationErrorMatching(t *testing.T) {
	var err error = VolumeTooLarge(0.4)
	if !errors.Is(err, ErrVolumeTooLarge) {
		t.Fatalf("expected sentinel match")
	}
	if errors.Is(err, ErrVolumeTooSmall) {
		t.Fatalf("unexpected sentinel match")
	}
	ce, ok := AsCalculationError(err)
	if !ok || ce.Value != 0.4 || ce.Suggestion == "" {
		t.Fatalf("unexpected calculation error: %+v", ce)
	}
	if !strings.Contains(err.Error(), "volume_too_large") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
