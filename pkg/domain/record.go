package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolRecord is the closed sum of ProtocolDraft, ProtocolActive and
// ProtocolCompleted. Use VisitRecord (or a type switch) to branch on variant.
type ProtocolRecord interface {
	Base() ProtocolBase
	Result() ValidationResult
	State() ProtocolState
	isProtocolRecord()
}

// ProtocolDraft is an editable protocol. LastValidatedHash is stamped when a
// validation result is applied and cleared by any edit; activation requires it
// to match Validation.Hash.
type ProtocolDraft struct {
	Protocol          ProtocolBase     `json:"protocol"`
	Validation        ValidationResult `json:"validation"`
	LastValidatedHash string           `json:"last_validated_hash,omitempty"`
}

// ProtocolActive is a protocol in force.
type ProtocolActive struct {
	Protocol   ProtocolBase           `json:"protocol"`
	Validation ValidationResult       `json:"validation"`
	Snapshot   ActiveProtocolSnapshot `json:"snapshot"`
}

// ProtocolCompleted is a finished protocol.
type ProtocolCompleted struct {
	Protocol    ProtocolBase           `json:"protocol"`
	Validation  ValidationResult       `json:"validation"`
	Snapshot    ActiveProtocolSnapshot `json:"snapshot"`
	CompletedAt time.Time              `json:"completed_at"`
}

func (d ProtocolDraft) Base() ProtocolBase       { return d.Protocol }
func (d ProtocolDraft) Result() ValidationResult { return d.Validation }
func (ProtocolDraft) State() ProtocolState       { return StateDraft }
func (ProtocolDraft) isProtocolRecord()          {}

func (a ProtocolActive) Base() ProtocolBase       { return a.Protocol }
func (a ProtocolActive) Result() ValidationResult { return a.Validation }
func (ProtocolActive) State() ProtocolState       { return StateActive }
func (ProtocolActive) isProtocolRecord()          {}

func (c ProtocolCompleted) Base() ProtocolBase       { return c.Protocol }
func (c ProtocolCompleted) Result() ValidationResult { return c.Validation }
func (ProtocolCompleted) State() ProtocolState       { return StateCompleted }
func (ProtocolCompleted) isProtocolRecord()          {}

// RecordVisitor handles every ProtocolRecord variant. Implementations cannot
// forget a variant without failing to satisfy the interface.
type RecordVisitor interface {
	VisitDraft(ProtocolDraft) error
	VisitActive(ProtocolActive) error
	VisitCompleted(ProtocolCompleted) error
}

// VisitRecord dispatches r to the matching visitor method.
func VisitRecord(r ProtocolRecord, v RecordVisitor) error {
	switch rec := r.(type) {
	case ProtocolDraft:
		return v.VisitDraft(rec)
	case ProtocolActive:
		return v.VisitActive(rec)
	case ProtocolCompleted:
		return v.VisitCompleted(rec)
	case nil:
		return fmt.Errorf("nil protocol record")
	default:
		return fmt.Errorf("unknown protocol record %T", r)
	}
}

// CheckIntegrity verifies the snapshot pairing of Active and Completed records
// and that each variant's embedded state tag matches the variant.
func CheckIntegrity(r ProtocolRecord) error {
	if r == nil {
		return fmt.Errorf("nil protocol record")
	}
	base := r.Base()
	if base.State != r.State() {
		return fmt.Errorf("protocol %s: state %q does not match %s record", base.ID, base.State, r.State())
	}
	var snapshot *ActiveProtocolSnapshot
	switch rec := r.(type) {
	case ProtocolActive:
		snapshot = &rec.Snapshot
	case ProtocolCompleted:
		snapshot = &rec.Snapshot
	}
	if snapshot != nil && snapshot.ValidationHash != r.Result().Hash {
		return fmt.Errorf("protocol %s: snapshot hash %q does not match validation hash %q", base.ID, snapshot.ValidationHash, r.Result().Hash)
	}
	return nil
}

// recordEnvelope is the tagged wire form shared by all variants.
type recordEnvelope struct {
	Type              ProtocolState           `json:"type"`
	Protocol          ProtocolBase            `json:"protocol"`
	Validation        ValidationResult        `json:"validation"`
	LastValidatedHash string                  `json:"last_validated_hash,omitempty"`
	Snapshot          *ActiveProtocolSnapshot `json:"snapshot,omitempty"`
	CompletedAt       *time.Time              `json:"completed_at,omitempty"`
}

func envelopeOf(r ProtocolRecord) (recordEnvelope, error) {
	switch rec := r.(type) {
	case ProtocolDraft:
		return recordEnvelope{Type: StateDraft, Protocol: rec.Protocol, Validation: rec.Validation, LastValidatedHash: rec.LastValidatedHash}, nil
	case ProtocolActive:
		snap := rec.Snapshot
		return recordEnvelope{Type: StateActive, Protocol: rec.Protocol, Validation: rec.Validation, Snapshot: &snap}, nil
	case ProtocolCompleted:
		snap := rec.Snapshot
		at := rec.CompletedAt
		return recordEnvelope{Type: StateCompleted, Protocol: rec.Protocol, Validation: rec.Validation, Snapshot: &snap, CompletedAt: &at}, nil
	default:
		return recordEnvelope{}, fmt.Errorf("unknown protocol record %T", r)
	}
}

func (e recordEnvelope) record() (ProtocolRecord, error) {
	switch e.Type {
	case StateDraft:
		return ProtocolDraft{Protocol: e.Protocol, Validation: e.Validation, LastValidatedHash: e.LastValidatedHash}, nil
	case StateActive:
		if e.Snapshot == nil {
			return nil, fmt.Errorf("active protocol %s missing snapshot", e.Protocol.ID)
		}
		return ProtocolActive{Protocol: e.Protocol, Validation: e.Validation, Snapshot: *e.Snapshot}, nil
	case StateCompleted:
		if e.Snapshot == nil {
			return nil, fmt.Errorf("completed protocol %s missing snapshot", e.Protocol.ID)
		}
		rec := ProtocolCompleted{Protocol: e.Protocol, Validation: e.Validation, Snapshot: *e.Snapshot}
		if e.CompletedAt != nil {
			rec.CompletedAt = *e.CompletedAt
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unknown protocol record type %q", e.Type)
	}
}

// MarshalRecord encodes r with its "type" discriminator.
func MarshalRecord(r ProtocolRecord) ([]byte, error) {
	env, err := envelopeOf(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// UnmarshalRecord decodes a tagged record produced by MarshalRecord.
func UnmarshalRecord(data []byte) (ProtocolRecord, error) {
	var env recordEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode protocol record: %w", err)
	}
	return env.record()
}

// MarshalJSON implements json.Marshaler with the tagged envelope.
func (d ProtocolDraft) MarshalJSON() ([]byte, error) { return MarshalRecord(d) }

// MarshalJSON implements json.Marshaler with the tagged envelope.
func (a ProtocolActive) MarshalJSON() ([]byte, error) { return MarshalRecord(a) }

// MarshalJSON implements json.Marshaler with the tagged envelope.
func (c ProtocolCompleted) MarshalJSON() ([]byte, error) { return MarshalRecord(c) }

// UnmarshalJSON decodes a tagged draft envelope.
func (d *ProtocolDraft) UnmarshalJSON(data []byte) error {
	rec, err := unmarshalVariant(data, StateDraft)
	if err != nil {
		return err
	}
	*d = rec.(ProtocolDraft)
	return nil
}

// UnmarshalJSON decodes a tagged active envelope.
func (a *ProtocolActive) UnmarshalJSON(data []byte) error {
	rec, err := unmarshalVariant(data, StateActive)
	if err != nil {
		return err
	}
	*a = rec.(ProtocolActive)
	return nil
}

// UnmarshalJSON decodes a tagged completed envelope.
func (c *ProtocolCompleted) UnmarshalJSON(data []byte) error {
	rec, err := unmarshalVariant(data, StateCompleted)
	if err != nil {
		return err
	}
	*c = rec.(ProtocolCompleted)
	return nil
}

func unmarshalVariant(data []byte, want ProtocolState) (ProtocolRecord, error) {
	rec, err := UnmarshalRecord(data)
	if err != nil {
		return nil, err
	}
	if rec.State() != want {
		return nil, fmt.Errorf("expected %s record, got %s", want, rec.State())
	}
	return rec, nil
}

// CloneRecord deep-copies any record variant.
func CloneRecord(r ProtocolRecord) ProtocolRecord {
	switch rec := r.(type) {
	case ProtocolDraft:
		rec.Protocol = rec.Protocol.Clone()
		rec.Validation = rec.Validation.Clone()
		return rec
	case ProtocolActive:
		rec.Protocol = rec.Protocol.Clone()
		rec.Validation = rec.Validation.Clone()
		return rec
	case ProtocolCompleted:
		rec.Protocol = rec.Protocol.Clone()
		rec.Validation = rec.Validation.Clone()
		return rec
	default:
		return r
	}
}
