// Package lifecycle moves protocol records through Draft, Active and
// Completed. Activation is gated by the safety verdict and by the draft's
// proof that nothing changed since that verdict was produced.
package lifecycle

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"dosecore/pkg/domain"
)

// transitions lists the in-place moves each state allows. Spawning a new
// draft is not an in-place move and is legal from every state.
var transitions = map[domain.ProtocolState]map[domain.ProtocolState]struct{}{
	domain.StateDraft:     {domain.StateActive: {}},
	domain.StateActive:    {domain.StateCompleted: {}},
	domain.StateCompleted: {},
}

// CanTransition reports whether a record in from may move to to in place.
func CanTransition(from, to domain.ProtocolState) bool {
	_, ok := transitions[from][to]
	return ok
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source used for stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides protocol ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Machine) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// Machine applies lifecycle transitions. It holds no protocol state; every
// method returns a new record and leaves its input untouched.
type Machine struct {
	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	entropy *rand.Rand
}

// New constructs a Machine. IDs default to ULIDs and stamps to UTC wall time.
func New(opts ...Option) *Machine {
	m := &Machine{
		now:     func() time.Time { return time.Now().UTC() },
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- IDs need uniqueness, not secrecy
	}
	m.newID = m.ulid
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) ulid() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(m.now()), m.entropy).String()
}

// Now returns the machine's current time.
func (m *Machine) Now() time.Time {
	return m.now()
}

// NewDraft creates a version 1 draft carrying an unevaluated verdict.
func (m *Machine) NewDraft(name string, metadata domain.ProtocolMetadata, peptides []domain.ProtocolPeptide, phases []domain.ProtocolPhase) domain.ProtocolDraft {
	now := m.now()
	base := domain.ProtocolBase{
		ID:        m.newID(),
		Version:   1,
		State:     domain.StateDraft,
		Name:      strings.TrimSpace(name),
		Metadata:  metadata,
		Peptides:  peptides,
		Phases:    phases,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return domain.ProtocolDraft{Protocol: base.Clone(), Validation: domain.PendingValidation()}
}

// CanActivate reports whether draft carries a passing verdict for its exact
// current content.
func CanActivate(draft domain.ProtocolDraft) bool {
	return draft.Validation.Valid && draft.LastValidatedHash == draft.Validation.Hash
}

// Activate promotes draft to Active. It returns false, and no record, when
// CanActivate does not hold.
func (m *Machine) Activate(draft domain.ProtocolDraft) (domain.ProtocolActive, bool) {
	if !CanActivate(draft) {
		return domain.ProtocolActive{}, false
	}
	now := m.now()
	base := draft.Protocol.Clone()
	base.Version++
	base.State = domain.StateActive
	base.UpdatedAt = now
	validation := draft.Validation.Clone()
	return domain.ProtocolActive{
		Protocol:   base,
		Validation: validation,
		Snapshot:   domain.ActiveProtocolSnapshot{ValidationHash: validation.Hash, ActivatedAt: now},
	}, true
}

// CanComplete reports whether active may be completed. Completion carries no
// precondition beyond an intact snapshot pairing.
func CanComplete(active domain.ProtocolActive) bool {
	return domain.CheckIntegrity(active) == nil
}

// Complete finishes active, carrying its verdict and snapshot forward.
func (m *Machine) Complete(active domain.ProtocolActive) (domain.ProtocolCompleted, bool) {
	if !CanComplete(active) {
		return domain.ProtocolCompleted{}, false
	}
	now := m.now()
	base := active.Protocol.Clone()
	base.Version++
	base.State = domain.StateCompleted
	base.UpdatedAt = now
	return domain.ProtocolCompleted{
		Protocol:    base,
		Validation:  active.Validation.Clone(),
		Snapshot:    active.Snapshot,
		CompletedAt: now,
	}, true
}

// CreateDraft spawns a new lineage from any record. The copy shares nothing
// with source, links back through ParentID and starts unevaluated. An empty
// name keeps the source name.
func (m *Machine) CreateDraft(source domain.ProtocolRecord, name string) domain.ProtocolDraft {
	src := source.Base()
	if strings.TrimSpace(name) == "" {
		name = src.Name
	}
	parent := src.ID
	draft := m.NewDraft(name, src.Metadata, src.Peptides, src.Phases)
	draft.Protocol.ParentID = &parent
	return draft
}

// Edit applies fn to a copy of the draft's protocol. The result is stale: its
// LastValidatedHash is cleared until a new verdict is applied.
func (m *Machine) Edit(draft domain.ProtocolDraft, fn func(*domain.ProtocolBase)) domain.ProtocolDraft {
	base := draft.Protocol.Clone()
	id, version, created, parent := base.ID, base.Version, base.CreatedAt, base.ParentID
	fn(&base)
	base.ID, base.Version, base.CreatedAt, base.ParentID = id, version, created, parent
	base.State = domain.StateDraft
	base.UpdatedAt = m.now()
	return domain.ProtocolDraft{
		Protocol:   base,
		Validation: draft.Validation.Clone(),
	}
}

// ApplyValidation attaches result to draft and records which content it
// covers.
func ApplyValidation(draft domain.ProtocolDraft, result domain.ValidationResult) domain.ProtocolDraft {
	draft.Protocol = draft.Protocol.Clone()
	draft.Validation = result.Clone()
	draft.LastValidatedHash = result.Hash
	return draft
}
