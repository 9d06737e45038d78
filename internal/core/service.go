// Package core hosts the protocol service: a single writer that owns every
// read-modify-write cycle against the storage container, with logging,
// metrics, tracing and auditing around each operation.
package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dosecore/internal/devices"
	"dosecore/internal/dosing"
	"dosecore/internal/lifecycle"
	"dosecore/internal/safety"
	"dosecore/internal/supply"
	"dosecore/pkg/domain"
)

// Operation names reported to metrics, traces and audit entries.
const (
	OpCalculate       = "calculate"
	OpPlanSupply      = "plan_supply"
	OpCreateProtocol  = "create_protocol"
	OpEditDraft       = "edit_draft"
	OpValidateDraft   = "validate_draft"
	OpActivate        = "activate_protocol"
	OpComplete        = "complete_protocol"
	OpCreateDraftFrom = "create_draft_from"
	OpGet             = "get_protocol"
	OpList            = "list_protocols"
	OpDelete          = "delete_protocol"
)

type auditTarget struct {
	entity AuditEntity
	action AuditAction
}

var operationAudit = map[string]auditTarget{
	OpCalculate:       {AuditEntityCalculation, ActionCalculate},
	OpPlanSupply:      {AuditEntitySupply, ActionCalculate},
	OpCreateProtocol:  {AuditEntityProtocol, ActionCreate},
	OpEditDraft:       {AuditEntityProtocol, ActionUpdate},
	OpValidateDraft:   {AuditEntityProtocol, ActionValidate},
	OpActivate:        {AuditEntityProtocol, ActionActivate},
	OpComplete:        {AuditEntityProtocol, ActionComplete},
	OpCreateDraftFrom: {AuditEntityProtocol, ActionCreate},
	OpGet:             {AuditEntityProtocol, ActionRead},
	OpList:            {AuditEntityProtocol, ActionRead},
	OpDelete:          {AuditEntityProtocol, ActionDelete},
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithClock overrides the time source for stamps and audit entries.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithCalculator replaces the dosing calculator (and with it the device
// catalog used during validation).
func WithCalculator(c *dosing.Calculator) Option {
	return func(s *Service) {
		if c != nil {
			s.calc = c
		}
	}
}

// WithPlanner replaces the supply planner.
func WithPlanner(p *supply.Planner) Option {
	return func(s *Service) {
		if p != nil {
			s.planner = p
		}
	}
}

// WithSafetyEngine replaces the rule engine.
func WithSafetyEngine(e *safety.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithLimits sets the safety limits applied on validation.
func WithLimits(l safety.Limits) Option {
	return func(s *Service) { s.limits = l }
}

// WithReference sets the compound reference data merged into the limits.
func WithReference(r domain.PeptideReference) Option {
	return func(s *Service) { s.reference = r }
}

// WithMachine replaces the lifecycle machine, e.g. to control IDs in tests.
func WithMachine(m *lifecycle.Machine) Option {
	return func(s *Service) {
		if m != nil {
			s.machine = m
		}
	}
}

// Service serializes protocol mutations through one goroutine. Calculator and
// planner calls are pure and bypass the queue.
type Service struct {
	store     domain.ProtocolStore
	calc      *dosing.Calculator
	planner   *supply.Planner
	engine    *safety.Engine
	limits    safety.Limits
	reference domain.PeptideReference
	machine   *lifecycle.Machine

	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder

	requests  chan request
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// mutation inspects or changes the loaded container and reports whether it
// must be saved.
type mutation func(ctx context.Context, shape *domain.ProtocolStorageShape) (changed bool, err error)

type request struct {
	ctx   context.Context
	fn    mutation
	reply chan error
}

// NewService starts the writer goroutine over store. Close stops it.
func NewService(store domain.ProtocolStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		limits:   safety.DefaultLimits(),
		clock:    ClockFunc(nil),
		logger:   noopLogger{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		audit:    noopAuditRecorder{},
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.calc == nil {
		s.calc = dosing.Default()
	}
	if s.planner == nil {
		s.planner = supply.NewPlanner(s.calc, supply.DefaultThresholds())
	}
	if s.engine == nil {
		s.engine = safety.NewDefaultEngine()
	}
	if s.machine == nil {
		s.machine = lifecycle.New(lifecycle.WithClock(s.clock.Now))
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Devices returns the device catalog used for calculation and validation.
func (s *Service) Devices() *devices.Registry { return s.calc.Registry() }

// Limits returns the configured safety limits.
func (s *Service) Limits() safety.Limits { return s.limits }

// Planner returns the supply planner.
func (s *Service) Planner() *supply.Planner { return s.planner }

// Close stops the writer and closes the store. Later calls return the first
// result.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		if s.store != nil {
			s.closeErr = s.store.Close()
		}
	})
	return s.closeErr
}

func (s *Service) loop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.requests:
			req.reply <- s.apply(req.ctx, req.fn)
		case <-s.done:
			return
		}
	}
}

func (s *Service) apply(ctx context.Context, fn mutation) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	loadCtx, span := s.tracer.Start(ctx, "store.load")
	shape, err := s.store.Load(loadCtx)
	span.End(err)
	if err != nil {
		return fmt.Errorf("load protocols: %w", err)
	}
	changed, err := fn(ctx, &shape)
	if err != nil || !changed {
		return err
	}
	shape.LastUpdated = s.clock.Now()
	saveCtx, span := s.tracer.Start(ctx, "store.save")
	err = s.store.Save(saveCtx, shape)
	span.End(err)
	if err != nil {
		return fmt.Errorf("save protocols: %w", err)
	}
	return nil
}

func (s *Service) submit(ctx context.Context, fn mutation) error {
	req := request{ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.requests <- req:
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outcome carries what an operation touched for the audit trail.
type outcome struct {
	id      string
	version int
	hash    string
}

func recordOutcome(rec domain.ProtocolRecord) outcome {
	if rec == nil {
		return outcome{}
	}
	base := rec.Base()
	return outcome{id: base.ID, version: base.Version, hash: rec.Result().Hash}
}

// run wraps fn with tracing, metrics, logging and auditing.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) (outcome, error)) error {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	out, err := fn(ctx)
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "id", out.id, "error", err, "duration", duration)
		s.recordAudit(ctx, op, out, duration, err)
		return err
	}
	s.logger.Info("operation completed", "operation", op, "id", out.id, "version", out.version, "duration", duration)
	s.recordAudit(ctx, op, out, duration, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, op string, out outcome, duration time.Duration, err error) {
	target, ok := operationAudit[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation:      op,
		Entity:         target.entity,
		Action:         target.action,
		EntityID:       out.id,
		Version:        out.version,
		ValidationHash: out.hash,
		Status:         AuditStatusSuccess,
		Duration:       duration,
		Timestamp:      s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// Calculate runs the dosing calculator.
func (s *Service) Calculate(ctx context.Context, in domain.CalculatorInput) (domain.CalculatorOutput, error) {
	var result domain.CalculatorOutput
	err := s.run(ctx, OpCalculate, func(context.Context) (outcome, error) {
		var err error
		result, err = s.calc.Calculate(in)
		return outcome{}, err
	})
	return result, err
}

// PlanSupply projects vial usage, cost and reorder timing.
func (s *Service) PlanSupply(ctx context.Context, in domain.SupplyInput) (domain.SupplyOutput, error) {
	var result domain.SupplyOutput
	err := s.run(ctx, OpPlanSupply, func(context.Context) (outcome, error) {
		var err error
		result, err = s.planner.Plan(in)
		return outcome{}, err
	})
	return result, err
}

// CreateProtocolInput is the content of a new protocol.
type CreateProtocolInput struct {
	Name     string                   `json:"name"`
	Metadata domain.ProtocolMetadata  `json:"metadata"`
	Peptides []domain.ProtocolPeptide `json:"peptides"`
	Phases   []domain.ProtocolPhase   `json:"phases"`
}

// CreateProtocol stores a new, unvalidated draft.
func (s *Service) CreateProtocol(ctx context.Context, in CreateProtocolInput) (domain.ProtocolDraft, error) {
	var draft domain.ProtocolDraft
	err := s.run(ctx, OpCreateProtocol, func(ctx context.Context) (outcome, error) {
		if strings.TrimSpace(in.Name) == "" {
			return outcome{}, fmt.Errorf("protocol name required")
		}
		draft = s.machine.NewDraft(in.Name, in.Metadata, in.Peptides, in.Phases)
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			shape.Upsert(draft)
			return true, nil
		})
		return recordOutcome(draft), err
	})
	return draft, err
}

// EditDraft applies fn to the draft's content. An error from fn aborts the
// edit. The edited draft must be validated again before activation.
func (s *Service) EditDraft(ctx context.Context, id string, fn func(*domain.ProtocolBase) error) (domain.ProtocolDraft, error) {
	var edited domain.ProtocolDraft
	err := s.run(ctx, OpEditDraft, func(ctx context.Context) (outcome, error) {
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			draft, err := findDraft(shape, id, domain.StateDraft, "only drafts are editable")
			if err != nil {
				return false, err
			}
			var fnErr error
			edited = s.machine.Edit(draft, func(p *domain.ProtocolBase) { fnErr = fn(p) })
			if fnErr != nil {
				return false, fmt.Errorf("edit protocol %s: %w", id, fnErr)
			}
			shape.Upsert(edited)
			return true, nil
		})
		return outcome{id: id, version: edited.Protocol.Version}, err
	})
	return edited, err
}

// ValidateDraft evaluates the draft against the configured limits and
// reference data and stores the verdict on it.
func (s *Service) ValidateDraft(ctx context.Context, id string) (domain.ProtocolDraft, error) {
	var validated domain.ProtocolDraft
	err := s.run(ctx, OpValidateDraft, func(ctx context.Context) (outcome, error) {
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			draft, err := findDraft(shape, id, domain.StateDraft, "only drafts are validated")
			if err != nil {
				return false, err
			}
			result := s.engine.Validate(draft.Protocol, s.limits, safety.ValidationContext{
				Reference: s.reference,
				Devices:   s.calc.Registry(),
				Now:       s.clock.Now(),
			})
			validated = lifecycle.ApplyValidation(draft, result)
			shape.Upsert(validated)
			return true, nil
		})
		return recordOutcome(validated), err
	})
	return validated, err
}

// Activate promotes a validated, unchanged draft.
func (s *Service) Activate(ctx context.Context, id string) (domain.ProtocolActive, error) {
	var active domain.ProtocolActive
	err := s.run(ctx, OpActivate, func(ctx context.Context) (outcome, error) {
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			draft, err := findDraft(shape, id, domain.StateActive, "only drafts can be activated")
			if err != nil {
				return false, err
			}
			var ok bool
			active, ok = s.machine.Activate(draft)
			if !ok {
				return false, ErrTransitionRejected{ID: id, From: domain.StateDraft, To: domain.StateActive, Reason: activationBlocker(draft)}
			}
			shape.Upsert(active)
			return true, nil
		})
		return recordOutcome(active), err
	})
	return active, err
}

// Complete finishes an active protocol.
func (s *Service) Complete(ctx context.Context, id string) (domain.ProtocolCompleted, error) {
	var completed domain.ProtocolCompleted
	err := s.run(ctx, OpComplete, func(ctx context.Context) (outcome, error) {
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			rec, _, ok := shape.Find(id)
			if !ok {
				return false, ErrNotFound{ID: id}
			}
			active, isActive := rec.(domain.ProtocolActive)
			if !isActive {
				return false, ErrTransitionRejected{ID: id, From: rec.State(), To: domain.StateCompleted, Reason: "only active protocols can be completed"}
			}
			completed, ok = s.machine.Complete(active)
			if !ok {
				reason := "record failed integrity check"
				if err := domain.CheckIntegrity(active); err != nil {
					reason = err.Error()
				}
				return false, ErrTransitionRejected{ID: id, From: domain.StateActive, To: domain.StateCompleted, Reason: reason}
			}
			shape.Upsert(completed)
			return true, nil
		})
		return recordOutcome(completed), err
	})
	return completed, err
}

// CreateDraftFrom starts a new draft lineage from any record. An empty name
// keeps the source name.
func (s *Service) CreateDraftFrom(ctx context.Context, id, name string) (domain.ProtocolDraft, error) {
	var draft domain.ProtocolDraft
	err := s.run(ctx, OpCreateDraftFrom, func(ctx context.Context) (outcome, error) {
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			rec, _, ok := shape.Find(id)
			if !ok {
				return false, ErrNotFound{ID: id}
			}
			draft = s.machine.CreateDraft(rec, name)
			shape.Upsert(draft)
			return true, nil
		})
		return recordOutcome(draft), err
	})
	return draft, err
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (domain.ProtocolRecord, error) {
	var rec domain.ProtocolRecord
	err := s.run(ctx, OpGet, func(ctx context.Context) (outcome, error) {
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			found, _, ok := shape.Find(id)
			if !ok {
				return false, ErrNotFound{ID: id}
			}
			rec = found
			return false, nil
		})
		out := recordOutcome(rec)
		out.id = id
		return out, err
	})
	return rec, err
}

// ListFilter narrows List. The zero value lists everything.
type ListFilter struct {
	State domain.ProtocolState
	// ParentID keeps only drafts spawned from the given record.
	ParentID string
}

// List returns matching records ordered by creation time, then ID.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.ProtocolRecord, error) {
	var out []domain.ProtocolRecord
	err := s.run(ctx, OpList, func(ctx context.Context) (outcome, error) {
		return outcome{}, s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			out = out[:0]
			for _, rec := range shape.Filter(filter.State) {
				if filter.ParentID != "" {
					parent := rec.Base().ParentID
					if parent == nil || *parent != filter.ParentID {
						continue
					}
				}
				out = append(out, rec)
			}
			return false, nil
		})
	})
	return out, err
}

// Delete removes a draft. Active and completed records are history and
// cannot be deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.run(ctx, OpDelete, func(ctx context.Context) (outcome, error) {
		var out outcome
		err := s.submit(ctx, func(_ context.Context, shape *domain.ProtocolStorageShape) (bool, error) {
			rec, _, ok := shape.Find(id)
			if !ok {
				return false, ErrNotFound{ID: id}
			}
			out = recordOutcome(rec)
			if rec.State() != domain.StateDraft {
				return false, ErrTransitionRejected{ID: id, From: rec.State(), To: rec.State(), Reason: "only drafts can be deleted"}
			}
			shape.Remove(id)
			return true, nil
		})
		out.id = id
		return out, err
	})
}

// findDraft loads id and requires it to be a draft. to and reason describe
// the rejected move otherwise.
func findDraft(shape *domain.ProtocolStorageShape, id string, to domain.ProtocolState, reason string) (domain.ProtocolDraft, error) {
	rec, _, ok := shape.Find(id)
	if !ok {
		return domain.ProtocolDraft{}, ErrNotFound{ID: id}
	}
	draft, ok := rec.(domain.ProtocolDraft)
	if !ok {
		return domain.ProtocolDraft{}, ErrTransitionRejected{ID: id, From: rec.State(), To: to, Reason: reason}
	}
	return draft, nil
}

func activationBlocker(d domain.ProtocolDraft) string {
	switch {
	case !d.Validation.Evaluated():
		return "draft has not been validated"
	case d.LastValidatedHash != d.Validation.Hash:
		return "draft changed since it was validated"
	case !d.Validation.Valid:
		return fmt.Sprintf("validation reported %d blocking issue(s)", len(d.Validation.BlockingIssues()))
	default:
		return "activation refused"
	}
}
