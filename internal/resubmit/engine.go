// Package resubmit creates a new version of a timesheet claim, links it to
// the version it replaces, and records what changed and why on both records.
//
// A resubmission is two independent writes: the new claim first, then the
// updated original. There is no multi-item transaction. If the second write
// fails the new claim exists with its back-link while the original does not
// yet point forward; [Result.Outcome] reports this as
// [OutcomePartiallyApplied] so callers can reconcile.
package resubmit

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/kylejryan/timesheet-claim-chains/internal/api"
	"github.com/kylejryan/timesheet-claim-chains/internal/apperr"
	"github.com/kylejryan/timesheet-claim-chains/internal/ddb"
	"github.com/kylejryan/timesheet-claim-chains/internal/models"
	"github.com/kylejryan/timesheet-claim-chains/internal/validate"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store reads and writes claims by composite key. ConditionalWrites reports
// whether PutClaim enforces its [ddb.PutCondition].
type Store interface {
	GetClaim(ctx context.Context, companyID, timesheetID string) (*models.Claim, error)
	PutClaim(ctx context.Context, c *models.Claim, cond ddb.PutCondition) error
	ConditionalWrites() bool
}

// ChainResolver materialises a chain from its original claim.
type ChainResolver interface {
	ResolveForward(ctx context.Context, companyID, originalClaimID string) (*models.ForwardChain, error)
}

// Outcome describes how much of a resubmission reached the store.
type Outcome string

// Possible values for Outcome
const (
	OutcomeFailed           Outcome = "Failed"
	OutcomePartiallyApplied Outcome = "PartiallyApplied"
	OutcomeSucceeded        Outcome = "FullySucceeded"
)

// Request asks for a new version of an existing claim.
type Request struct {
	CompanyID     string
	TimesheetID   string
	UpdatedFields map[string]any
	Reason        string
	RequestedBy   string // optional caller identity recorded in the history entries
}

// Result is returned by [Engine.Resubmit], also alongside an error once a write has been attempted.
type Result struct {
	Outcome         Outcome
	NewClaimWritten bool
	OriginalClaim   *models.Claim // the original as written (or as it would have been written)
	NewClaim        *models.Claim
	Chain           *models.ForwardChain // nil when the chain could not be materialised
}

// Engine performs resubmissions against a [Store].
type Engine struct {
	store  Store
	chains ChainResolver
	clock  func() time.Time
	newID  func() string
	logger *zap.Logger
}

// Option configures an [Engine].
type Option func(*Engine)

// WithClock sets the clock used for timestamps. Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithIDGenerator sets the generator for new timesheet ids. Defaults to random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
func New(store Store, chains ChainResolver, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		chains: chains,
		clock:  time.Now,
		newID:  uuid.NewString,
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Resubmit reads the claim named by req, writes its successor and the
// forward-linked original, and resolves the chain from the original claim.
//
// Validation failures, a missing claim and, with a guarding store, a claim
// that was already resubmitted return before anything is written.
// Once a write has been attempted the Result is returned even on error.
func (e *Engine) Resubmit(ctx context.Context, req Request) (*Result, error) {
	if err := validate.Resubmission(req.CompanyID, req.TimesheetID, req.Reason, req.UpdatedFields); err != nil {
		return nil, err
	}

	log := e.logger.With(zap.String("company_id", req.CompanyID), zap.String("timesheet_id", req.TimesheetID))

	current, err := e.store.GetClaim(ctx, req.CompanyID, req.TimesheetID)
	if err != nil {
		return nil, apperr.StorageFailure(err, api.MsgRegenerateError)
	}
	if current == nil {
		return nil, apperr.NotFound("Claim not found")
	}

	if to := current.ResubmittedTo; to != nil {
		// A guarded store would reject the second write, so nothing is written.
		if e.store.ConditionalWrites() {
			return nil, apperr.Conflict(
				fmt.Errorf("claim %s/%s already resubmitted to %s: %w", req.CompanyID, req.TimesheetID, to.TimesheetID, ddb.ErrConditionFailed),
				"Claim has already been resubmitted")
		}
		log.Warn("claim was already resubmitted; its forward link will be replaced",
			zap.String("previous_successor", to.TimesheetID))
	}

	next, original := build(current, req, e.newID(), ddb.FormatISO(e.clock()))
	log = log.With(zap.String("new_timesheet_id", next.TimesheetID), zap.Int("version", next.Version))

	res := &Result{Outcome: OutcomeFailed, OriginalClaim: original, NewClaim: next}

	log.Info("creating new claim")
	if err := e.store.PutClaim(ctx, next, ddb.PutIfAbsent); err != nil {
		log.Error("failed to write new claim", zap.Error(err))
		return res, writeError(err)
	}
	res.NewClaimWritten = true
	res.Outcome = OutcomePartiallyApplied

	log.Info("updating original claim")
	if err := e.store.PutClaim(ctx, original, ddb.PutIfNotSuperseded); err != nil {
		log.Error("new claim written but original not linked forward", zap.Error(err))
		return res, writeError(err)
	}
	res.Outcome = OutcomeSucceeded

	chain, err := e.chains.ResolveForward(ctx, req.CompanyID, next.OriginalClaimID)
	switch {
	case err != nil:
		log.Warn("claim chain could not be resolved", zap.Error(err))
	case chain == nil:
		log.Warn("claim chain could not be resolved: original claim missing",
			zap.String("original_claim_id", next.OriginalClaimID))
	}
	res.Chain = chain

	return res, nil
}

func writeError(err error) error {
	if errors.Is(err, ddb.ErrConditionFailed) {
		return apperr.Conflict(err, "Claim was resubmitted concurrently")
	}
	return apperr.StorageFailure(err, api.MsgRegenerateError)
}

// build computes the successor of current and the updated current record.
// Neither input is modified.
func build(current *models.Claim, req Request, newID, now string) (next, original *models.Claim) {
	prev := current.EffectiveVersion()
	chainID := current.ChainID()

	changes := make([]models.Change, 0, len(req.UpdatedFields))
	for _, field := range slices.Sorted(maps.Keys(req.UpdatedFields)) {
		old, _ := current.Field(field)
		changes = append(changes, models.Change{
			Field:     field,
			OldValue:  old,
			NewValue:  req.UpdatedFields[field],
			Timestamp: now,
		})
	}

	from := models.Link{
		CompanyID:   req.CompanyID,
		TimesheetID: req.TimesheetID,
		Version:     prev,
		Timestamp:   now,
		Reason:      req.Reason,
		Changes:     changes,
	}

	priorChanges := []models.Change{}
	if current.ResubmittedFrom != nil && current.ResubmittedFrom.Changes != nil {
		priorChanges = current.ResubmittedFrom.Changes
	}

	next = current.Clone()
	if next.Fields == nil && len(req.UpdatedFields) > 0 {
		next.Fields = make(map[string]any, len(req.UpdatedFields))
	}
	maps.Copy(next.Fields, req.UpdatedFields)
	next.TimesheetID = newID
	next.BillingStatus = models.StatusSubmitted
	next.Version = prev + 1
	next.OriginalClaimID = chainID
	next.ResubmittedFrom = &from
	next.ResubmittedTo = nil
	next.ResubmissionHistory = append(next.ResubmissionHistory, models.HistoryEvent{
		Type:        models.LinkResubmittedFrom,
		Link:        from,
		Status:      current.BillingStatus,
		RequestedBy: req.RequestedBy,
	})
	next.VersionHistory = append(next.VersionHistory, models.VersionEntry{
		Version:     prev,
		TimesheetID: current.TimesheetID,
		Timestamp:   current.UpdatedAt,
		Status:      current.BillingStatus,
		Changes:     priorChanges,
	})
	next.UpdatedAt = now
	if next.CreatedAt == "" {
		next.CreatedAt = now
	}

	to := models.Link{
		CompanyID:   req.CompanyID,
		TimesheetID: newID,
		Version:     prev + 1,
		Timestamp:   now,
		Reason:      req.Reason,
		Changes:     changes,
	}

	original = current.Clone()
	original.BillingStatus = models.StatusResubmitted
	original.Version = prev
	original.ResubmittedTo = &to
	original.ResubmissionHistory = append(original.ResubmissionHistory, models.HistoryEvent{
		Type:        models.LinkResubmittedTo,
		Link:        to,
		Status:      models.StatusSubmitted,
		RequestedBy: req.RequestedBy,
	})
	original.VersionHistory = append(original.VersionHistory, models.VersionEntry{
		Version:     prev + 1,
		TimesheetID: newID,
		Timestamp:   now,
		Status:      models.StatusSubmitted,
		Changes:     changes,
	})
	original.UpdatedAt = now

	return next, original
}
