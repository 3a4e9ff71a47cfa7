// Package chain resolves the versions of a claim chain by following the
// resubmittedTo and resubmittedFrom links stored on each record, one read at
// a time.
//
// Two entry points exist and they are seeded differently:
// [Resolver.ResolveForward] always starts at the chain's original claim and
// only walks forward, while [Resolver.ResolveChain] starts at whichever claim
// was asked for and walks both ways. On a chain with a missing record the two
// can return different sets of claims.
package chain

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/kylejryan/timesheet-claim-chains/internal/apperr"
	"github.com/kylejryan/timesheet-claim-chains/internal/models"

	"go.uber.org/zap"
)

// DefaultMaxDepth bounds the number of claims a single resolution will read.
const DefaultMaxDepth = 1000

// Store reads claims by composite key. GetClaim returns nil, nil when the claim does not exist.
type Store interface {
	GetClaim(ctx context.Context, companyID, timesheetID string) (*models.Claim, error)
}

// Resolver walks claim chains stored in a [Store].
type Resolver struct {
	store    Store
	logger   *zap.Logger
	maxDepth int
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithLogger sets the logger used for malformed-chain warnings.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxDepth caps how many claims one resolution may read. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

// NewResolver creates a Resolver reading from store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		logger:   zap.NewNop(),
		maxDepth: DefaultMaxDepth,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveForward reads the chain's original claim and follows resubmittedTo
// links until a link is absent or points at a missing claim. It returns
// nil, nil when the original claim itself does not exist.
func (r *Resolver) ResolveForward(ctx context.Context, companyID, originalClaimID string) (*models.ForwardChain, error) {
	root, err := r.store.GetClaim(ctx, companyID, originalClaimID)
	if err != nil {
		return nil, fmt.Errorf("read original claim: %w", err)
	}
	if root == nil {
		return nil, nil
	}

	seen := map[models.Key]struct{}{root.Key(): {}}
	next, err := r.walk(ctx, root, forward, seen)
	if err != nil {
		return nil, err
	}

	claims := append([]*models.Claim{root}, next...)
	sortByVersion(claims)

	versions := make([]models.ChainVersion, 0, len(claims))
	for _, c := range claims {
		v := models.ChainVersion{
			Version:     c.EffectiveVersion(),
			TimesheetID: c.TimesheetID,
			Status:      c.BillingStatus,
			Timestamp:   c.UpdatedAt,
			Changes:     []models.Change{},
		}
		if from := c.ResubmittedFrom; from != nil {
			if from.Changes != nil {
				v.Changes = from.Changes
			}
			v.Reason = from.Reason
		}
		versions = append(versions, v)
	}

	return &models.ForwardChain{OriginalClaim: claims[0], Versions: versions}, nil
}

// ResolveChain reads the named claim and walks both directions from it: forward
// along resubmittedTo and backward along resubmittedFrom, each walk stopping at
// the first absent link or missing claim. The result is ordered by version.
func (r *Resolver) ResolveChain(ctx context.Context, companyID, timesheetID string) (*models.Chain, error) {
	start, err := r.store.GetClaim(ctx, companyID, timesheetID)
	if err != nil {
		return nil, fmt.Errorf("read claim: %w", err)
	}
	if start == nil {
		return nil, apperr.NotFound("Claim not found")
	}

	seen := map[models.Key]struct{}{start.Key(): {}}

	after, err := r.walk(ctx, start, forward, seen)
	if err != nil {
		return nil, err
	}

	before, err := r.walk(ctx, start, backward, seen)
	if err != nil {
		return nil, err
	}
	slices.Reverse(before)

	claims := make([]*models.Claim, 0, len(before)+1+len(after))
	claims = append(claims, before...)
	claims = append(claims, start)
	claims = append(claims, after...)
	sortByVersion(claims)

	return &models.Chain{Claims: claims, TotalVersions: len(claims)}, nil
}

type direction int

const (
	forward direction = iota
	backward
)

func (d direction) String() string {
	if d == forward {
		return models.AttrResubmittedTo
	}
	return models.AttrResubmittedFrom
}

func (d direction) link(c *models.Claim) *models.Link {
	if d == forward {
		return c.ResubmittedTo
	}
	return c.ResubmittedFrom
}

// walk follows links from start in one direction and returns the claims read
// after start, nearest first. Keys already in seen end the walk, so a cyclic
// chain terminates instead of looping.
func (r *Resolver) walk(ctx context.Context, start *models.Claim, dir direction, seen map[models.Key]struct{}) ([]*models.Claim, error) {
	var out []*models.Claim

	cur := start
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		link := dir.link(cur)
		if link == nil || link.TimesheetID == "" {
			return out, nil
		}

		key := link.Key()
		if key.CompanyID == "" {
			key.CompanyID = cur.CompanyID
		}

		if _, ok := seen[key]; ok {
			r.logger.Warn("claim chain loops back on itself",
				zap.String("company_id", key.CompanyID),
				zap.String("timesheet_id", key.TimesheetID),
				zap.Stringer("direction", dir))
			return out, nil
		}

		if len(seen) >= r.maxDepth {
			r.logger.Warn("claim chain exceeds max depth",
				zap.String("company_id", key.CompanyID),
				zap.String("timesheet_id", key.TimesheetID),
				zap.Int("max_depth", r.maxDepth))
			return out, nil
		}

		next, err := r.store.GetClaim(ctx, key.CompanyID, key.TimesheetID)
		if err != nil {
			return nil, fmt.Errorf("follow %s link to %s/%s: %w", dir, key.CompanyID, key.TimesheetID, err)
		}
		if next == nil {
			return out, nil
		}

		seen[key] = struct{}{}
		out = append(out, next)
		cur = next
	}
}

func sortByVersion(claims []*models.Claim) {
	slices.SortStableFunc(claims, func(a, b *models.Claim) int {
		return cmp.Compare(a.EffectiveVersion(), b.EffectiveVersion())
	})
}
