// Package testutil provides an in-memory claim store for exercising the
// resubmission and chain packages without DynamoDB.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/kylejryan/timesheet-claim-chains/internal/ddb"
	"github.com/kylejryan/timesheet-claim-chains/internal/models"
)

// MemStore keeps claims in a map. Stored and returned claims are clones, so
// callers never share state with the store, matching a real round trip.
type MemStore struct {
	mu     sync.Mutex
	claims map[models.Key]*models.Claim

	// GetErr, when set, is returned by every GetClaim call.
	GetErr error
	// PutErr, when set, is called before each write with the 1-based write
	// number; a non-nil result fails that write.
	PutErr func(n int, c *models.Claim) error

	// Conditional makes PutClaim honour its PutCondition, like a repo built
	// with ddb.WithConditionalWrites(true).
	Conditional bool

	Gets int
	Puts int
}

// NewMemStore creates a store seeded with claims.
func NewMemStore(claims ...*models.Claim) *MemStore {
	s := &MemStore{claims: make(map[models.Key]*models.Claim)}
	for _, c := range claims {
		s.claims[c.Key()] = c.Clone()
	}
	return s
}

// GetClaim returns a copy of the stored claim, or nil, nil.
func (s *MemStore) GetClaim(_ context.Context, companyID, timesheetID string) (*models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Gets++
	if s.GetErr != nil {
		return nil, s.GetErr
	}

	c, ok := s.claims[models.Key{CompanyID: companyID, TimesheetID: timesheetID}]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

// PutClaim stores a copy of c.
func (s *MemStore) PutClaim(_ context.Context, c *models.Claim, cond ddb.PutCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Puts++
	if s.PutErr != nil {
		if err := s.PutErr(s.Puts, c); err != nil {
			return err
		}
	}

	if c == nil {
		return errors.New("claim cannot be nil")
	}

	existing, ok := s.claims[c.Key()]
	if !s.Conditional {
		cond = ddb.PutAlways
	}
	switch cond {
	case ddb.PutIfAbsent:
		if ok {
			return ddb.ErrConditionFailed
		}
	case ddb.PutIfNotSuperseded:
		if !ok || existing.ResubmittedTo != nil {
			return ddb.ErrConditionFailed
		}
	}

	s.claims[c.Key()] = c.Clone()
	return nil
}

// ConditionalWrites reports whether PutClaim honours its condition.
func (s *MemStore) ConditionalWrites() bool { return s.Conditional }

// Claim returns the stored claim without counting a read.
func (s *MemStore) Claim(companyID, timesheetID string) *models.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[models.Key{CompanyID: companyID, TimesheetID: timesheetID}]
	if !ok {
		return nil
	}
	return c.Clone()
}

// Len returns the number of stored claims.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}
