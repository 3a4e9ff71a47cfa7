// Package models defines the data models used in the application.
package models

import (
	"encoding/json"
	"maps"
	"slices"
)

// ClaimStatus represents the billing status of a timesheet claim.
type ClaimStatus string

// Statuses written by the resubmission flow. Other domain statuses pass through untouched.
const (
	StatusSubmitted   ClaimStatus = "Submitted"
	StatusResubmitted ClaimStatus = "Resubmitted"
)

// LinkType tags an entry of a claim's resubmission history.
type LinkType string

// Possible values for LinkType
const (
	LinkResubmittedFrom LinkType = "resubmittedFrom"
	LinkResubmittedTo   LinkType = "resubmittedTo"
)

// Attribute names managed by the chain. Everything else on a record is timesheet content.
const (
	AttrCompanyID           = "companyId"
	AttrTimesheetID         = "timesheetId"
	AttrBillingStatus       = "billingStatus"
	AttrVersion             = "version"
	AttrOriginalClaimID     = "originalClaimId"
	AttrResubmittedFrom     = "resubmittedFrom"
	AttrResubmittedTo       = "resubmittedTo"
	AttrResubmissionHistory = "resubmissionHistory"
	AttrVersionHistory      = "versionHistory"
	AttrCreatedAt           = "createdAt"
	AttrUpdatedAt           = "updatedAt"
)

var reserved = map[string]struct{}{
	AttrCompanyID:           {},
	AttrTimesheetID:         {},
	AttrBillingStatus:       {},
	AttrVersion:             {},
	AttrOriginalClaimID:     {},
	AttrResubmittedFrom:     {},
	AttrResubmittedTo:       {},
	AttrResubmissionHistory: {},
	AttrVersionHistory:      {},
	AttrCreatedAt:           {},
	AttrUpdatedAt:           {},
}

// IsReserved reports whether name is an attribute owned by the chain rather than timesheet content.
func IsReserved(name string) bool {
	_, ok := reserved[name]
	return ok
}

// Key is the composite primary key of a claim.
type Key struct {
	CompanyID   string
	TimesheetID string
}

// Change records a single field replacement made by a resubmission.
// OldValue is nil when the field did not exist on the previous version and
// [Null] when it existed with a null value.
type Change struct {
	Field     string `dynamodbav:"field" json:"field"`
	OldValue  any    `dynamodbav:"oldValue,omitempty" json:"oldValue,omitempty"`
	NewValue  any    `dynamodbav:"newValue" json:"newValue"`
	Timestamp string `dynamodbav:"timestamp" json:"timestamp"`
}

// Link points from one claim to its neighbour in the chain by composite key.
type Link struct {
	CompanyID   string   `dynamodbav:"companyId" json:"companyId"`
	TimesheetID string   `dynamodbav:"timesheetId" json:"timesheetId"`
	Version     int      `dynamodbav:"version" json:"version"`
	Timestamp   string   `dynamodbav:"timestamp,omitempty" json:"timestamp,omitempty"`
	Reason      string   `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	Changes     []Change `dynamodbav:"changes" json:"changes"`
}

// Key returns the composite key of the claim the link points at.
func (l *Link) Key() Key {
	return Key{CompanyID: l.CompanyID, TimesheetID: l.TimesheetID}
}

// HistoryEvent is one append-only entry of a claim's resubmissionHistory.
type HistoryEvent struct {
	Type LinkType `dynamodbav:"type" json:"type"`
	Link
	Status      ClaimStatus `dynamodbav:"status,omitempty" json:"status,omitempty"`
	RequestedBy string      `dynamodbav:"requestedBy,omitempty" json:"requestedBy,omitempty"`
}

// VersionEntry is one append-only snapshot of a claim's versionHistory.
type VersionEntry struct {
	Version     int         `dynamodbav:"version" json:"version"`
	TimesheetID string      `dynamodbav:"timesheetId" json:"timesheetId"`
	Timestamp   string      `dynamodbav:"timestamp,omitempty" json:"timestamp,omitempty"`
	Status      ClaimStatus `dynamodbav:"status,omitempty" json:"status,omitempty"`
	Changes     []Change    `dynamodbav:"changes" json:"changes"`
}

// Claim is one versioned timesheet billing record.
type Claim struct {
	// DynamoDB keys
	CompanyID   string `dynamodbav:"companyId" json:"companyId"`
	TimesheetID string `dynamodbav:"timesheetId" json:"timesheetId"`

	BillingStatus       ClaimStatus    `dynamodbav:"billingStatus,omitempty" json:"billingStatus,omitempty"`
	Version             int            `dynamodbav:"version,omitempty" json:"version,omitempty"` // 0 on legacy records
	OriginalClaimID     string         `dynamodbav:"originalClaimId,omitempty" json:"originalClaimId,omitempty"`
	ResubmittedFrom     *Link          `dynamodbav:"resubmittedFrom,omitempty" json:"resubmittedFrom,omitempty"`
	ResubmittedTo       *Link          `dynamodbav:"resubmittedTo,omitempty" json:"resubmittedTo,omitempty"`
	ResubmissionHistory []HistoryEvent `dynamodbav:"resubmissionHistory,omitempty" json:"resubmissionHistory,omitempty"`
	VersionHistory      []VersionEntry `dynamodbav:"versionHistory,omitempty" json:"versionHistory,omitempty"`
	CreatedAt           string         `dynamodbav:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt           string         `dynamodbav:"updatedAt,omitempty" json:"updatedAt,omitempty"`

	// Fields holds the timesheet content, stored as top-level attributes next to the ones above.
	Fields map[string]any `dynamodbav:"-" json:"-"`
}

// Key returns the claim's composite key.
func (c *Claim) Key() Key {
	return Key{CompanyID: c.CompanyID, TimesheetID: c.TimesheetID}
}

// EffectiveVersion returns the stored version, or 1 for records written before versioning.
func (c *Claim) EffectiveVersion() int {
	if c.Version <= 0 {
		return 1
	}
	return c.Version
}

// ChainID returns the timesheetId of the first claim in this claim's chain.
func (c *Claim) ChainID() string {
	if c.OriginalClaimID != "" {
		return c.OriginalClaimID
	}
	return c.TimesheetID
}

// Field returns a timesheet content field.
func (c *Claim) Field(name string) (any, bool) {
	v, ok := c.Fields[name]
	return v, ok
}

// Clone returns a copy that shares no slices or maps with c, so appends on
// the copy never leak into the original.
func (c *Claim) Clone() *Claim {
	out := *c
	out.ResubmittedFrom = cloneLink(c.ResubmittedFrom)
	out.ResubmittedTo = cloneLink(c.ResubmittedTo)
	out.ResubmissionHistory = slices.Clone(c.ResubmissionHistory)
	out.VersionHistory = slices.Clone(c.VersionHistory)
	out.Fields = maps.Clone(c.Fields)
	return &out
}

func cloneLink(l *Link) *Link {
	if l == nil {
		return nil
	}
	out := *l
	out.Changes = slices.Clone(l.Changes)
	return &out
}

// claimAttrs has the same layout as Claim without its JSON methods.
type claimAttrs Claim

// MarshalJSON flattens Fields next to the chain attributes, which win on a name clash.
func (c Claim) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(claimAttrs(c))
	if err != nil || len(c.Fields) == 0 {
		return known, err
	}

	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(known, &attrs); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(attrs)+len(c.Fields))
	for k, v := range c.Fields {
		if !IsReserved(k) {
			out[k] = v
		}
	}
	for k, v := range attrs {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the chain attributes and collects every other key into Fields.
func (c *Claim) UnmarshalJSON(b []byte) error {
	var attrs claimAttrs
	if err := json.Unmarshal(b, &attrs); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for k := range all {
		if IsReserved(k) {
			delete(all, k)
		}
	}
	if len(all) > 0 {
		attrs.Fields = all
	}

	*c = Claim(attrs)
	return nil
}

// ChainVersion summarises one claim of a forward-resolved chain.
type ChainVersion struct {
	Version     int         `json:"version"`
	TimesheetID string      `json:"timesheetId"`
	Status      ClaimStatus `json:"status,omitempty"`
	Timestamp   string      `json:"timestamp,omitempty"`
	Changes     []Change    `json:"changes"`
	Reason      string      `json:"reason,omitempty"`
}

// ForwardChain is a chain walked forward from its original claim.
type ForwardChain struct {
	OriginalClaim *Claim         `json:"originalClaim"`
	Versions      []ChainVersion `json:"versions"`
}

// Chain is every claim reachable from a starting claim in both directions, ordered by version.
type Chain struct {
	Claims        []*Claim `json:"claims"`
	TotalVersions int      `json:"totalVersions"`
}
