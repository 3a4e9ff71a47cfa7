// Package api contains types for the API requests and responses.
package api

import "github.com/kylejryan/timesheet-claim-chains/internal/models"

// Response messages.
const (
	MsgRegenerated     = "Claim regenerated successfully"
	MsgRegenerateError = "Error regenerating claim"
	MsgChainError      = "Error getting claim chain"
	MsgInvalidBody     = "Invalid request body"
)

// ResubmitRequest is the body of a resubmission request.
type ResubmitRequest struct {
	CompanyID     string         `json:"companyId"`
	TimesheetID   string         `json:"timesheetId"`
	UpdatedFields map[string]any `json:"updatedFields"`
	Reason        string         `json:"reason"`
}

// ResubmitResponse is returned after both records were written. ClaimChain
// is null when the chain could not be materialised afterwards.
type ResubmitResponse struct {
	Message       string               `json:"message"`
	OriginalClaim *models.Claim        `json:"originalClaim"`
	NewClaim      *models.Claim        `json:"newClaim"`
	ClaimChain    *models.ForwardChain `json:"claimChain"`
}

// ChainResponse lists every version reachable from the requested claim.
type ChainResponse struct {
	Claims        []*models.Claim `json:"claims"`
	TotalVersions int             `json:"totalVersions"`
}
