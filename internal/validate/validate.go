// Package validate checks resubmission and chain requests before any storage call is made.
package validate

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/kylejryan/timesheet-claim-chains/internal/apperr"
	"github.com/kylejryan/timesheet-claim-chains/internal/models"

	"github.com/go-playground/validator/v10"
)

// Messages returned to callers.
const (
	MsgKeyRequired    = "Both companyId and timesheetId are required"
	MsgReasonRequired = "Reason for resubmission is required"
)

var v = validator.New(validator.WithRequiredStructEnabled())

type claimKey struct {
	CompanyID   string `validate:"required"`
	TimesheetID string `validate:"required"`
}

type resubmission struct {
	Reason string `validate:"required"`
}

// ClaimKey checks that both parts of a claim key are present.
func ClaimKey(companyID, timesheetID string) error {
	return check(claimKey{CompanyID: companyID, TimesheetID: timesheetID}, MsgKeyRequired)
}

// Resubmission checks a resubmission request. The claim key is checked first,
// then the reason, then that updatedFields only touches timesheet content.
func Resubmission(companyID, timesheetID, reason string, updatedFields map[string]any) error {
	if err := ClaimKey(companyID, timesheetID); err != nil {
		return err
	}

	if err := check(resubmission{Reason: reason}, MsgReasonRequired); err != nil {
		return err
	}

	return UpdatedFields(updatedFields)
}

// UpdatedFields rejects empty field names and attributes owned by the claim chain.
func UpdatedFields(fields map[string]any) error {
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		if name == "" {
			return apperr.InvalidInput("updatedFields cannot contain an empty field name")
		}
		if models.IsReserved(name) {
			return apperr.InvalidInput(fmt.Sprintf("updatedFields cannot modify %s", name))
		}
	}
	return nil
}

func check(s any, msg string) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperr.InvalidInput(msg)
	}
	return apperr.Wrap(err, apperr.CodeInvalidInput, http.StatusBadRequest, msg)
}
