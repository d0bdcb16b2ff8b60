package notify

import (
	"fmt"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// newValidator returns a validator with the record rules registered.
func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(recordStructValidation, Record{})
	return v
}

// recordStructValidation rejects blank optional texts and an action time
// without the read flag.
func recordStructValidation(sl validatorv10.StructLevel) {
	rec := sl.Current().Interface().(Record)

	if rec.RejectionReason != nil && strings.TrimSpace(*rec.RejectionReason) == "" {
		sl.ReportError(rec.RejectionReason, "rejectionReason", "RejectionReason", "notblank", "")
	}
	if rec.ApprovalNotes != nil && strings.TrimSpace(*rec.ApprovalNotes) == "" {
		sl.ReportError(rec.ApprovalNotes, "approvalNotes", "ApprovalNotes", "notblank", "")
	}
	if rec.ActionTakenAt != nil && !rec.IsRead {
		sl.ReportError(rec.ActionTakenAt, "actionTakenAt", "ActionTakenAt", "read_when_actioned", "")
	}
}

func validateRecord(v *validatorv10.Validate, rec Record) error {
	if err := v.Struct(rec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return nil
}
