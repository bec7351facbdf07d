package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// structError converts validator output into a ValidationError naming the
// first offending field.
func structError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Field:   fieldPath(fe.Namespace()),
			Message: fmt.Sprintf("failed %q check", fe.Tag()),
		}
	}
	return &ValidationError{Message: err.Error()}
}

// fieldPath drops the struct name prefix, e.g. CreateDocumentRequest.Items[0].Quantity.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// ValidateCreateRequest validates a create request for kind.
func ValidateCreateRequest(kind Kind, req CreateDocumentRequest) error {
	if !kind.Valid() {
		return invalid("kind", "unknown document kind %q", kind)
	}
	if err := structError(validate.Struct(req)); err != nil {
		return err
	}
	return validateDates(kind, req.IssueDate, req.DueDate, req.ValidUntil)
}

// ValidateUpdateRequest validates a patch against the document it applies to.
func ValidateUpdateRequest(existing *Document, req UpdateDocumentRequest) error {
	if err := structError(validate.Struct(req)); err != nil {
		return err
	}
	issue := existing.IssueDate
	if req.IssueDate != nil {
		if req.IssueDate.IsZero() {
			return invalid("IssueDate", "must be set")
		}
		issue = *req.IssueDate
	}
	due := existing.DueDate
	if req.DueDate != nil {
		due = req.DueDate
	}
	valid := existing.ValidUntil
	if req.ValidUntil != nil {
		valid = req.ValidUntil
	}
	return validateDates(existing.Kind, issue, due, valid)
}

func validateDates(kind Kind, issue time.Time, due, validUntil *time.Time) error {
	switch kind {
	case KindQuote:
		if due != nil {
			return invalid("DueDate", "quotes have no due date")
		}
		if validUntil != nil && validUntil.Before(issue) {
			return invalid("ValidUntil", "must not be before issue date")
		}
	case KindInvoice:
		if validUntil != nil {
			return invalid("ValidUntil", "invoices do not expire")
		}
		if due != nil && due.Before(issue) {
			return invalid("DueDate", "must not be before issue date")
		}
	}
	return nil
}
