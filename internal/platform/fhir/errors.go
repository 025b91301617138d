package fhir

import (
	"context"
	"errors"
	"net/http"
)

// Engine error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and
// test with errors.Is; a query that finds nothing is never one of these.
var (
	// ErrNotFound is returned when a referenced CodingSystem, ConceptMap,
	// ValueSet or source code does not exist in the current snapshot.
	ErrNotFound = errors.New("not found")

	// ErrInvalidFilter is returned for malformed paging parameters or a
	// filter that references a system the ValueSet does not declare.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrSnapshotUnavailable is returned until the first load completes.
	// It is retryable.
	ErrSnapshotUnavailable = errors.New("terminology snapshot unavailable")
)

// OutcomeForError maps an engine error onto an HTTP status and an
// OperationOutcome body.
func OutcomeForError(err error) (int, *OperationOutcome) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, err.Error())
	case errors.Is(err, ErrInvalidFilter):
		return http.StatusBadRequest, NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, err.Error())
	case errors.Is(err, ErrSnapshotUnavailable):
		return http.StatusServiceUnavailable, NewOperationOutcome(IssueSeverityError, IssueTypeTransient, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, NewOperationOutcome(IssueSeverityError, IssueTypeTimeout, "request processing exceeded the allowed time limit")
	case errors.Is(err, context.Canceled):
		// 499 is the de facto "client closed request" status.
		return 499, NewOperationOutcome(IssueSeverityError, IssueTypeTimeout, "request cancelled")
	default:
		return http.StatusInternalServerError, ErrorOutcome(err.Error())
	}
}
