package table

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
)

var (
	// ErrInvalidLimit is returned when a caller supplies a negative page limit.
	ErrInvalidLimit = errors.New("entstore: invalid page limit")

	// ErrInvalidNext is returned when a pagination token cannot be decoded.
	ErrInvalidNext = errors.New("entstore: invalid pagination token")

	// ErrInvalidTTL is returned when a TTL delta is unparseable or negative.
	ErrInvalidTTL = errors.New("entstore: invalid ttl value")

	// ErrArchiveNotEnabled is returned when an archive operation is requested
	// on a table that does not declare Archive.
	ErrArchiveNotEnabled = errors.New("entstore: archive is not enabled for this table")

	// ErrConditionFailed is returned when a conditional write's precondition
	// did not hold.
	ErrConditionFailed = errors.New("entstore: condition check failed")
)

// BackendError wraps an unclassified backend failure, preserving the
// underlying cause for diagnostics without leaking it into the error kind.
type BackendError struct {
	Table  string
	Action string
	Err    error
}

func (e *BackendError) Error() string {
	var apiErr smithy.APIError
	if errors.As(e.Err, &apiErr) {
		return fmt.Sprintf("entstore: %s on table %s failed (%s): %s",
			e.Action, e.Table, apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return fmt.Sprintf("entstore: %s on table %s failed: %v", e.Action, e.Table, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendError(t Table, action string, err error) error {
	return &BackendError{Table: t.Name, Action: action, Err: err}
}
