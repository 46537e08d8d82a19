package catalog

import (
	"errors"
	"fmt"
)

// Error taxonomy. Callers classify with errors.Is.
var (
	// ErrPolicyDenied means the compliance gate refused a URL. The unit is skipped.
	ErrPolicyDenied = errors.New("denied by crawl policy")
	// ErrExtractionEmpty means a detail page held no usable record.
	ErrExtractionEmpty = errors.New("no usable record on page")
	// ErrInvalidRecord means an extracted record failed validation.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrDuplicate is a natural-key uniqueness violation reported by a store.
	ErrDuplicate = errors.New("duplicate natural key")
	// ErrPageFetch aborts the enclosing category.
	ErrPageFetch = errors.New("page fetch failed")
	// ErrStoreUnavailable aborts the enclosing run.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadyActive is returned when a session is started twice.
	ErrAlreadyActive = errors.New("session already active")
	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("not found")
	// ErrUnknownSource signals an unsupported source ID.
	ErrUnknownSource = errors.New("unknown source")
)

// StoreError wraps a persistence failure so it matches ErrStoreUnavailable and the cause.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// PageFetchError wraps a listing page failure so it matches ErrPageFetch and the cause.
func PageFetchError(url string, page int, err error) error {
	return fmt.Errorf("fetch %s page %d: %w: %w", url, page, ErrPageFetch, err)
}

// PolicyDeniedError reports a URL refused by the compliance gate.
func PolicyDeniedError(url string) error {
	return fmt.Errorf("%w: %s", ErrPolicyDenied, url)
}

// UnknownSourceError reports an unsupported source ID.
func UnknownSourceError(raw string) error {
	return fmt.Errorf("%w: %q", ErrUnknownSource, raw)
}

func invalidRecordError(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, reason)
}

// StatusError reports a fetch that completed with a non-2xx status.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
