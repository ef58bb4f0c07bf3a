package engine

import (
	"errors"
	"fmt"
)

// SyncError describes why a queued item did not complete, or why a pass
// aborted.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// ItemID identifies the affected queue item (0 for pass-level errors).
	ItemID int64

	// StatusCode is the HTTP status received, 0 when none was.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes replay failures.
type SyncErrorCode string

const (
	// ErrCodeTransient indicates no response was received.
	ErrCodeTransient SyncErrorCode = "TRANSIENT"

	// ErrCodeServer indicates a 5xx response.
	ErrCodeServer SyncErrorCode = "SERVER"

	// ErrCodeClient indicates a non-auth 4xx response, or a status that is
	// neither success nor error (1xx, 3xx). Never retried.
	ErrCodeClient SyncErrorCode = "CLIENT"

	// ErrCodeAuth indicates a 401 response or an unavailable credential.
	ErrCodeAuth SyncErrorCode = "AUTH"

	// ErrCodeStorage indicates the Durable Store failed. Aborts the pass.
	ErrCodeStorage SyncErrorCode = "STORAGE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	switch {
	case e.ItemID != 0 && e.StatusCode != 0:
		return fmt.Sprintf("%s: %s (item=%d, status=%d)", e.Code, e.Message, e.ItemID, e.StatusCode)
	case e.ItemID != 0:
		return fmt.Sprintf("%s: %s (item=%d)", e.Code, e.Message, e.ItemID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure counts against the retry budget
// rather than ending the item immediately.
func (e *SyncError) Retryable() bool {
	return e.Code == ErrCodeTransient || e.Code == ErrCodeServer
}

// IsStorageError returns true if err is a STORAGE SyncError.
// Uses errors.As to handle wrapped errors.
func IsStorageError(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeStorage
	}
	return false
}

// classify maps the outcome of one replay attempt to a SyncError.
// Returns nil for 2xx.
func classify(itemID int64, status int, err error) *SyncError {
	if err != nil {
		return &SyncError{
			Code:    ErrCodeTransient,
			Message: "network request failed",
			ItemID:  itemID,
			Err:     err,
		}
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 401:
		return &SyncError{
			Code:       ErrCodeAuth,
			Message:    "credential rejected",
			ItemID:     itemID,
			StatusCode: status,
		}
	case status >= 400 && status < 500:
		return &SyncError{
			Code:       ErrCodeClient,
			Message:    "request rejected by server",
			ItemID:     itemID,
			StatusCode: status,
		}
	case status >= 500 && status < 600:
		return &SyncError{
			Code:       ErrCodeServer,
			Message:    "server error",
			ItemID:     itemID,
			StatusCode: status,
		}
	default:
		// 1xx, unfollowed 3xx and out-of-range codes. Resending the same
		// request gets the same answer.
		return &SyncError{
			Code:       ErrCodeClient,
			Message:    "unexpected response status",
			ItemID:     itemID,
			StatusCode: status,
		}
	}
}

func storageError(itemID int64, err error) *SyncError {
	return &SyncError{
		Code:    ErrCodeStorage,
		Message: "durable store failure",
		ItemID:  itemID,
		Err:     err,
	}
}
