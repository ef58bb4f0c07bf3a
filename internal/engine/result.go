package engine

import (
	"time"

	"github.com/roach88/offsync/internal/queue"
)

// Result summarizes one drain pass. Ephemeral; never persisted.
type Result struct {
	// Pass is the logical pass number (0 for a coalesced call).
	Pass       int64     `json:"pass"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Attempted counts items sent to the network.
	Attempted int `json:"attempted"`
	// Processed counts items that completed (2xx).
	Processed int `json:"processed"`
	// Failed counts items whose attempt did not succeed this pass.
	Failed int `json:"failed"`
	// Exhausted counts items moved to failed after MaxRetries attempts.
	Exhausted int `json:"exhausted"`
	// Removed counts items deleted after a client error or dropped 401.
	Removed int `json:"removed"`
	// AuthHeld counts items parked awaiting re-authentication.
	AuthHeld int `json:"authHeld"`
	// Purged counts completed items cleaned up after the pass.
	Purged int `json:"purged"`

	// Coalesced is set when another pass was already in flight and this
	// call did nothing.
	Coalesced bool `json:"coalesced,omitempty"`
	// Stopped is set when the pass ended early on Stop or cancellation.
	Stopped bool `json:"stopped,omitempty"`

	// Error is set when a storage failure aborted the pass.
	Error string `json:"error,omitempty"`

	Errors []ItemError `json:"errors"`
}

// ItemError records why one item did not complete.
type ItemError struct {
	ItemID      int64         `json:"itemId"`
	Method      string        `json:"method"`
	TargetURL   string        `json:"targetUrl"`
	Description string        `json:"description,omitempty"`
	Code        SyncErrorCode `json:"code"`
	StatusCode  int           `json:"statusCode,omitempty"`
	Reason      string        `json:"reason"`
}

func newItemError(item queue.Item, se *SyncError) ItemError {
	return ItemError{
		ItemID:      item.ID,
		Method:      item.Method,
		TargetURL:   item.TargetURL,
		Description: item.Description,
		Code:        se.Code,
		StatusCode:  se.StatusCode,
		Reason:      se.Error(),
	}
}

// Reporter receives the result of every pass that started, including
// passes aborted by a storage failure.
// Implemented by status.Hub.
type Reporter interface {
	ReportSync(Result)
}
