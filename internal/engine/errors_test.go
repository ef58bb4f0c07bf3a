package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	netErr := errors.New("connection refused")

	tests := []struct {
		name      string
		status    int
		err       error
		wantNil   bool
		wantCode  SyncErrorCode
		retryable bool
	}{
		{name: "200", status: 200, wantNil: true},
		{name: "204", status: 204, wantNil: true},
		{name: "network", err: netErr, wantCode: ErrCodeTransient, retryable: true},
		{name: "401", status: 401, wantCode: ErrCodeAuth},
		{name: "400", status: 400, wantCode: ErrCodeClient},
		{name: "404", status: 404, wantCode: ErrCodeClient},
		{name: "409", status: 409, wantCode: ErrCodeClient},
		{name: "500", status: 500, wantCode: ErrCodeServer, retryable: true},
		{name: "503", status: 503, wantCode: ErrCodeServer, retryable: true},
		{name: "102", status: 102, wantCode: ErrCodeClient},
		{name: "302", status: 302, wantCode: ErrCodeClient},
		{name: "304", status: 304, wantCode: ErrCodeClient},
		{name: "600", status: 600, wantCode: ErrCodeClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := classify(7, tt.status, tt.err)
			if tt.wantNil {
				assert.Nil(t, se)
				return
			}
			require.NotNil(t, se)
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.retryable, se.Retryable())
			assert.Equal(t, int64(7), se.ItemID)
		})
	}
}

func TestSyncError_Helpers(t *testing.T) {
	wrapped := fmt.Errorf("pass: %w", storageError(1, errors.New("disk full")))
	assert.True(t, IsStorageError(wrapped))
	assert.False(t, IsStorageError(fmt.Errorf("pass: %w", &SyncError{Code: ErrCodeAuth})))
	assert.False(t, IsStorageError(errors.New("plain")))
}

func TestSyncError_Message(t *testing.T) {
	assert.Equal(t, "CLIENT: request rejected by server (item=3, status=404)",
		classify(3, 404, nil).Error())

	cause := errors.New("dial tcp: refused")
	se := classify(3, 0, cause)
	assert.Equal(t, "TRANSIENT: network request failed (item=3)", se.Error())
	assert.True(t, errors.Is(se, cause))

	assert.Equal(t, "STORAGE: durable store failure", storageError(0, cause).Error())
}
