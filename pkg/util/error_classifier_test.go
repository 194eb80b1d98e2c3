package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestIsRetryableError(t *testing.T) {
	var jsonErr error
	if err := json.Unmarshal([]byte(`{bad`), &struct{}{}); err != nil {
		jsonErr = err
	}

	tests := []struct {
		name          string
		err           error
		wantRetryable bool
		wantType      string
	}{
		{
			name:          "nil",
			err:           nil,
			wantRetryable: false,
			wantType:      "",
		},
		{
			name:          "json syntax error",
			err:           jsonErr,
			wantRetryable: false,
			wantType:      "json_decode_error",
		},
		{
			name:          "no rows",
			err:           pgx.ErrNoRows,
			wantRetryable: false,
			wantType:      "row_not_found",
		},
		{
			name:          "duplicate key",
			err:           errors.New(`duplicate key value violates unique constraint "notifications_pkey"`),
			wantRetryable: false,
			wantType:      "duplicate_key",
		},
		{
			name:          "db connection",
			err:           errors.New("failed to connect to database: connection refused"),
			wantRetryable: true,
			wantType:      "db_connection_error",
		},
		{
			name:          "statement timeout",
			err:           errors.New("canceling statement due to statement timeout"),
			wantRetryable: true,
			wantType:      "db_connection_error",
		},
		{
			name:          "deadline exceeded",
			err:           fmt.Errorf("bulk insert: %w", context.DeadlineExceeded),
			wantRetryable: true,
			wantType:      "timeout",
		},
		{
			name:          "context canceled",
			err:           context.Canceled,
			wantRetryable: false,
			wantType:      "context_canceled",
		},
		{
			name:          "unknown",
			err:           errors.New("something unexpected"),
			wantRetryable: false,
			wantType:      "unknown_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotRetryable, gotType := IsRetryableError(tt.err)
			if gotRetryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", gotRetryable, tt.wantRetryable)
			}
			if gotType != tt.wantType {
				t.Errorf("type = %q, want %q", gotType, tt.wantType)
			}
		})
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name        string
		retryCount  int64
		maxRetries  int64
		isRetryable bool
		want        bool
	}{
		{"non-retryable", 1, 5, false, false},
		{"under limit", 3, 5, true, true},
		{"at limit", 5, 5, true, true},
		{"over limit", 6, 5, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.retryCount, tt.maxRetries, tt.isRetryable); got != tt.want {
				t.Errorf("ShouldRetry(%d, %d, %v) = %v, want %v",
					tt.retryCount, tt.maxRetries, tt.isRetryable, got, tt.want)
			}
		})
	}
}
