package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncError_Error(t *testing.T) {
	tests := []struct {
		name      string
		op        Operation
		component string
		code      ErrorCode
		err       error
		want      string
	}{
		{
			name:      "with component and code",
			op:        OpExecute,
			component: "store",
			code:      ErrCodeStorageFailure,
			err:       fmt.Errorf("disk full"),
			want:      "execute operation failed in store component [STORAGE_FAILURE]: disk full",
		},
		{
			name:      "with component no code",
			op:        OpSync,
			component: "store",
			err:       fmt.Errorf("failed to connect"),
			want:      "sync operation failed in store component: failed to connect",
		},
		{
			name: "without component with code",
			op:   OpFetch,
			code: ErrCodeNetworkFailure,
			err:  fmt.Errorf("network error"),
			want: "fetch operation failed [NETWORK_FAILURE]: network error",
		},
		{
			name: "without component or code",
			op:   OpPlan,
			err:  fmt.Errorf("bad input"),
			want: "plan operation failed: bad input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &SyncError{
				Op:        tt.op,
				Component: tt.component,
				Err:       tt.err,
				Code:      tt.code,
			}

			if got := e.Error(); got != tt.want {
				t.Errorf("SyncError.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewStorageError(t *testing.T) {
	cause := fmt.Errorf("storage failure")
	syncErr := NewStorageError(OpExecute, cause)

	if syncErr.Code != ErrCodeStorageFailure {
		t.Errorf("NewStorageError() Code = %v, want %v", syncErr.Code, ErrCodeStorageFailure)
	}
	if syncErr.Kind != KindFatalStore {
		t.Errorf("NewStorageError() Kind = %v, want %v", syncErr.Kind, KindFatalStore)
	}
	if syncErr.Retryable {
		t.Error("NewStorageError() created retryable error")
	}
	if !errors.Is(syncErr, cause) {
		t.Error("NewStorageError() does not wrap its cause")
	}
}

func TestNewCancelled(t *testing.T) {
	err := NewCancelled(OpExecute, fmt.Errorf("context canceled"))
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("NewCancelled() should wrap ErrCancelled, got %v", err)
	}
	if KindOf(err) != KindCancelled {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindCancelled)
	}

	bare := NewCancelled(OpExecute, nil)
	if !errors.Is(bare, ErrCancelled) {
		t.Error("NewCancelled(nil) should wrap ErrCancelled")
	}
}

func TestNewConflictPending(t *testing.T) {
	err := NewConflictPending(OpPlan, 3)
	if !errors.Is(err, ErrConflictPending) {
		t.Error("NewConflictPending() should wrap ErrConflictPending")
	}
	if err.Metadata["conflicts"] != 3 {
		t.Errorf("conflicts metadata = %v, want 3", err.Metadata["conflicts"])
	}
	if err.Retryable {
		t.Error("conflict pending must not be retryable")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		code      ErrorCode
		retryable bool
	}{
		{"network", fmt.Errorf("dial: %w", ErrNetworkUnavailable), KindTransient, ErrCodeNetworkFailure, true},
		{"rate limited", ErrRateLimited, KindTransient, ErrCodeRateLimited, true},
		{"quota", ErrQuotaExceeded, KindRemote, ErrCodeQuotaExceeded, false},
		{"unknown", fmt.Errorf("teapot"), KindRemote, ErrCodeRemoteUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(OpFetch, tt.err)
			var syncErr *SyncError
			if !errors.As(got, &syncErr) {
				t.Fatalf("Classify() returned %T, want *SyncError", got)
			}
			if syncErr.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", syncErr.Kind, tt.kind)
			}
			if syncErr.Code != tt.code {
				t.Errorf("Code = %v, want %v", syncErr.Code, tt.code)
			}
			if IsRetryable(got) != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", IsRetryable(got), tt.retryable)
			}
		})
	}

	if Classify(OpFetch, nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	pre := NewValidationError(OpImport, fmt.Errorf("bad"))
	if got := Classify(OpFetch, pre); got != pre {
		t.Error("Classify() should keep an existing SyncError")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "retryable sync error",
			err:  NewRetryable(OpSync, fmt.Errorf("temporary error")),
			want: true,
		},
		{
			name: "non-retryable sync error",
			err:  New(OpSync, fmt.Errorf("permanent error")),
			want: false,
		},
		{
			name: "non-sync error",
			err:  fmt.Errorf("regular error"),
			want: false,
		},
		{
			name: "wrapped retryable error",
			err:  fmt.Errorf("wrapped: %w", NewRetryable(OpSync, fmt.Errorf("temporary"))),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	var v ValidationError
	if v.Err() != nil {
		t.Fatal("empty ValidationError should produce a nil error")
	}

	v.Add("lists[0].name", "longer than %d characters", 100)
	v.Add("", "duplicate id %q", "abc")

	err := v.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	want := `validation failed: lists[0].name: longer than 100 characters; duplicate id "abc"`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf() = %v, want %v", KindOf(err), KindValidation)
	}

	wrapped := NewValidationError(OpImport, err)
	var got *ValidationError
	if !errors.As(wrapped, &got) || len(got.Issues) != 2 {
		t.Error("ValidationError should be reachable through SyncError")
	}
}

func TestWrapOpComponentKind(t *testing.T) {
	if WrapOpComponentKind(nil, "x", "y", KindTransient) != nil {
		t.Fatal("nil error should stay nil")
	}

	err := WrapOpComponentKind(fmt.Errorf("boom"), "sqlite.Update", "storage/sqlite", KindFatalStore)
	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatal("expected SyncError")
	}
	if syncErr.Op != "sqlite.Update" || syncErr.Component != "storage/sqlite" {
		t.Errorf("unexpected op/component: %s/%s", syncErr.Op, syncErr.Component)
	}
	if syncErr.Retryable {
		t.Error("fatal store errors are not retryable")
	}
	if !IsRetryable(WrapOpComponentKind(fmt.Errorf("x"), "op", "c", KindTransient)) {
		t.Error("transient errors should be retryable")
	}
}
