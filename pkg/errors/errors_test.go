package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Format(t *testing.T) {
	err := New(CodeWriteFailed, "fill failed").
		WithContext("tree", "Events").
		WithContext("entry", 3)

	got := err.Error()
	want := "[E301] fill failed (entry=3, tree=Events)"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	if Wrap(nil, CodeWriteFailed, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestWrap_UnwrapAndIs(t *testing.T) {
	cause := fmt.Errorf("disk gone")
	err := Wrap(cause, CodeWriteFailed, "flush")

	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if !errors.Is(err, New(CodeWriteFailed, "")) {
		t.Error("Expected code match via Is")
	}
	if errors.Is(err, New(CodeParseFailed, "")) {
		t.Error("Different codes must not match")
	}
	if !strings.HasSuffix(err.Error(), ": disk gone") {
		t.Errorf("Cause missing from message: %q", err.Error())
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{New(CodePanic, "boom"), CodePanic},
		{fmt.Errorf("outer: %w", New(CodeSchemaFrozen, "late branch")), CodeSchemaFrozen},
		{fmt.Errorf("plain"), CodeUnknown},
	}

	for _, tt := range tests {
		if got := GetCode(tt.err); got != tt.want {
			t.Errorf("GetCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeUploadFailed, "s3")) {
		t.Error("Upload failures should be retryable")
	}
	if IsRetryable(New(CodeParseFailed, "bad line")) {
		t.Error("Parse failures should not be retryable")
	}
}

func TestMultiError_Combined(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("Empty MultiError should combine to nil")
	}

	first := fmt.Errorf("first")
	m.Add(first)
	m.Add(nil)
	if m.Combined() != first {
		t.Error("Single error should be returned as-is")
	}

	m.Add(fmt.Errorf("second"))
	if !m.HasErrors() || len(m.Errors) != 2 {
		t.Fatalf("Expected 2 errors, got %d", len(m.Errors))
	}
	if !strings.Contains(m.Combined().Error(), "2 errors occurred") {
		t.Errorf("Unexpected message: %s", m.Combined().Error())
	}

	m.Add(New(CodeWriteFailed, "abort failed"))
	if !IsCode(m.Combined(), CodeWriteFailed) {
		t.Error("Coded errors inside a MultiError should be reachable")
	}
}

func TestStackCaptured(t *testing.T) {
	err := New(CodeUnknown, "x")
	if len(err.StackTrace) == 0 {
		t.Fatal("Expected stack frames")
	}
	if !strings.Contains(err.FormatStack(), "TestStackCaptured") {
		t.Errorf("Stack should include caller:\n%s", err.FormatStack())
	}
}
