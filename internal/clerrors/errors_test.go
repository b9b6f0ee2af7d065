package clerrors

import (
	"errors"
	"testing"
)

func TestErrorMessageFormat(t *testing.T) {
	err := New(ErrCodeLockTimeout, "lock", "timed out after 10s")
	want := "[lock] LOCK_TIMEOUT: timed out after 10s"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := Wrap(ErrCodeEntryWriteFailed, "store", cause)
	if !errors.Is(err, err) {
		t.Fatalf("errors.Is(err, err) should be true")
	}
	if errors.Unwrap(err) != cause {
		t.Fatalf("Unwrap() did not return the original cause")
	}
}

func TestIsMatchesOnCodeOnly(t *testing.T) {
	a := New(ErrCodeLockTimeout, "lock", "a")
	b := New(ErrCodeLockTimeout, "other-component", "b")
	c := New(ErrCodeCompilerFailed, "lock", "a")

	if !errors.Is(a, b) {
		t.Fatalf("errors with the same code should match regardless of message/component")
	}
	if errors.Is(a, c) {
		t.Fatalf("errors with different codes should not match")
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := Wrap(ErrCodeCompilerFailed, "dispatch", errors.New("exit status 2"))
	code, ok := CodeOf(wrapped)
	if !ok || code != ErrCodeCompilerFailed {
		t.Fatalf("CodeOf() = (%v, %v), want (%v, true)", code, ok, ErrCodeCompilerFailed)
	}

	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Fatalf("CodeOf() on a plain error should report ok=false")
	}
}
