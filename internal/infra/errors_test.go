package infra

import (
	"errors"
	"testing"
)

func TestError_ErrorStringIncludesOpKindAndWrapped(t *testing.T) {
	err := Transient("ari.Connect", errors.New("dial refused"))
	want := "ari.Connect: transient: dial refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_ErrorStringOmitsWrappedWhenNil(t *testing.T) {
	err := New(KindFatal, "config.Load", false, nil)
	want := "config.Load: fatal"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_UnwrapReturnsWrappedError(t *testing.T) {
	wrapped := errors.New("boom")
	err := Domain("rutcapture.invoke", wrapped)
	if !errors.Is(err, wrapped) {
		t.Error("expected errors.Is to see through Unwrap to the wrapped error")
	}
}

func TestIsNotFound_TrueForNotFoundKind(t *testing.T) {
	err := NotFound("snoop.Get", ErrNotFound)
	if !IsNotFound(err) {
		t.Error("expected IsNotFound(NotFound(...)) to be true")
	}
}

func TestIsNotFound_TrueForBareSentinel(t *testing.T) {
	if !IsNotFound(ErrNotFound) {
		t.Error("expected IsNotFound(ErrNotFound) to be true")
	}
}

func TestIsNotFound_FalseForOtherKinds(t *testing.T) {
	err := Transient("ari.Connect", errors.New("timeout"))
	if IsNotFound(err) {
		t.Error("expected IsNotFound(Transient(...)) to be false")
	}
}

func TestIsRecoverable_ReflectsFlag(t *testing.T) {
	if !IsRecoverable(Transient("op", errors.New("x"))) {
		t.Error("expected Transient errors to be recoverable")
	}
	if IsRecoverable(Fatal("op", errors.New("x"))) {
		t.Error("expected Fatal errors to be unrecoverable")
	}
}

func TestIsRecoverable_FalseForPlainError(t *testing.T) {
	if IsRecoverable(errors.New("plain")) {
		t.Error("expected a plain error to be unrecoverable")
	}
}
