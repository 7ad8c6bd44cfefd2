package errs

import (
	"errors"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	e := New(DomainSchema, CodeConflict, "schema.Load", "trait redefined")
	if e.Error() == "" {
		t.Fatal("expected non-empty message")
	}
}

func TestWrapUnwraps(t *testing.T) {
	inner := errors.New("boom")
	e := Wrap(DomainCloud, CodeServerError, "cloud.doRequest", "server failed", inner)
	if !errors.Is(e, inner) {
		t.Fatal("expected errors.Is to find wrapped cause")
	}
}

func TestIsMatchesCode(t *testing.T) {
	e := New(DomainCommand, CodeAccessDenied, "command.Add", "role too low")
	if !Is(e, CodeAccessDenied) {
		t.Fatal("expected Is to match code")
	}
	if Is(e, CodeNotFound) {
		t.Fatal("expected Is to not match a different code")
	}
}

func TestIsThroughChain(t *testing.T) {
	inner := New(DomainSchema, CodeUnknownTrait, "schema.find", "missing")
	outer := Wrap(DomainCommand, CodeInvalidParameter, "command.validate", "bad param", inner)
	if !Is(outer, CodeUnknownTrait) {
		t.Fatal("expected Is to look through wrapped *Error chain")
	}
}
