package phaserr

import (
	"errors"
	"testing"
)

func TestExitCodeMapping(t *testing.T) {
	cases := []struct {
		cat  Category
		want int
	}{
		{Usage, 2},
		{Validation, 1},
		{Resource, 1},
		{Concurrency, 1},
		{Internal, 3},
	}
	for _, c := range cases {
		if got := c.cat.ExitCode(); got != c.want {
			t.Errorf("%s.ExitCode() = %d, want %d", c.cat, got, c.want)
		}
	}
}

func TestExitCodeEnforcerMapping(t *testing.T) {
	cases := []struct {
		cat  Category
		want int
	}{
		{Usage, 3},
		{Validation, 3},
		{Resource, 0},
		{Concurrency, 0},
		{Internal, 3},
	}
	for _, c := range cases {
		if got := c.cat.ExitCodeEnforcer(); got != c.want {
			t.Errorf("%s.ExitCodeEnforcer() = %d, want %d", c.cat, got, c.want)
		}
	}
}

func TestNewAndCategoryOf(t *testing.T) {
	err := New(Validation, "bad field %s", "title")
	if CategoryOf(err) != Validation {
		t.Errorf("expected Validation category, got %s", CategoryOf(err))
	}
	if err.Error() != "bad field title" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestWrapPreservesUnwrap(t *testing.T) {
	sentinel := errors.New("boom")
	wrapped := Wrap(Resource, sentinel)
	if !errors.Is(wrapped, sentinel) {
		t.Error("expected errors.Is to see through Wrap")
	}
	if CategoryOf(wrapped) != Resource {
		t.Errorf("expected Resource category, got %s", CategoryOf(wrapped))
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(Internal, nil) != nil {
		t.Error("expected Wrap(nil) to return nil")
	}
}

func TestCategoryOfDefaultsToInternal(t *testing.T) {
	if CategoryOf(errors.New("plain error")) != Internal {
		t.Error("expected an uncategorized error to default to Internal")
	}
}

func TestSentinelErrorsDistinguishable(t *testing.T) {
	if errors.Is(ErrNotFound, ErrAlreadyActive) {
		t.Error("sentinels must be distinct")
	}
}
