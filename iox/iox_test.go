package iox

import (
	"errors"
	"io"
	"testing"

	"go.uber.org/multierr"
)

type spyCloser struct {
	closed bool
	err    error
}

func (s *spyCloser) Close() error { s.closed = true; return s.err }

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestDiscardErr(t *testing.T) {
	called := false
	DiscardErr(func() error {
		called = true
		return errors.New("ignored")
	})
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCloseAll_ClosesEveryCloser(t *testing.T) {
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	a := &spyCloser{err: errA}
	b := &spyCloser{}
	c := &spyCloser{err: errC}

	err := CloseAll(a, nil, b, c)
	if !a.closed || !b.closed || !c.closed {
		t.Fatalf("closed = %v %v %v, want all true", a.closed, b.closed, c.closed)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Errorf("err = %v, want both failures", err)
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Errorf("len(errors) = %d, want 2", got)
	}
}

func TestCloseAll_NoErrors(t *testing.T) {
	if err := CloseAll(&spyCloser{}, io.NopCloser(nil)); err != nil {
		t.Errorf("CloseAll = %v, want nil", err)
	}
}
