package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFutureCompletesOnce(t *testing.T) {
	f := NewFuture()
	if !f.Complete(1, nil) {
		t.Fatalf("first Complete must win")
	}
	if f.Complete(2, errors.New("late")) {
		t.Fatalf("second Complete must lose")
	}
	if v, err := f.Wait(); v != 1 || err != nil {
		t.Fatalf("v=%v err=%v", v, err)
	}
}

func TestFutureThenChains(t *testing.T) {
	f := NewFuture()
	g := f.Then(func(v any, err error) (any, error) { return v.(int) * 2, err })
	h := g.Then(func(v any, err error) (any, error) { return v.(int) + 1, err })

	select {
	case <-h.Done():
		t.Fatalf("continuation ran before resolution")
	default:
	}
	f.Complete(20, nil)
	if v, _ := h.Wait(); v != 41 {
		t.Fatalf("v=%v", v)
	}

	// registering on a resolved future runs inline
	ran := false
	Completed(nil, nil).Then(func(any, error) (any, error) { ran = true; return nil, nil })
	if !ran {
		t.Fatalf("continuation on resolved future must run inline")
	}
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	f.Complete("late", nil)
	if v, err := f.Await(context.Background()); v != "late" || err != nil {
		t.Fatalf("v=%v err=%v", v, err)
	}
}

func TestGoResolves(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Go(func() (any, error) { return nil, boom }).Wait(); !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}
