package idb

import (
	"errors"
	"testing"
	"time"
)

type listener interface {
	OnSuccess(func(result any))
	OnError(func(err error))
}

// wait blocks until req settles, failing the test after five seconds.
func wait(t *testing.T, req listener) (any, error) {
	t.Helper()
	type outcome struct {
		v   any
		err error
	}
	ch := make(chan outcome, 2)
	req.OnSuccess(func(v any) { ch <- outcome{v: v} })
	req.OnError(func(err error) { ch <- outcome{err: err} })
	select {
	case o := <-ch:
		return o.v, o.err
	case <-time.After(5 * time.Second):
		t.Fatal("request did not settle")
		return nil, nil
	}
}

func TestRequestSucceed(t *testing.T) {
	r := NewRequest()
	if r.ReadyState() != Pending {
		t.Fatalf("ReadyState() = %v, want pending", r.ReadyState())
	}

	var got []any
	errCalls := 0
	r.OnSuccess(func(v any) { got = append(got, v) })
	r.OnError(func(error) { errCalls++ })

	if !r.Succeed("value") {
		t.Fatal("first Succeed should settle")
	}
	if len(got) != 1 || got[0] != "value" {
		t.Fatalf("success listener got %v", got)
	}
	if errCalls != 0 {
		t.Fatal("error listener should not run on success")
	}
	if r.ReadyState() != Done || r.Result() != "value" || r.Err() != nil {
		t.Fatalf("state=%v result=%v err=%v", r.ReadyState(), r.Result(), r.Err())
	}
}

func TestRequestFail(t *testing.T) {
	boom := errors.New("boom")
	r := NewRequest()

	var got error
	successCalls := 0
	r.OnSuccess(func(any) { successCalls++ })
	r.OnError(func(err error) { got = err })

	r.Fail(boom)
	if got != boom {
		t.Fatalf("error listener got %v, want boom", got)
	}
	if successCalls != 0 {
		t.Fatal("success listener should not run on failure")
	}
	if r.Err() != boom || r.Result() != nil {
		t.Fatalf("result=%v err=%v", r.Result(), r.Err())
	}
}

func TestRequestSettlesOnce(t *testing.T) {
	r := NewRequest()
	calls := 0
	r.OnSuccess(func(any) { calls++ })
	r.OnError(func(error) { calls++ })

	r.Succeed(1)
	if r.Succeed(2) {
		t.Error("second Succeed should report false")
	}
	if r.Fail(errors.New("late")) {
		t.Error("Fail after Succeed should report false")
	}
	if calls != 1 {
		t.Fatalf("listeners ran %d times, want 1", calls)
	}
	if r.Result() != 1 || r.Err() != nil {
		t.Fatalf("result=%v err=%v", r.Result(), r.Err())
	}
}

func TestRequestLateListener(t *testing.T) {
	r := NewRequest()
	r.Succeed("early")

	var got any
	r.OnSuccess(func(v any) { got = v })
	r.OnError(func(error) { t.Error("error listener should not run") })
	if got != "early" {
		t.Fatalf("late listener got %v, want early", got)
	}

	failed := failedRequest(ErrReadOnly)
	var gotErr error
	failed.OnError(func(err error) { gotErr = err })
	if !errors.Is(gotErr, ErrReadOnly) {
		t.Fatalf("late error listener got %v", gotErr)
	}
}

func TestFailNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Fail(nil) should panic")
		}
	}()
	NewRequest().Fail(nil)
}

func TestOpenRequestListeners(t *testing.T) {
	r := NewOpenRequest()
	var order []int
	r.OnUpgradeNeeded(func(*VersionChangeEvent) { order = append(order, 1) })
	remove := r.OnUpgradeNeeded(func(*VersionChangeEvent) { order = append(order, 2) })
	r.OnUpgradeNeeded(func(*VersionChangeEvent) { order = append(order, 3) })

	remove()
	remove()
	if n := r.UpgradeListeners(); n != 2 {
		t.Fatalf("UpgradeListeners() = %d, want 2", n)
	}

	r.fireUpgrade(&VersionChangeEvent{})
	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Fatalf("fired %v, want [1 3]", order)
	}

	r.succeed(nil)
	if n := r.UpgradeListeners(); n != 0 {
		t.Fatalf("listeners left after settle: %d", n)
	}
	r.OnUpgradeNeeded(func(*VersionChangeEvent) {})
	if n := r.UpgradeListeners(); n != 0 {
		t.Fatal("registering after settle should be a no-op")
	}
}

func TestVersionChangeEventAbort(t *testing.T) {
	first := errors.New("first")
	ev := &VersionChangeEvent{}
	ev.Abort(nil)
	ev.Abort(first)
	ev.Abort(errors.New("second"))
	if ev.abortErr != first {
		t.Fatalf("abortErr = %v, want first", ev.abortErr)
	}
}
