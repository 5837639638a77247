package idb

import (
	"slices"
	"sync"
)

// ReadyState is the lifecycle of a Request.
type ReadyState int

const (
	Pending ReadyState = iota
	Done
)

func (s ReadyState) String() string {
	if s == Done {
		return "done"
	}
	return "pending"
}

// Request is one in-flight engine operation. It settles exactly once,
// either with a result (success) or an error (failure).
//
// Listeners run on the goroutine that settles the request. A listener
// registered after settlement runs immediately on the caller's goroutine,
// so registration order relative to completion never loses an event.
type Request struct {
	mu        sync.Mutex
	state     ReadyState
	result    any
	err       error
	onSuccess []func(result any)
	onError   []func(err error)
}

// NewRequest returns a pending request. Engines and test fakes settle it
// with Succeed or Fail.
func NewRequest() *Request {
	return &Request{}
}

func failedRequest(err error) *Request {
	r := NewRequest()
	r.Fail(err)
	return r
}

// OnSuccess registers fn to receive the result.
func (r *Request) OnSuccess(fn func(result any)) {
	r.mu.Lock()
	if r.state == Pending {
		r.onSuccess = append(r.onSuccess, fn)
		r.mu.Unlock()
		return
	}
	result, err := r.result, r.err
	r.mu.Unlock()
	if err == nil {
		fn(result)
	}
}

// OnError registers fn to receive the failure.
func (r *Request) OnError(fn func(err error)) {
	r.mu.Lock()
	if r.state == Pending {
		r.onError = append(r.onError, fn)
		r.mu.Unlock()
		return
	}
	err := r.err
	r.mu.Unlock()
	if err != nil {
		fn(err)
	}
}

// Succeed settles the request with result. It returns false if the
// request had already settled.
func (r *Request) Succeed(result any) bool {
	return r.settle(result, nil)
}

// Fail settles the request with err, which must be non-nil. It returns
// false if the request had already settled.
func (r *Request) Fail(err error) bool {
	if err == nil {
		panic("idb: Fail with nil error")
	}
	return r.settle(nil, err)
}

func (r *Request) settle(result any, err error) bool {
	r.mu.Lock()
	if r.state == Done {
		r.mu.Unlock()
		return false
	}
	r.state = Done
	r.result, r.err = result, err
	onSuccess, onError := r.onSuccess, r.onError
	r.onSuccess, r.onError = nil, nil
	r.mu.Unlock()

	if err != nil {
		for _, fn := range onError {
			fn(err)
		}
		return true
	}
	for _, fn := range onSuccess {
		fn(result)
	}
	return true
}

func (r *Request) ReadyState() ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result returns the success value; nil while pending or after failure.
func (r *Request) Result() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Err returns the failure; nil while pending or after success.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// VersionChangeEvent describes a schema upgrade in progress. Database is
// the connection being opened; its CreateObjectStore and
// DeleteObjectStore are usable only while the listener runs.
type VersionChangeEvent struct {
	OldVersion uint64
	NewVersion uint64
	Database   *Database

	abortErr error
}

// Abort rolls the upgrade back once the listeners return and fails the
// open with err. The first abort wins.
func (e *VersionChangeEvent) Abort(err error) {
	if e.abortErr == nil && err != nil {
		e.abortErr = err
	}
}

// OpenRequest is the Request returned by Factory.Open. On success its
// result is a *Database.
type OpenRequest struct {
	*Request

	mu       sync.Mutex
	upgrade  map[int]func(*VersionChangeEvent)
	nextID   int
	finished bool
}

// NewOpenRequest returns a pending open request, for Factory fakes.
func NewOpenRequest() *OpenRequest {
	return &OpenRequest{
		Request: NewRequest(),
		upgrade: make(map[int]func(*VersionChangeEvent)),
	}
}

// OnUpgradeNeeded registers fn to run if the open has to upgrade the
// schema. The returned func removes the listener; it is safe to call more
// than once. Listeners are dropped when the open settles.
func (r *OpenRequest) OnUpgradeNeeded(fn func(*VersionChangeEvent)) (remove func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return func() {}
	}
	id := r.nextID
	r.nextID++
	r.upgrade[id] = fn
	return func() {
		r.mu.Lock()
		delete(r.upgrade, id)
		r.mu.Unlock()
	}
}

// UpgradeListeners returns how many upgrade listeners are registered.
func (r *OpenRequest) UpgradeListeners() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upgrade)
}

// fireUpgrade calls the listeners in registration order.
func (r *OpenRequest) fireUpgrade(ev *VersionChangeEvent) {
	r.mu.Lock()
	ids := make([]int, 0, len(r.upgrade))
	for id := range r.upgrade {
		ids = append(ids, id)
	}
	listeners := make([]func(*VersionChangeEvent), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, r.upgrade[id])
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// finish drops every upgrade listener; later registrations are no-ops.
func (r *OpenRequest) finish() {
	r.mu.Lock()
	r.finished = true
	clear(r.upgrade)
	r.mu.Unlock()
}

func (r *OpenRequest) succeed(db *Database) {
	r.finish()
	r.Succeed(db)
}

func (r *OpenRequest) fail(err error) {
	r.finish()
	r.Fail(err)
}
