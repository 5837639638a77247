package persist

import (
	"fmt"
	"sync"
)

// Pending is an operation handle that eventually reports one result or
// one error through its listeners. *idb.Request and *idb.OpenRequest
// satisfy it.
type Pending interface {
	OnSuccess(fn func(result any))
	OnError(fn func(err error))
}

// Future is the single settlement of a Pending operation.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Promisify registers exactly one success and one failure listener on op
// and returns a Future that settles with whichever fires first. There is
// no timeout: if op never settles, neither does the Future.
func Promisify[T any](op Pending) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	var once sync.Once
	settle := func(v T, err error) {
		once.Do(func() {
			f.value, f.err = v, err
			close(f.done)
		})
	}
	op.OnSuccess(func(result any) {
		if result == nil {
			var zero T
			settle(zero, nil)
			return
		}
		v, ok := result.(T)
		if !ok {
			var zero T
			settle(zero, fmt.Errorf("unexpected result type %T", result))
			return
		}
		settle(v, nil)
	})
	op.OnError(func(err error) {
		var zero T
		settle(zero, err)
	})
	return f
}

// Wait blocks until the Future settles.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Done is closed once the Future has settled. Select on it to bound the
// wait with a timer or context.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
