package distribution

import (
	"sync"

	"github.com/unkn0wn-root/splitcache/interceptor"
)

// all resolves with every result, in order, once all futures succeeded, or with the
// first error (by position) once all of them settled.
func all(futs []*interceptor.Future) *interceptor.Future {
	return settleWith(futs, func(vals []any, errs []error) (any, error) {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return vals, nil
	})
}

// settle resolves with the []error of every future once all of them settled. It never
// fails itself.
func settle(futs []*interceptor.Future) *interceptor.Future {
	return settleWith(futs, func(_ []any, errs []error) (any, error) { return errs, nil })
}

func settleWith(futs []*interceptor.Future, fn func([]any, []error) (any, error)) *interceptor.Future {
	out := interceptor.NewFuture()
	vals := make([]any, len(futs))
	errs := make([]error, len(futs))
	if len(futs) == 0 {
		out.Complete(fn(vals, errs))
		return out
	}
	var (
		mu      sync.Mutex
		pending = len(futs)
	)
	for i, f := range futs {
		i := i // per-iteration copy; go.mod targets go1.21 loop semantics
		f.Then(func(v any, err error) (any, error) {
			mu.Lock()
			vals[i], errs[i] = v, err
			pending--
			last := pending == 0
			mu.Unlock()
			if last {
				out.Complete(fn(vals, errs))
			}
			return nil, nil
		})
	}
	return out
}
