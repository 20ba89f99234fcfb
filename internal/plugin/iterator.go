package plugin

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
	"github.com/amf-flx/fluxnet-shuttle/internal/model"
	"github.com/amf-flx/fluxnet-shuttle/internal/stream"
)

// ErrorCollectingIterator multiplexes one named stream operation across
// several plugins. A failing source is recorded once and removed while
// its siblings keep producing; Next yields items as soon as any source
// has one, preserving per-source order but not inter-source order.
type ErrorCollectingIterator struct {
	sources   map[string]Plugin
	operation string
	filters   Filters
	logger    *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	activated bool
	closed    bool
	active    []*activeSource
	errors    []model.ErrorDetail
	results   int
}

type activeSource struct {
	name   string
	stream *stream.Stream[model.DatasetMetadata]
	events <-chan stream.Event[model.DatasetMetadata]
}

// NewErrorCollectingIterator builds an iterator over the given sources.
// Activation is deferred to the first Next call; construction never
// touches the plugins.
func NewErrorCollectingIterator(sources map[string]Plugin, operation string, filters Filters, log *logger.Logger) *ErrorCollectingIterator {
	ctx, cancel := context.WithCancel(context.Background())
	return &ErrorCollectingIterator{
		sources:   sources,
		operation: operation,
		filters:   filters,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// activateLocked resolves and starts every source's stream, classifying
// the three activation failures: an operation the plugin does not have,
// an operation that is not invocable, and an invocation that does not
// produce a stream. Callers hold it.mu.
func (it *ErrorCollectingIterator) activateLocked() {
	if it.activated {
		return
	}
	it.activated = true

	names := make([]string, 0, len(it.sources))
	for name := range it.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fn, err := it.resolveOperation(it.sources[name])
		if err != nil {
			it.recordLocked(name, err)
			continue
		}

		st, err := it.invokeOperation(name, fn)
		if err != nil {
			it.recordLocked(name, err)
			continue
		}

		it.active = append(it.active, &activeSource{
			name:   name,
			stream: st,
			events: st.Events(it.ctx),
		})
	}
}

// resolveOperation finds the named operation on a plugin.
func (it *ErrorCollectingIterator) resolveOperation(p Plugin) (StreamFunc, error) {
	if it.operation == OpSites {
		return p.Sites, nil
	}

	provider, ok := p.(OperationProvider)
	if !ok {
		return nil, fmt.Errorf("operation '%s' not found", it.operation)
	}

	fn, ok := provider.Operation(it.operation)
	if !ok {
		return nil, fmt.Errorf("operation '%s' not found", it.operation)
	}
	if fn == nil {
		return nil, fmt.Errorf("operation '%s' is not invocable", it.operation)
	}
	return fn, nil
}

// invokeOperation calls the operation, recovering panics so one broken
// plugin cannot take down the run.
func (it *ErrorCollectingIterator) invokeOperation(name string, fn StreamFunc) (st *stream.Stream[model.DatasetMetadata], err error) {
	defer func() {
		if r := recover(); r != nil {
			st = nil
			err = fmt.Errorf("operation '%s' panicked during activation: %v", it.operation, r)
		}
	}()

	st = fn(it.ctx, it.filters)
	if st == nil {
		return nil, fmt.Errorf("operation '%s' did not produce a stream", it.operation)
	}
	return st, nil
}

// Next blocks until any active source yields an item. It returns
// stream.ErrDone once every source has finished or failed, and ctx.Err()
// if the caller's context expires first.
func (it *ErrorCollectingIterator) Next(ctx context.Context) (model.DatasetMetadata, error) {
	var zero model.DatasetMetadata

	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return zero, stream.ErrDone
	}
	it.activateLocked()

	for len(it.active) > 0 {
		// Select over every active source plus the caller's context.
		// reflect.Select picks a ready case at random, so no single hub
		// can starve the others.
		snapshot := append([]*activeSource(nil), it.active...)
		cases := make([]reflect.SelectCase, 0, len(snapshot)+1)
		for _, src := range snapshot {
			cases = append(cases, reflect.SelectCase{
				Dir:  reflect.SelectRecv,
				Chan: reflect.ValueOf(src.events),
			})
		}
		ctxIdx := len(cases)
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(ctx.Done()),
		})

		it.mu.Unlock()
		chosen, recv, recvOK := reflect.Select(cases)
		it.mu.Lock()

		if chosen == ctxIdx {
			it.mu.Unlock()
			return zero, ctx.Err()
		}
		if it.closed {
			it.mu.Unlock()
			return zero, stream.ErrDone
		}

		src := snapshot[chosen]
		idx := it.indexOfLocked(src)
		if idx < 0 {
			// A sibling call removed this source while we were
			// selecting; retry with a fresh snapshot.
			continue
		}

		if !recvOK {
			it.finishLocked(idx)
			continue
		}

		ev := recv.Interface().(stream.Event[model.DatasetMetadata])
		if ev.Err != nil {
			it.recordLocked(src.name, ev.Err)
			it.finishLocked(idx)
			continue
		}

		it.results++
		it.mu.Unlock()
		return ev.Item, nil
	}

	it.mu.Unlock()
	return zero, stream.ErrDone
}

// indexOfLocked locates src in the active set, -1 when absent.
func (it *ErrorCollectingIterator) indexOfLocked(src *activeSource) int {
	for i, candidate := range it.active {
		if candidate == src {
			return i
		}
	}
	return -1
}

// finishLocked closes and removes the active source at index i.
func (it *ErrorCollectingIterator) finishLocked(i int) {
	src := it.active[i]
	src.stream.Close()
	it.active = append(it.active[:i], it.active[i+1:]...)
}

// recordLocked appends one error attributed to the named source.
func (it *ErrorCollectingIterator) recordLocked(name string, err error) {
	it.errors = append(it.errors, model.ErrorDetail{
		DataHub:   name,
		Operation: it.operation,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
	it.logger.WithFields(map[string]any{
		"data_hub":  name,
		"operation": it.operation,
	}).Error(err, "data hub source failed")
}

// HasErrors reports whether any source failed so far.
func (it *ErrorCollectingIterator) HasErrors() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return len(it.errors) > 0
}

// Summary returns a point-in-time copy of the collected errors and the
// running result count. Calling it does not change iterator state.
func (it *ErrorCollectingIterator) Summary() model.ErrorSummary {
	it.mu.Lock()
	defer it.mu.Unlock()

	errs := make([]model.ErrorDetail, len(it.errors))
	copy(errs, it.errors)
	return model.ErrorSummary{
		TotalErrors:  len(errs),
		TotalResults: it.results,
		Errors:       errs,
	}
}

// Close releases every active stream. It is idempotent.
func (it *ErrorCollectingIterator) Close() {
	it.mu.Lock()
	if it.closed {
		it.mu.Unlock()
		return
	}
	it.closed = true
	active := it.active
	it.active = nil
	it.mu.Unlock()

	it.cancel()
	for _, src := range active {
		src.stream.Close()
	}
}
