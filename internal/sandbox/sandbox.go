// Package sandbox runs demo algorithm scripts (algo.js) in isolated goja
// runtimes.
//
// A demo script declares top-level functions, typically closure factories:
//
//	function createCounter(n) { return function () { return n++; }; }
//
// Invoke calls a factory once and then calls the returned closure repeatedly
// inside the same runtime, so state captured by the closure survives between
// calls.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/starford/leetlab/internal/apperr"
)

// ErrTimeout is returned when a script exceeds its time budget.
var ErrTimeout = errors.New("script timed out")

const defaultTimeout = 2 * time.Second

// Program is a compiled demo script.
type Program struct {
	name    string
	version string
	program *goja.Program
	exports []string
}

// Exports returns the names of the top-level functions the script defines.
func (p *Program) Exports() []string {
	return append([]string(nil), p.exports...)
}

// Call is one invocation of the closure returned by a factory.
type Call struct {
	Args []any `json:"args"`
}

// Runner compiles and runs scripts. It keeps at most one compiled program
// per key; a compile with a different version replaces it.
type Runner struct {
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]*Program
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds every compile-time evaluation and invocation.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		timeout: defaultTimeout,
		cache:   make(map[string]*Program),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compile parses src and evaluates it once in a scratch runtime to learn
// which functions it defines. key names the cache slot (the demo id) and
// version identifies the source (its checksum). An empty key disables the
// cache.
func (r *Runner) Compile(ctx context.Context, key, version, name, src string) (*Program, error) {
	if key != "" {
		r.mu.Lock()
		p, ok := r.cache[key]
		r.mu.Unlock()
		if ok && p.version == version {
			return p, nil
		}
	}

	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %s: %w", name, err)
	}

	vm := goja.New()
	stop := r.watch(ctx, vm)
	_, err = vm.RunProgram(prog)
	stop()
	if err != nil {
		return nil, fmt.Errorf("sandbox: evaluate %s: %w", name, translate(err))
	}

	var exports []string
	global := vm.GlobalObject()
	for _, k := range global.Keys() {
		if _, ok := goja.AssertFunction(global.Get(k)); ok {
			exports = append(exports, k)
		}
	}
	sort.Strings(exports)

	p := &Program{name: name, version: version, program: prog, exports: exports}
	if key != "" {
		r.mu.Lock()
		r.cache[key] = p
		r.mu.Unlock()
	}
	return p, nil
}

// Forget drops the compiled program cached under key.
func (r *Runner) Forget(key string) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}

// Cached returns the number of compiled programs held.
func (r *Runner) Cached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

// Invoke runs factory(args...) in a fresh runtime. If the factory returns a
// function, each call is applied to it in order and the results are
// returned; otherwise the factory's own result is returned as the only
// element.
func (r *Runner) Invoke(ctx context.Context, p *Program, factory string, args []any, calls []Call) ([]any, error) {
	vm := goja.New()
	stop := r.watch(ctx, vm)
	defer stop()

	if _, err := vm.RunProgram(p.program); err != nil {
		return nil, fmt.Errorf("sandbox: evaluate %s: %w", p.name, translate(err))
	}

	fn, ok := goja.AssertFunction(vm.Get(factory))
	if !ok {
		return nil, fmt.Errorf("sandbox: %s: %q: %w", p.name, factory, apperr.ErrUnknownFunction)
	}
	produced, err := fn(goja.Undefined(), toValues(vm, args)...)
	if err != nil {
		return nil, fmt.Errorf("sandbox: call %s: %w", factory, translate(err))
	}

	closure, ok := goja.AssertFunction(produced)
	if !ok {
		return []any{export(produced)}, nil
	}

	results := make([]any, 0, len(calls))
	for i, c := range calls {
		v, err := closure(goja.Undefined(), toValues(vm, c.Args)...)
		if err != nil {
			return nil, fmt.Errorf("sandbox: call %s closure #%d: %w", factory, i+1, translate(err))
		}
		results = append(results, export(v))
	}
	return results, nil
}

// watch interrupts vm when ctx is done or the runner's timeout elapses.
// The returned func must be called once the runtime is no longer used.
func (r *Runner) watch(ctx context.Context, vm *goja.Runtime) func() {
	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt(ErrTimeout)
	})
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() {
		timer.Stop()
		close(done)
	}
}

func toValues(vm *goja.Runtime, args []any) []goja.Value {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		out[i] = vm.ToValue(a)
	}
	return out
}

// export converts a JS value into something encoding/json can carry.
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if _, ok := goja.AssertFunction(v); ok {
		return "[function]"
	}
	return v.Export()
}

// translate unwraps runtime interruptions into their cause.
func translate(err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		if cause, ok := ie.Value().(error); ok {
			return cause
		}
	}
	return err
}
