//go:build !v8

package quickjs

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cryguy/jsaas/internal/core"
	"modernc.org/quickjs"
)

// loaderJS is compiled on every call; it keeps no residual JS state between
// evaluations. The staged function and argument string are handed to it
// through globals that are deleted again before the call returns.
const loaderJS = `(function(fn, args) { return fn.apply(null, JSON.parse(args)); })` +
	`(globalThis.__jsaas_fn, globalThis.__jsaas_args)`

const cleanupJS = `delete globalThis.__jsaas_fn;` +
	`delete globalThis.__jsaas_args;` +
	`delete globalThis.__jsaas_result;`

// Context owns one QuickJS heap plus the single-slot ticket for the
// in-flight evaluation.
type Context struct {
	vm     *quickjs.VM
	ticket *core.EvalTicket
	broken bool
}

var _ core.EvalContext = (*Context)(nil)

// New creates a QuickJS heap and installs the btoa/atob host globals.
func New() (*Context, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}

	c := &Context{vm: vm}

	if err := c.registerHostFunc("__jsaas_btoa", core.Btoa); err != nil {
		vm.Close()
		return nil, fmt.Errorf("registering btoa: %w", err)
	}
	if err := c.registerHostFunc("__jsaas_atob", core.Atob); err != nil {
		vm.Close()
		return nil, fmt.Errorf("registering atob: %w", err)
	}
	if err := c.eval(core.HostShimJS); err != nil {
		vm.Close()
		return nil, fmt.Errorf("installing host shims: %w", err)
	}

	return c, nil
}

// Evaluate compiles code as a function expression and applies it to the
// JSON-encoded argument array, under a watchdog that interrupts the
// interpreter once limit has elapsed.
func (c *Context) Evaluate(code, args string, limit time.Duration) (out string, err error) {
	if verr := core.ValidateArgs(args); verr != nil {
		return "", verr
	}

	ticket := &core.EvalTicket{Start: time.Now(), Limit: limit}
	c.ticket = ticket

	var timedOut atomic.Bool
	watchdog := time.AfterFunc(limit, func() {
		timedOut.Store(true)
		c.vm.Interrupt()
	})

	defer func() {
		stopped := watchdog.Stop()
		if r := recover(); r != nil {
			c.broken = true
			if timedOut.Load() {
				err = core.TimeoutError(limit)
			} else {
				err = core.Errf(core.KindRuntime, "interpreter panic: %v", r)
			}
		}
		// An interrupted VM is not reused; the owning worker rebuilds it.
		if !stopped || timedOut.Load() {
			c.broken = true
		}
		if !c.broken {
			_ = c.eval(cleanupJS)
		}
	}()

	// Compile the user code as a function expression. The surrounding
	// newlines keep a trailing line comment from swallowing the closer.
	fnVal, cerr := c.vm.EvalValue("(\n"+code+"\n)", quickjs.EvalGlobal)
	if cerr != nil {
		if timedOut.Load() {
			return "", core.TimeoutError(limit)
		}
		return "", core.Errf(core.KindCompile, "%s", cerr.Error())
	}
	if serr := c.setGlobal("__jsaas_fn", fnVal); serr != nil {
		fnVal.Free()
		return "", core.Errf(core.KindRuntime, "staging function: %v", serr)
	}
	fnVal.Free()
	if serr := c.setGlobal("__jsaas_args", args); serr != nil {
		return "", core.Errf(core.KindRuntime, "staging arguments: %v", serr)
	}

	resVal, rerr := c.vm.EvalValue(loaderJS, quickjs.EvalGlobal)
	if rerr != nil {
		if timedOut.Load() {
			return "", core.TimeoutError(limit)
		}
		return "", core.Errf(core.KindRuntime, "%s", rerr.Error())
	}
	if serr := c.setGlobal("__jsaas_result", resVal); serr != nil {
		resVal.Free()
		return "", core.Errf(core.KindRuntime, "staging result: %v", serr)
	}
	resVal.Free()

	encoded, eerr := c.vm.Eval("JSON.stringify(globalThis.__jsaas_result)", quickjs.EvalGlobal)
	if eerr != nil {
		if timedOut.Load() {
			return "", core.TimeoutError(limit)
		}
		return "", core.Errf(core.KindRuntime, "%s", eerr.Error())
	}
	switch v := encoded.(type) {
	case nil:
		// JSON.stringify yields undefined for values with no JSON
		// representation: undefined itself, functions, symbols.
		return "", core.UndefinedResultError()
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}

// Broken reports whether the heap was interrupted or panicked and must be
// discarded.
func (c *Context) Broken() bool {
	return c.broken
}

// Close destroys the heap.
func (c *Context) Close() {
	c.broken = true
	c.vm.Close()
}

func (c *Context) eval(js string) error {
	v, err := c.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	v.Free()
	return nil
}

// setGlobal sets a global property on the VM's global object.
func (c *Context) setGlobal(name string, value any) error {
	atom, err := c.vm.NewAtom(name)
	if err != nil {
		return fmt.Errorf("creating atom %q: %w", name, err)
	}
	glob := c.vm.GlobalObject()
	defer glob.Free()
	return glob.SetProperty(atom, value)
}

// registerHostFunc registers a Go (string) → (string, error) function as a
// global JavaScript function. The QuickJS Go wrapper returns multi-value
// results as JS arrays, so a JS shim unwraps [value, err] and throws a
// TypeError when err is set.
func (c *Context) registerHostFunc(name string, fn func(string) (string, error)) error {
	rawName := "__raw_" + name
	if err := c.vm.RegisterFunc(rawName, fn, false); err != nil {
		return err
	}
	wrapJS := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function(s) {
			var r = raw(s);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError(String(r[1]));
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, rawName, name, rawName)
	return c.eval(wrapJS)
}
