//go:build v8

package v8engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cryguy/jsaas/internal/core"
	v8 "github.com/tommie/v8go"
)

// loaderJS is compiled on every call; it keeps no residual JS state between
// evaluations.
const loaderJS = `(function(fn, args) { return fn.apply(null, JSON.parse(args)); })` +
	`(globalThis.__jsaas_fn, globalThis.__jsaas_args)`

const cleanupJS = `delete globalThis.__jsaas_fn;` +
	`delete globalThis.__jsaas_args;` +
	`delete globalThis.__jsaas_result;`

// Context owns one V8 isolate+context pair plus the single-slot ticket for
// the in-flight evaluation.
type Context struct {
	iso    *v8.Isolate
	ctx    *v8.Context
	ticket *core.EvalTicket
	broken bool
}

var _ core.EvalContext = (*Context)(nil)

// New creates a V8 isolate and installs the btoa/atob host globals.
func New() (*Context, error) {
	iso := v8.NewIsolate()
	ctx := v8.NewContext(iso)
	c := &Context{iso: iso, ctx: ctx}

	if err := c.registerHostFunc("__jsaas_btoa", core.Btoa); err != nil {
		c.Close()
		return nil, fmt.Errorf("registering btoa: %w", err)
	}
	if err := c.registerHostFunc("__jsaas_atob", core.Atob); err != nil {
		c.Close()
		return nil, fmt.Errorf("registering atob: %w", err)
	}
	if _, err := ctx.RunScript(core.HostShimJS, "shims.js"); err != nil {
		c.Close()
		return nil, fmt.Errorf("installing host shims: %w", err)
	}

	return c, nil
}

// Evaluate compiles code as a function expression and applies it to the
// JSON-encoded argument array, under a watchdog that terminates the isolate
// once limit has elapsed.
func (c *Context) Evaluate(code, args string, limit time.Duration) (out string, err error) {
	if verr := core.ValidateArgs(args); verr != nil {
		return "", verr
	}

	ticket := &core.EvalTicket{Start: time.Now(), Limit: limit}
	c.ticket = ticket

	var timedOut atomic.Bool
	watchdog := time.AfterFunc(limit, func() {
		timedOut.Store(true)
		c.iso.TerminateExecution()
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
		// A terminated isolate is not reused; the owning worker rebuilds it.
		if !stopped || timedOut.Load() {
			c.broken = true
		}
		if !c.broken {
			_, _ = c.ctx.RunScript(cleanupJS, "cleanup.js")
		}
	}()

	fnVal, cerr := c.ctx.RunScript("(\n"+code+"\n)", "script.js")
	if cerr != nil {
		if timedOut.Load() {
			return "", core.TimeoutError(limit)
		}
		return "", core.Errf(core.KindCompile, "%s", cerr.Error())
	}
	if serr := c.ctx.Global().Set("__jsaas_fn", fnVal); serr != nil {
		return "", core.Errf(core.KindRuntime, "staging function: %v", serr)
	}
	argsVal, aerr := v8.NewValue(c.iso, args)
	if aerr != nil {
		return "", core.Errf(core.KindRuntime, "staging arguments: %v", aerr)
	}
	if serr := c.ctx.Global().Set("__jsaas_args", argsVal); serr != nil {
		return "", core.Errf(core.KindRuntime, "staging arguments: %v", serr)
	}

	resVal, rerr := c.ctx.RunScript(loaderJS, "loader.js")
	if rerr != nil {
		if timedOut.Load() {
			return "", core.TimeoutError(limit)
		}
		return "", core.Errf(core.KindRuntime, "%s", rerr.Error())
	}
	if serr := c.ctx.Global().Set("__jsaas_result", resVal); serr != nil {
		return "", core.Errf(core.KindRuntime, "staging result: %v", serr)
	}

	encoded, eerr := c.ctx.RunScript("JSON.stringify(globalThis.__jsaas_result)", "encode.js")
	if eerr != nil {
		if timedOut.Load() {
			return "", core.TimeoutError(limit)
		}
		return "", core.Errf(core.KindRuntime, "%s", eerr.Error())
	}
	if encoded == nil || encoded.IsUndefined() {
		return "", core.UndefinedResultError()
	}
	return encoded.String(), nil
}

// Broken reports whether the isolate was terminated or panicked and must be
// discarded.
func (c *Context) Broken() bool {
	return c.broken
}

// Close disposes the isolate.
func (c *Context) Close() {
	c.broken = true
	c.ctx.Close()
	c.iso.Dispose()
}

// registerHostFunc registers a Go (string) → (string, error) function as a
// global JavaScript function that throws the error's message, as a string
// value, on error.
func (c *Context) registerHostFunc(name string, fn func(string) (string, error)) error {
	tmpl := v8.NewFunctionTemplate(c.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		in := ""
		if len(args) > 0 {
			in = args[0].String()
		}
		out, err := fn(in)
		if err != nil {
			msg, _ := v8.NewValue(c.iso, err.Error())
			c.iso.ThrowException(msg)
			return nil
		}
		val, verr := v8.NewValue(c.iso, out)
		if verr != nil {
			msg, _ := v8.NewValue(c.iso, verr.Error())
			c.iso.ThrowException(msg)
			return nil
		}
		return val
	})
	return c.ctx.Global().Set(name, tmpl.GetFunction(c.ctx))
}
