package jsaas

import (
	"strings"
	"testing"
	"time"

	"github.com/cryguy/jsaas/internal/core"
)

func newTestEvalContext(t *testing.T) core.EvalContext {
	t.Helper()
	ctx, err := newEvalContext()
	if err != nil {
		t.Fatalf("creating eval context: %v", err)
	}
	t.Cleanup(ctx.Close)
	return ctx
}

func TestEvaluateAddition(t *testing.T) {
	ctx := newTestEvalContext(t)

	got, err := ctx.Evaluate("function(a, b) { return a + b; }", "[2, 4]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "6" {
		t.Errorf("got %q, want %q", got, "6")
	}
}

func TestEvaluateObjectResult(t *testing.T) {
	ctx := newTestEvalContext(t)

	got, err := ctx.Evaluate(
		"function(a, b) { return { sum: a + b, product: a * b }; }", "[2, 4]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != `{"sum":6,"product":8}` {
		t.Errorf("got %q", got)
	}
}

func TestEvaluateSyntaxError(t *testing.T) {
	ctx := newTestEvalContext(t)

	_, err := ctx.Evaluate("function()) { return 0; }}", "[]", 5*time.Second)
	if err == nil {
		t.Fatal("expected a compile error")
	}
	if core.KindOf(err) != core.KindCompile {
		t.Errorf("kind = %v", core.KindOf(err))
	}
	if !strings.Contains(err.Error(), "SyntaxError") {
		t.Errorf("message = %q, want the interpreter's SyntaxError text", err)
	}
}

func TestEvaluateArgsNotArray(t *testing.T) {
	ctx := newTestEvalContext(t)

	_, err := ctx.Evaluate("function(a, b) { return a + b; }", " {}", 5*time.Second)
	if err == nil {
		t.Fatal("expected an error")
	}
	if core.KindOf(err) != core.KindArgsNotArray {
		t.Errorf("kind = %v", core.KindOf(err))
	}
	if err.Error() != "args must be a JSON-encoded array" {
		t.Errorf("message = %q", err)
	}
}

func TestEvaluateMalformedArgsJSON(t *testing.T) {
	ctx := newTestEvalContext(t)

	// Passes the leading-bracket check; the loader's JSON.parse throws.
	_, err := ctx.Evaluate("function(a, b) { return a + b; }", "[{{", 5*time.Second)
	if err == nil {
		t.Fatal("expected an error")
	}
	if core.KindOf(err) != core.KindRuntime {
		t.Errorf("kind = %v", core.KindOf(err))
	}
}

func TestEvaluateThrownError(t *testing.T) {
	ctx := newTestEvalContext(t)

	_, err := ctx.Evaluate("function() { throw new Error('boom'); }", "[]", 5*time.Second)
	if err == nil {
		t.Fatal("expected an error")
	}
	if core.KindOf(err) != core.KindRuntime {
		t.Errorf("kind = %v", core.KindOf(err))
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("message = %q, want the thrown error's text", err)
	}
}

func TestEvaluateUndefinedResult(t *testing.T) {
	ctx := newTestEvalContext(t)

	_, err := ctx.Evaluate("function() {}", "[]", 5*time.Second)
	if err == nil {
		t.Fatal("expected an error")
	}
	if core.KindOf(err) != core.KindUndefinedResult {
		t.Errorf("kind = %v", core.KindOf(err))
	}
	if err.Error() != "undefined" {
		t.Errorf("message = %q, want exactly %q", err, "undefined")
	}
}

func TestEvaluateNullIsJSON(t *testing.T) {
	ctx := newTestEvalContext(t)

	got, err := ctx.Evaluate("function() { return null; }", "[]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "null" {
		t.Errorf("got %q", got)
	}
}

func TestEvaluateUsableAfterCompileError(t *testing.T) {
	ctx := newTestEvalContext(t)

	if _, err := ctx.Evaluate("funktion()) { return 0; }}", "[]", 5*time.Second); err == nil {
		t.Fatal("expected a compile error")
	}
	if ctx.Broken() {
		t.Fatal("a compile error must not break the context")
	}

	got, err := ctx.Evaluate("function(a, b) { return a + b; }", "[2, 4]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate after error: %v", err)
	}
	if got != "6" {
		t.Errorf("got %q", got)
	}
}

func TestEvaluateStringsArePassedVerbatim(t *testing.T) {
	ctx := newTestEvalContext(t)

	got, err := ctx.Evaluate(
		"function(a, b) { return a + ' ' + b; }", `["hello", "wo\"rld"]`, 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != `"hello wo\"rld"` {
		t.Errorf("got %q", got)
	}
}

func TestEvaluateTimeoutBound(t *testing.T) {
	ctx := newTestEvalContext(t)

	start := time.Now()
	_, err := ctx.Evaluate("function() { while(true) {} }", "[]", 100*time.Millisecond)
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if core.KindOf(err) != core.KindTimeout {
		t.Errorf("kind = %v", core.KindOf(err))
	}
	if elapsed > 5*time.Second {
		t.Errorf("evaluate took %v, far beyond the 100ms limit", elapsed)
	}
}

func TestWorkerRecoversAfterTimeout(t *testing.T) {
	w := &evalWorker{}

	if _, err := w.evaluate("function() { while(true) {} }", "[]", 100*time.Millisecond); err == nil {
		t.Fatal("expected a timeout error")
	}

	got, err := w.evaluate("function(a, b) { return a + b; }", "[2, 4]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate after timeout: %v", err)
	}
	if got != "6" {
		t.Errorf("got %q", got)
	}
}

func TestBtoaCoercions(t *testing.T) {
	ctx := newTestEvalContext(t)

	got, err := ctx.Evaluate(
		"function() { return { a: btoa('hello'), b: btoa(1234), c: btoa(), d: btoa(null) }; }",
		"[]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	want := `{"a":"aGVsbG8=","b":"MTIzNA==","c":"dW5kZWZpbmVk","d":"bnVsbA=="}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAtobPreservesBytes(t *testing.T) {
	ctx := newTestEvalContext(t)

	got, err := ctx.Evaluate(
		`function() { var v = atob("AacABdxfoCQ="); return [0,1,2,3,4,5,6,7].map(function(i) { return v.charCodeAt(i); }); }`,
		"[]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "[1,167,0,5,220,95,160,36]" {
		t.Errorf("got %q", got)
	}
}

func TestAtobBtoaRoundTrip(t *testing.T) {
	ctx := newTestEvalContext(t)

	got, err := ctx.Evaluate(
		"function() { var s = String.fromCharCode(0, 1, 127, 128, 200, 255); return atob(btoa(s)) === s; }",
		"[]", 5*time.Second)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got != "true" {
		t.Errorf("got %q, want %q", got, "true")
	}
}

func TestAtobRejectsNonStrings(t *testing.T) {
	ctx := newTestEvalContext(t)

	_, err := ctx.Evaluate("function() { return atob(5); }", "[]", 5*time.Second)
	if err == nil {
		t.Fatal("expected an error")
	}
	if core.KindOf(err) != core.KindRuntime {
		t.Errorf("kind = %v", core.KindOf(err))
	}
}
