//go:build v8

package jsaas

import (
	"github.com/cryguy/jsaas/internal/core"
	"github.com/cryguy/jsaas/internal/v8engine"
)

// engineName identifies the interpreter backend compiled into this binary.
const engineName = "v8"

func newEvalContext() (core.EvalContext, error) {
	return v8engine.New()
}
