//go:build !v8

package jsaas

import (
	"github.com/cryguy/jsaas/internal/core"
	"github.com/cryguy/jsaas/internal/quickjs"
)

// engineName identifies the interpreter backend compiled into this binary.
const engineName = "quickjs"

func newEvalContext() (core.EvalContext, error) {
	return quickjs.New()
}
