package jsaas

import (
	"log"
	"runtime"
	"time"

	"github.com/cryguy/jsaas/internal/core"
)

// Task is one evaluate request handed to the pool. Reply receives exactly
// one response; the channel must be buffered so an abandoned request never
// wedges a worker.
type Task struct {
	Code  string
	Args  string
	Limit time.Duration
	Reply chan<- *Response
}

// Pool is a fixed set of long-lived workers, each owning one interpreter
// context for its lifetime. Tasks are consumed FIFO; when every worker is
// busy, submissions queue without pushing back on the dispatcher.
type Pool struct {
	size int
	in   chan Task
	out  chan Task
}

// NewPool starts size workers, each with a pre-warmed eval context. A size
// of zero or less means one worker per CPU.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{
		size: size,
		in:   make(chan Task),
		out:  make(chan Task),
	}
	go p.pump()
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Submit queues a task for the next free worker.
func (p *Pool) Submit(t Task) {
	p.in <- t
}

// pump shuttles tasks from Submit to the workers through an unbounded FIFO
// backlog, so the dispatcher is never blocked behind a slow script.
func (p *Pool) pump() {
	var backlog []Task
	for {
		var out chan Task
		var next Task
		if len(backlog) > 0 {
			out = p.out
			next = backlog[0]
		}
		select {
		case t := <-p.in:
			backlog = append(backlog, t)
		case out <- next:
			backlog = backlog[1:]
		}
		evalQueueDepth.Set(float64(len(backlog)))
	}
}

func (p *Pool) work() {
	w := &evalWorker{}
	if c, err := newEvalContext(); err == nil {
		w.ctx = c
	}
	for t := range p.out {
		start := time.Now()
		out, err := w.evaluate(t.Code, t.Args, t.Limit)
		evaluationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			evaluationsTotal.WithLabelValues(core.KindOf(err).String()).Inc()
		} else {
			evaluationsTotal.WithLabelValues("ok").Inc()
		}
		t.Reply <- evalResponse(out, err)
	}
}

// evalWorker owns one interpreter context, recreating it when a call finds
// it missing or leaves it broken. Heap creation is attempted at most once
// per call; if that attempt fails the call fails with EngineInit and the
// next call tries again.
type evalWorker struct {
	ctx core.EvalContext
}

func (w *evalWorker) evaluate(code, args string, limit time.Duration) (string, error) {
	if w.ctx == nil {
		c, err := newEvalContext()
		if err != nil {
			return "", core.Errf(core.KindEngineInit, "error initializing %s heap: %v", engineName, err)
		}
		w.ctx = c
	}
	out, err := w.ctx.Evaluate(code, args, limit)
	if w.ctx.Broken() {
		log.Printf("jsaas: discarding %s context (interrupted or panicked)", engineName)
		w.ctx.Close()
		w.ctx = nil
	}
	return out, err
}
