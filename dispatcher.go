package jsaas

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cryguy/jsaas/internal/core"
	"github.com/google/uuid"
)

// Request is one fully-buffered HTTP request handed over by the boundary.
// Reply receives exactly one response, either inline from the dispatch loop
// or later from a pool worker.
type Request struct {
	Method string
	Path   string
	Body   []byte
	Reply  chan *Response
}

// Response is the reply produced for one dispatched request.
type Response struct {
	Status      int
	ContentType string
	Location    string
	Body        []byte
}

type scriptCreated struct {
	ID string `json:"id"`
}

// executor consumes evaluate tasks; satisfied by *Pool.
type executor interface {
	Submit(Task)
}

// Dispatcher decodes buffered requests and routes them. It is the single
// owner of the script registry: registry operations run inline on the
// dispatch loop and reply synchronously, while evaluations are submitted to
// the pool and reply through the request's channel whenever a worker gets
// to them.
type Dispatcher struct {
	requests chan *Request
	registry *ScriptRegistry
	pool     executor
	limit    time.Duration
}

// NewDispatcher creates a dispatcher owning registry, submitting evaluate
// work to pool with the given per-call wall-clock limit.
func NewDispatcher(registry *ScriptRegistry, pool executor, limit time.Duration) *Dispatcher {
	return &Dispatcher{
		requests: make(chan *Request, 128),
		registry: registry,
		pool:     pool,
		limit:    limit,
	}
}

// Requests returns the channel the boundary feeds.
func (d *Dispatcher) Requests() chan<- *Request {
	return d.requests
}

// Run processes requests until the channel closes. It must be started
// before the boundary begins accepting connections.
func (d *Dispatcher) Run() {
	for req := range d.requests {
		d.handle(req)
	}
}

func (d *Dispatcher) handle(req *Request) {
	switch {
	case req.Method == http.MethodPost && req.Path == "/execute":
		code, ok := bodyText(req.Body)
		if !ok {
			req.Reply <- textResponse(http.StatusBadRequest, "cannot extract script from request body")
			return
		}
		d.pool.Submit(Task{Code: code, Args: "[]", Limit: d.limit, Reply: req.Reply})

	case req.Method == http.MethodPost && (req.Path == "/scripts" || req.Path == "/scripts/"):
		source, ok := bodyText(req.Body)
		if !ok {
			req.Reply <- textResponse(http.StatusBadRequest, "cannot extract script from request body")
			return
		}
		id := d.registry.Store(source)
		scriptsStored.Set(float64(d.registry.Len()))
		body, _ := json.Marshal(scriptCreated{ID: id.String()})
		req.Reply <- &Response{
			Status:      http.StatusCreated,
			ContentType: "application/json",
			Location:    "/scripts/" + id.String(),
			Body:        body,
		}

	case strings.HasPrefix(req.Path, "/scripts/") && req.Path != "/scripts/":
		d.handleScript(req, strings.TrimPrefix(req.Path, "/scripts/"))

	case req.Method == http.MethodGet && req.Path == "/ping":
		req.Reply <- textResponse(http.StatusOK, "pong!")

	default:
		req.Reply <- textResponse(http.StatusNotFound, "cannot find route")
	}
}

func (d *Dispatcher) handleScript(req *Request, idStr string) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		req.Reply <- textResponse(http.StatusNotFound, "cannot find script")
		return
	}

	switch req.Method {
	case http.MethodGet:
		source, ok := d.registry.Get(id)
		if !ok {
			req.Reply <- textResponse(http.StatusNotFound, "cannot find script")
			return
		}
		req.Reply <- &Response{
			Status:      http.StatusOK,
			ContentType: "application/json",
			Body:        []byte(source),
		}

	case http.MethodPost:
		source, ok := d.registry.Get(id)
		if !ok {
			req.Reply <- textResponse(http.StatusNotFound, "cannot find script")
			return
		}
		args, ok := bodyText(req.Body)
		if !ok {
			req.Reply <- textResponse(http.StatusBadRequest, "cannot extract arguments from request body")
			return
		}
		d.pool.Submit(Task{Code: source, Args: args, Limit: d.limit, Reply: req.Reply})

	case http.MethodDelete:
		d.registry.Remove(id)
		scriptsStored.Set(float64(d.registry.Len()))
		req.Reply <- &Response{Status: http.StatusNoContent}

	default:
		req.Reply <- textResponse(http.StatusNotFound, "cannot find route")
	}
}

// bodyText returns the request body as a string, rejecting invalid UTF-8.
func bodyText(body []byte) (string, bool) {
	if !utf8.Valid(body) {
		return "", false
	}
	return string(body), true
}

func textResponse(status int, body string) *Response {
	return &Response{Status: status, Body: []byte(body)}
}

// evalResponse converts an evaluation outcome into the wire reply: the JSON
// result on success, the error message otherwise. Only an EngineInit
// failure is the server's fault.
func evalResponse(result string, err error) *Response {
	if err == nil {
		return &Response{
			Status:      http.StatusOK,
			ContentType: "application/json",
			Body:        []byte(result),
		}
	}
	status := http.StatusBadRequest
	if core.KindOf(err) == core.KindEngineInit {
		status = http.StatusInternalServerError
	}
	return textResponse(status, err.Error())
}
