package testutil

import (
	"context"
	"slices"
	"sync"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/wire"
)

// Responder answers one request.
type Responder func(req *wire.Request) (*wire.Response, error)

// ScriptedTransport is an in-memory store transport. Queued responders
// answer requests in order; when the queue is empty the fallback answers
// (Echo by default). Hold makes requests block until Release or until
// their context is cancelled.
type ScriptedTransport struct {
	mu       sync.Mutex
	requests []*wire.Request
	script   []Responder
	fallback Responder
	gate     chan struct{}
}

// NewScriptedTransport creates a transport that echoes requests, handing
// out entry ids from ids.
func NewScriptedTransport(ids *Sequence) *ScriptedTransport {
	return &ScriptedTransport{fallback: Echo(ids)}
}

// Enqueue adds responders for the next requests.
func (t *ScriptedTransport) Enqueue(fns ...Responder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, fns...)
}

// SetFallback replaces the responder used once the script is exhausted.
func (t *ScriptedTransport) SetFallback(fn Responder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = fn
}

// Hold blocks subsequent requests until Release.
func (t *ScriptedTransport) Hold() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gate == nil {
		t.gate = make(chan struct{})
	}
}

// Release lets held requests through.
func (t *ScriptedTransport) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gate != nil {
		close(t.gate)
		t.gate = nil
	}
}

// Requests returns every request received so far.
func (t *ScriptedTransport) Requests() []*wire.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.requests)
}

// Last returns the most recent request, or nil.
func (t *ScriptedTransport) Last() *wire.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.requests) == 0 {
		return nil
	}
	return t.requests[len(t.requests)-1]
}

// Execute implements store.Transport.
func (t *ScriptedTransport) Execute(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	gate := t.gate
	var fn Responder
	if len(t.script) > 0 {
		fn = t.script[0]
		t.script = t.script[1:]
	} else {
		fn = t.fallback
	}
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(req)
}

// Echo answers like a server that accepts everything: created items get
// an entry id from ids and every written item comes back with its props
// and version+1. List requests return nothing.
func Echo(ids *Sequence) Responder {
	return func(req *wire.Request) (*wire.Response, error) {
		resp := &wire.Response{ID: req.ID, Store: req.Store, Action: req.Action}
		for _, item := range req.Items {
			ri := wire.ResponseItem{ID: item.ID, Version: item.Version + 1, Props: item.Props.Clone()}
			if req.Action == wire.ActionCreate && record.IsTemporaryID(item.ID) {
				ri.TempID = item.ID
				ri.ID = ids.Next()
				if ri.Props == nil {
					ri.Props = ir.IRObject{}
				}
				ri.Props["entryid"] = ir.IRString(ri.ID)
			}
			if req.Action == wire.ActionDestroy {
				ri.Deleted = true
				ri.Props = nil
			}
			resp.Items = append(resp.Items, ri)
		}
		return resp, nil
	}
}

// Reply answers with resp, stamped with the request's id.
func Reply(resp wire.Response) Responder {
	return func(req *wire.Request) (*wire.Response, error) {
		out := resp
		out.ID = req.ID
		if out.Action == "" {
			out.Action = req.Action
		}
		return &out, nil
	}
}

// Fail answers with err.
func Fail(err error) Responder {
	return func(*wire.Request) (*wire.Response, error) {
		return nil, err
	}
}
