package harness

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/recsync/internal/coordinator"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/store"
	"github.com/roach88/recsync/internal/wire"
)

// requestPrefix prefixes the request ids the harness hands to its
// stores; the number after it is the issue order.
const requestPrefix = "REQ-"

type pendingEvent struct {
	ordinal int
	ev      TraceEvent
}

// recorder collects trace events. Request events arrive on transport
// goroutines, the rest on the loop.
type recorder struct {
	mu      sync.Mutex
	pending []pendingEvent
	seq     int64
}

func ordinal(request string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(request, requestPrefix))
	if err != nil || !strings.HasPrefix(request, requestPrefix) {
		return 0
	}
	return n
}

func (r *recorder) record(request string, ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, pendingEvent{ordinal: ordinal(request), ev: ev})
}

// flush returns the events of the finished step: those not tied to a
// request first, then by request issue order.
func (r *recorder) flush(step int, name func(string) string) []TraceEvent {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	slices.SortStableFunc(pending, func(a, b pendingEvent) int { return a.ordinal - b.ordinal })
	out := make([]TraceEvent, 0, len(pending))
	for _, p := range pending {
		r.seq++
		ev := p.ev
		ev.Seq = r.seq
		ev.Step = step
		for i, id := range ev.Records {
			ev.Records[i] = name(id)
		}
		out = append(out, ev)
	}
	return out
}

func recordIDs(recs []*record.Record) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID()
	}
	return ids
}

func errorCode(resp *wire.Response, err error) string {
	if resp != nil && resp.Error != nil {
		return resp.Error.Code
	}
	var we *wire.Error
	if errors.As(err, &we) {
		return we.Code
	}
	return "transport"
}

// attach subscribes to the events of s that end up in the trace.
func (r *recorder) attach(s *store.Store) {
	name := s.Name()
	s.OnWrite().Subscribe(r, func(ev store.WriteEvent) {
		r.record(ev.Request, TraceEvent{Kind: KindWrite, Store: name, Action: string(ev.Action), Records: recordIDs(ev.Records)})
	})
	s.OnException().Subscribe(r, func(ev store.ExceptionEvent) {
		r.record(ev.Request, TraceEvent{
			Kind:    KindException,
			Store:   name,
			Action:  string(ev.Action),
			Records: recordIDs(ev.Records),
			Error:   errorCode(ev.Response, ev.Err),
		})
	})
	s.OnLoad().Subscribe(r, func(ev store.LoadEvent) {
		r.record(ev.Request, TraceEvent{Kind: KindLoad, Store: name, Records: recordIDs(ev.Records)})
	})
	s.OnOpen().Subscribe(r, func(ev store.OpenEvent) {
		r.record(ev.Request, TraceEvent{Kind: KindOpen, Store: name, Records: []string{ev.Record.ID()}})
	})
	s.OnInvalid().Subscribe(r, func(ev store.InvalidEvent) {
		r.record("", TraceEvent{Kind: KindInvalid, Store: name, Records: []string{ev.Record.ID()}})
	})
	s.OnRemove().Subscribe(r, func(ev store.RemoveEvent) {
		// External removals show up as propagated events.
		if !ev.External {
			r.record("", TraceEvent{Kind: KindRemove, Store: name, Records: []string{ev.Record.ID()}})
		}
	})
}

func (r *recorder) watch(c *coordinator.Coordinator) {
	c.Propagated().Subscribe(r, func(ev coordinator.PropagatedEvent) {
		r.record(ev.Request, TraceEvent{
			Kind:    KindPropagated,
			Store:   ev.To.Name(),
			From:    ev.From.Name(),
			Action:  string(ev.Action),
			Records: []string{ev.Record.ID()},
		})
	})
}

// registrar attaches the recorder before the coordinator subscribes, so
// a write is traced ahead of the propagation it causes.
type registrar struct {
	rec   *recorder
	coord *coordinator.Coordinator
}

func (g registrar) Register(s *store.Store) error {
	g.rec.attach(s)
	return g.coord.Register(s)
}

func (g registrar) Unregister(s *store.Store) error {
	return g.coord.Unregister(s)
}

// tracingTransport records every request before passing it on.
type tracingTransport struct {
	next store.Transport
	rec  *recorder
}

func (t tracingTransport) Execute(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		ids[i] = item.ID
	}
	t.rec.record(req.ID, TraceEvent{Kind: KindRequest, Store: req.Store, Action: string(req.Action), Records: ids})
	return t.next.Execute(ctx, req)
}
