package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/loop"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/testutil"
)

type env struct {
	t         *testing.T
	loop      *loop.Loop
	factory   *record.Factory
	transport *testutil.ScriptedTransport
	reqIDs    *testutil.Sequence
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		t:         t,
		loop:      loop.New(),
		factory:   record.NewFactory(schema.MustBuiltin(), record.WithIDGenerator(&record.SequenceGenerator{})),
		transport: testutil.NewScriptedTransport(testutil.NewSequence("E")),
		reqIDs:    testutil.NewSequence("req"),
	}
}

func (e *env) store(name string, opts ...Option) *Store {
	e.t.Helper()
	base := []Option{WithLoop(e.loop), WithTransport(e.transport), WithRequestIDs(e.reqIDs.Next)}
	s, err := New(name, e.factory, append(base, opts...)...)
	require.NoError(e.t, err)
	return s
}

func (e *env) drain() {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(e.t, e.loop.Drain(ctx))
}

// note builds a persisted IPM.Note.
func (e *env) note(entryid string, data ir.IRObject) *record.Record {
	e.t.Helper()
	d := data.Clone()
	if d == nil {
		d = ir.IRObject{}
	}
	d["entryid"] = ir.IRString(entryid)
	r, err := e.factory.CreateByMessageClass("IPM.Note", d, entryid)
	require.NoError(e.t, err)
	return r
}

func (e *env) phantomNote(subject string) *record.Record {
	e.t.Helper()
	r, err := e.factory.CreateByMessageClass("IPM.Note", ir.IRObject{"subject": ir.IRString(subject)}, "")
	require.NoError(e.t, err)
	return r
}

func edit(t *testing.T, r *record.Record, values ir.IRObject) {
	t.Helper()
	require.NoError(t, r.SetValues(values))
}

// events subscribes to every topic of s and records what fired.
type events struct {
	beforeSave []SaveEvent
	save       []SaveEvent
	update     []UpdateEvent
	add        []AddEvent
	remove     []RemoveEvent
	write      []WriteEvent
	exception  []ExceptionEvent
	load       []LoadEvent
	open       []OpenEvent
	invalid    []InvalidEvent
}

func listen(s *Store) *events {
	ev := &events{}
	s.OnBeforeSave().Subscribe(ev, func(e SaveEvent) { ev.beforeSave = append(ev.beforeSave, e) })
	s.OnSave().Subscribe(ev, func(e SaveEvent) { ev.save = append(ev.save, e) })
	s.OnUpdate().Subscribe(ev, func(e UpdateEvent) { ev.update = append(ev.update, e) })
	s.OnAdd().Subscribe(ev, func(e AddEvent) { ev.add = append(ev.add, e) })
	s.OnRemove().Subscribe(ev, func(e RemoveEvent) { ev.remove = append(ev.remove, e) })
	s.OnWrite().Subscribe(ev, func(e WriteEvent) { ev.write = append(ev.write, e) })
	s.OnException().Subscribe(ev, func(e ExceptionEvent) { ev.exception = append(ev.exception, e) })
	s.OnLoad().Subscribe(ev, func(e LoadEvent) { ev.load = append(ev.load, e) })
	s.OnOpen().Subscribe(ev, func(e OpenEvent) { ev.open = append(ev.open, e) })
	s.OnInvalid().Subscribe(ev, func(e InvalidEvent) { ev.invalid = append(ev.invalid, e) })
	return ev
}

type fakeRegistrar struct {
	registered   []*Store
	unregistered []*Store
	err          error
}

func (f *fakeRegistrar) Register(s *Store) error {
	if f.err != nil {
		return f.err
	}
	f.registered = append(f.registered, s)
	return nil
}

func (f *fakeRegistrar) Unregister(s *Store) error {
	f.unregistered = append(f.unregistered, s)
	return nil
}
