package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/recsync/internal/backend"
	"github.com/roach88/recsync/internal/coordinator"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/loop"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/restriction"
	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/store"
	"github.com/roach88/recsync/internal/testutil"
)

// StepTimeout bounds how long one step may wait for its requests.
var StepTimeout = 10 * time.Second

// fixedNow is the server clock of every run.
var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// Harness holds the state of one scenario run.
type Harness struct {
	scenario *Scenario
	loop     *loop.Loop
	factory  *record.Factory
	server   *backend.Server
	coord    *coordinator.Coordinator
	rec      *recorder
	stores   map[string]*store.Store

	records map[string]*record.Record
	homes   map[string]string
	// names maps every id an aliased record has had to its alias.
	names map[string]string
}

// RunOption configures Run.
type RunOption func(*runConfig)

type runConfig struct {
	dedupWindow *int
}

// window returns the dedup window for sc, which overrides the run's.
func (c runConfig) window(sc *Scenario) *int {
	if sc.DedupWindow != nil {
		return sc.DedupWindow
	}
	return c.dedupWindow
}

// WithDedupWindow sets the coordinator's dedup window for scenarios that
// do not set their own.
func WithDedupWindow(n int) RunOption {
	return func(c *runConfig) {
		c.dedupWindow = &n
	}
}

// Run executes a scenario in a fresh in-memory server and returns the
// result. Each run uses deterministic entry ids, request ids, temporary
// ids and server clock.
func Run(ctx context.Context, sc *Scenario, opts ...RunOption) (*Result, error) {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	reg, err := schema.Builtin()
	if err != nil {
		return nil, fmt.Errorf("load built-in definitions: %w", err)
	}
	for _, path := range sc.Definitions {
		if err := schema.CompileFile(reg, path); err != nil {
			return nil, fmt.Errorf("compile %s: %w", path, err)
		}
	}

	srv, err := backend.Open(":memory:",
		backend.WithRegistry(reg),
		backend.WithIDs(testutil.NewSequence("ENTRY").Next),
		backend.WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory server: %w", err)
	}
	defer srv.Close()

	copts := []coordinator.Option{coordinator.WithContext(ctx)}
	if n := cfg.window(sc); n != nil {
		copts = append(copts, coordinator.WithDedupWindow(*n))
	}
	h := &Harness{
		scenario: sc,
		loop:     loop.New(),
		factory:  record.NewFactory(reg, record.WithIDGenerator(&record.SequenceGenerator{})),
		server:   srv,
		coord:    coordinator.New(copts...),
		rec:      &recorder{},
		stores:   make(map[string]*store.Store),
		records:  make(map[string]*record.Record),
		homes:    make(map[string]string),
		names:    make(map[string]string),
	}
	defer h.loop.Stop()
	h.rec.watch(h.coord)
	slog.Debug("scenario started", "scenario", sc.Name, "dedup_window", h.coord.DedupWindow())

	if err := h.createStores(); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range sc.Steps {
		op, target := step.Op()
		err := h.execute(ctx, step)
		if derr := h.drain(ctx); derr != nil {
			return nil, fmt.Errorf("step %d (%s %s): %w", i, op, target, derr)
		}
		h.learnIDs()
		result.Trace = append(result.Trace, h.rec.flush(i, h.name)...)

		switch {
		case step.ExpectError != "" && err == nil:
			result.AddError(fmt.Sprintf("step %d (%s %s): expected error containing %q", i, op, target, step.ExpectError))
		case step.ExpectError != "" && !strings.Contains(err.Error(), step.ExpectError):
			result.AddError(fmt.Sprintf("step %d (%s %s): error %q does not contain %q", i, op, target, err, step.ExpectError))
		case step.ExpectError == "" && err != nil:
			result.AddError(fmt.Sprintf("step %d (%s %s): %v", i, op, target, err))
		}
		slog.Debug("scenario step done", "scenario", sc.Name, "step", i, "op", op, "target", target, "error", err)
	}

	for _, msg := range h.evaluate(ctx, result.Trace) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) createStores() error {
	reqs := testutil.NewSequence(strings.TrimSuffix(requestPrefix, "-"))
	transport := tracingTransport{next: h.server, rec: h.rec}
	for _, def := range h.scenario.Stores {
		opts := []store.Option{
			store.WithLoop(h.loop),
			store.WithTransport(transport),
			store.WithRequestIDs(reqs.Next),
		}
		if def.ServerOnly {
			opts = append(opts, store.ServerOnly())
		}
		if def.Standalone {
			opts = append(opts, store.Standalone())
		} else {
			opts = append(opts, store.WithCoordinator(registrar{rec: h.rec, coord: h.coord}))
		}
		s, err := store.New(def.Name, h.factory, opts...)
		if err != nil {
			return fmt.Errorf("create store %s: %w", def.Name, err)
		}
		if def.Standalone {
			h.rec.attach(s)
		}
		h.stores[def.Name] = s
	}
	return nil
}

func (h *Harness) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	return h.loop.Drain(ctx)
}

func (h *Harness) learnIDs() {
	for alias, r := range h.records {
		h.names[r.ID()] = alias
	}
}

func (h *Harness) name(id string) string {
	if alias, ok := h.names[id]; ok {
		return alias
	}
	return id
}

// lookup finds the record called alias in the named store; an empty
// store name means the store it was created in.
func (h *Harness) lookup(alias, storeName string) (*record.Record, error) {
	r := h.records[alias]
	if r == nil {
		return nil, fmt.Errorf("unknown record %q", alias)
	}
	if storeName == "" || storeName == h.homes[alias] {
		return r, nil
	}
	if r.Phantom() {
		return nil, fmt.Errorf("record %q was never saved", alias)
	}
	found := h.stores[storeName].GetByID(r.ID())
	if found == nil {
		return nil, fmt.Errorf("record %q not in store %s", alias, storeName)
	}
	return found, nil
}

func (h *Harness) storeFor(step Step, alias string) *store.Store {
	if step.Store != "" {
		return h.stores[step.Store]
	}
	return h.stores[h.homes[alias]]
}

func (h *Harness) execute(ctx context.Context, step Step) error {
	op, target := step.Op()
	props, err := toIRObject(step.Props)
	if err != nil {
		return fmt.Errorf("props: %w", err)
	}

	switch op {
	case "create":
		r, err := h.factory.CreateByMessageClass(step.Class, props, "")
		if err != nil {
			return err
		}
		h.records[step.As] = r
		h.homes[step.As] = target
		h.names[r.ID()] = step.As
		return h.stores[target].Add(r)
	case "save":
		_, err := h.stores[target].Save(ctx)
		return err
	case "load":
		opts := store.LoadOptions{Folders: step.Folders}
		if step.Restriction != nil {
			res, err := toRestriction(step.Restriction)
			if err != nil {
				return err
			}
			opts.Restriction = res
		}
		_, err := h.stores[target].Load(ctx, opts)
		return err
	case "reload":
		_, err := h.stores[target].Reload(ctx)
		return err
	case "destroy":
		h.stores[target].Destroy()
		return nil
	}

	r, err := h.lookup(target, step.Store)
	if err != nil {
		return err
	}
	switch op {
	case "set":
		return r.SetValues(props)
	case "add_child":
		sub := r.SubStore(step.SubStore)
		if sub == nil {
			return fmt.Errorf("record %q has no sub-store %q", target, step.SubStore)
		}
		child, err := h.factory.CreateChild(sub, props)
		if err != nil {
			return err
		}
		return sub.Add(child)
	case "open":
		_, err := h.storeFor(step, target).Open(ctx, r)
		return err
	case "remove":
		return h.storeFor(step, target).Remove(r)
	case "copy":
		r.CopyTo(step.Folder, "")
		return nil
	case "move":
		r.MoveTo(step.Folder, "")
		return nil
	}
	return fmt.Errorf("unknown operation %q", op)
}

// toIRObject converts YAML-decoded values.
func toIRObject(m map[string]any) (ir.IRObject, error) {
	obj := make(ir.IRObject, len(m))
	for k, v := range m {
		iv, err := ir.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		obj[k] = iv
	}
	return obj, nil
}

// toRestriction decodes a restriction written in its JSON shape.
func toRestriction(m map[string]any) (restriction.Restriction, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("restriction: %w", err)
	}
	r, err := restriction.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("restriction: %w", err)
	}
	return r, nil
}
