package harness

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/wire"
)

// AssertionError is a failed assertion with enough context to debug it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", ev.Seq, ev.Key(), ev.Records)
		}
	}
	return buf.String()
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Key() == a.Event && containsAll(ev.Records, a.Records) {
			return nil
		}
	}
	expected := a.Event
	if len(a.Records) > 0 {
		expected = fmt.Sprintf("%s with records %v", a.Event, a.Records)
	}
	return &AssertionError{Type: AssertTraceContains, Expected: expected, Actual: "not found in trace", Trace: trace}
}

func assertTraceAbsent(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if ev.Key() == a.Event {
			return &AssertionError{
				Type:     AssertTraceAbsent,
				Expected: "no " + a.Event,
				Actual:   fmt.Sprintf("found at seq %d", ev.Seq),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceOrder checks that the first occurrences of the events come
// in the given order. Other events may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		key := ev.Key()
		if _, seen := positions[key]; !seen && slices.Contains(a.Events, key) {
			positions[key] = i + 1
		}
	}
	for _, key := range a.Events {
		if positions[key] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   "missing event: " + key,
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Key() == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertStoreCount(a Assertion) error {
	if n := h.stores[a.Store].Len(); n != a.Count {
		return &AssertionError{
			Type:     AssertStoreCount,
			Expected: fmt.Sprintf("%d records in %s", a.Count, a.Store),
			Actual:   fmt.Sprintf("%d records", n),
		}
	}
	return nil
}

func (h *Harness) assertRecordState(a Assertion) error {
	r, err := h.lookup(a.Record, a.Store)
	if a.Missing {
		if err == nil && !r.Destroyed() && h.stores[a.Store].Contains(r) {
			return &AssertionError{
				Type:     AssertRecordState,
				Expected: fmt.Sprintf("%s not in %s", a.Record, a.Store),
				Actual:   "present as " + r.ID(),
			}
		}
		return nil
	}
	if err != nil {
		return &AssertionError{Type: AssertRecordState, Expected: fmt.Sprintf("%s in %s", a.Record, a.Store), Actual: err.Error()}
	}
	if r.Destroyed() {
		return &AssertionError{Type: AssertRecordState, Expected: fmt.Sprintf("%s in %s", a.Record, a.Store), Actual: "record destroyed"}
	}

	if err := matchFields(AssertRecordState, a.Record, r.Data(), a.Expect); err != nil {
		return err
	}
	if a.Version != 0 && r.Version() != a.Version {
		return &AssertionError{
			Type:     AssertRecordState,
			Expected: fmt.Sprintf("%s version %d", a.Record, a.Version),
			Actual:   fmt.Sprintf("version %d", r.Version()),
		}
	}
	if a.Modified != nil {
		got := r.ModifiedFields()
		want := slices.Clone(a.Modified)
		sort.Strings(got)
		sort.Strings(want)
		if !slices.Equal(got, want) {
			return &AssertionError{
				Type:     AssertRecordState,
				Expected: fmt.Sprintf("%s modified fields %v", a.Record, want),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return matchChildren(a, func(name string) (int, bool) {
		sub := r.SubStore(name)
		if sub == nil {
			return 0, false
		}
		return sub.Len(), true
	})
}

func (h *Harness) assertServerState(ctx context.Context, a Assertion) error {
	r := h.records[a.Record]
	if r.Phantom() {
		if a.Missing {
			return nil
		}
		return &AssertionError{Type: AssertServerState, Expected: a.Record + " on the server", Actual: "record was never saved"}
	}
	resp, err := h.server.Execute(ctx, &wire.Request{
		ID:     "assert-" + a.Record,
		Store:  "harness",
		Action: wire.ActionOpen,
		Items:  []wire.Item{{ID: r.ID()}},
	})
	if err != nil {
		return fmt.Errorf("server_state %s: %w", a.Record, err)
	}
	if resp.Error != nil {
		if a.Missing && resp.Error.Code == wire.CodeNotFound {
			return nil
		}
		return &AssertionError{Type: AssertServerState, Expected: a.Record + " on the server", Actual: resp.Error.Error()}
	}
	if a.Missing {
		return &AssertionError{Type: AssertServerState, Expected: a.Record + " not on the server", Actual: "found " + r.ID()}
	}
	item := resp.Items[0]
	if err := matchFields(AssertServerState, a.Record, item.Props, a.Expect); err != nil {
		return err
	}
	if a.Version != 0 && item.Version != a.Version {
		return &AssertionError{
			Type:     AssertServerState,
			Expected: fmt.Sprintf("%s version %d", a.Record, a.Version),
			Actual:   fmt.Sprintf("version %d", item.Version),
		}
	}
	return matchChildren(a, func(name string) (int, bool) {
		children, ok := item.SubStores[name]
		return len(children), ok
	})
}

// matchFields checks expect against data, a subset match. Dates compare
// against integer epoch seconds.
func matchFields(typ, alias string, data ir.IRObject, expect map[string]any) error {
	for _, key := range sortedKeys(expect) {
		want, err := ir.FromGo(expect[key])
		if err != nil {
			return fmt.Errorf("%s %s: field %q: %w", typ, alias, key, err)
		}
		have := data.Get(key)
		if !valueMatches(have, want) {
			return &AssertionError{
				Type:     typ,
				Expected: fmt.Sprintf("%s.%s = %s", alias, key, render(want)),
				Actual:   fmt.Sprintf("%s.%s = %s", alias, key, render(have)),
			}
		}
	}
	return nil
}

func matchChildren(a Assertion, count func(string) (int, bool)) error {
	for _, name := range sortedKeys(a.Children) {
		n, ok := count(name)
		if !ok {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%s sub-store %s", a.Record, name), Actual: "no such sub-store"}
		}
		if n != a.Children[name] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s.%s has %d children", a.Record, name, a.Children[name]),
				Actual:   fmt.Sprintf("%d children", n),
			}
		}
	}
	return nil
}

func valueMatches(have, want ir.IRValue) bool {
	if t, ok := have.(ir.IRTime); ok {
		if n, ok := want.(ir.IRInt); ok {
			return t.Unix() == int64(n)
		}
	}
	if ir.IsNull(want) {
		return ir.IsNull(have)
	}
	return ir.Equal(have, want)
}

func render(v ir.IRValue) string {
	if v == nil {
		return "<absent>"
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}

// evaluate runs every assertion and returns the failures.
func (h *Harness) evaluate(ctx context.Context, trace []TraceEvent) []string {
	var failures []string
	for i, a := range h.scenario.Assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, a)
		case AssertTraceAbsent:
			err = assertTraceAbsent(trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, a)
		case AssertTraceCount:
			err = assertTraceCount(trace, a)
		case AssertRecordState:
			err = h.assertRecordState(a)
		case AssertServerState:
			err = h.assertServerState(ctx, a)
		case AssertStoreCount:
			err = h.assertStoreCount(a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}
