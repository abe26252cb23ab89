package harness

import (
	"fmt"

	"github.com/roach88/recsync/internal/ir"
)

// Trace event kinds.
const (
	KindRequest    = "request"
	KindWrite      = "write"
	KindException  = "exception"
	KindLoad       = "load"
	KindOpen       = "open"
	KindPropagated = "propagated"
	KindInvalid    = "invalid"
	KindRemove     = "remove"
)

// TraceEvent is one observed store event.
type TraceEvent struct {
	Seq  int64  `json:"seq"`
	Step int    `json:"step"`
	Kind string `json:"kind"`
	// Store is the store the event happened in. For propagated events
	// it is the receiving store and From the one that wrote.
	Store   string   `json:"store"`
	From    string   `json:"from,omitempty"`
	Action  string   `json:"action,omitempty"`
	Records []string `json:"records,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Key names the event for trace assertions: "store.kind" or
// "store.kind.action".
func (e TraceEvent) Key() string {
	if e.Action == "" {
		return e.Store + "." + e.Kind
	}
	return fmt.Sprintf("%s.%s.%s", e.Store, e.Kind, e.Action)
}

// IR returns the event as a canonical-JSON-ready value.
func (e TraceEvent) IR() ir.IRObject {
	obj := ir.IRObject{
		"seq":   ir.IRInt(e.Seq),
		"step":  ir.IRInt(int64(e.Step)),
		"kind":  ir.IRString(e.Kind),
		"store": ir.IRString(e.Store),
	}
	if e.From != "" {
		obj["from"] = ir.IRString(e.From)
	}
	if e.Action != "" {
		obj["action"] = ir.IRString(e.Action)
	}
	if len(e.Records) > 0 {
		recs := make(ir.IRArray, len(e.Records))
		for i, id := range e.Records {
			recs[i] = ir.IRString(id)
		}
		obj["records"] = recs
	}
	if e.Error != "" {
		obj["error"] = ir.IRString(e.Error)
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
