package store

import (
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/restriction"
)

type recordSubject struct {
	r *record.Record
}

// RecordSubject lets a restriction be evaluated against a record and its
// sub-stores.
func RecordSubject(r *record.Record) restriction.Subject {
	return recordSubject{r: r}
}

func (s recordSubject) Get(field string) ir.IRValue { return s.r.Get(field) }

func (s recordSubject) Children(name string) []restriction.Subject {
	sub := s.r.SubStore(name)
	if sub == nil {
		return nil
	}
	out := make([]restriction.Subject, 0, sub.Len())
	for _, c := range sub.Items() {
		out = append(out, recordSubject{r: c})
	}
	return out
}
