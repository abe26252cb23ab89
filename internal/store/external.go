package store

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/recsync/internal/record"
	"github.com/roach88/recsync/internal/restriction"
	"github.com/roach88/recsync/internal/wire"
)

// DefaultCreateFilter accepts a record created elsewhere when its parent
// folder was part of the last Load and it satisfies that load's
// restriction.
func DefaultCreateFilter(s *Store, r *record.Record) bool {
	if !s.ContainsFolderInLastLoad(r.GetString("parent_entryid")) {
		return false
	}
	return restriction.Match(s.lastLoad.Restriction, RecordSubject(r))
}

// ApplyExternal applies a write another store confirmed for src. It
// reports whether s changed.
//
// Updates and opens are merged into the record with the same identity as
// server truth, with propagation off for that record. Fields with unsaved
// local edits keep them and stay modified. A version older
// than the one held is ignored. When the message class changed to one the
// held record does not derive from, the store reloads instead. Creates
// go through the create filter and deletes remove the match without a
// save.
func (s *Store) ApplyExternal(ctx context.Context, action wire.Action, src *record.Record) (bool, error) {
	if s.destroyed {
		return false, ErrDestroyed
	}
	key, ok := src.IdentityKey()
	if !ok {
		return false, nil
	}
	match := s.FindByIdentity(key)

	switch action {
	case wire.ActionCreate:
		if match != nil {
			return s.mergeExternal(ctx, match, src)
		}
		if !s.createFilter(s, src) {
			return false, nil
		}
		cp := s.factory.Copy(src, src.ID())
		if err := s.Add(cp); err != nil {
			return false, err
		}
		slog.Debug("external create inserted", "store", s.name, "record", cp.ID())
		return true, nil

	case wire.ActionUpdate, wire.ActionOpen:
		if match == nil {
			return false, nil
		}
		return s.mergeExternal(ctx, match, src)

	case wire.ActionDestroy:
		if match == nil {
			return false, nil
		}
		s.RemoveExternal(match)
		slog.Debug("external destroy applied", "store", s.name, "record", match.ID())
		return true, nil
	}
	return false, nil
}

func (s *Store) mergeExternal(ctx context.Context, dst, src *record.Record) (bool, error) {
	if v := src.Version(); v > 0 && v < dst.Version() {
		slog.Warn("stale external write skipped",
			"store", s.name,
			"record", dst.ID(),
			"version", v,
			"held", dst.Version())
		return false, nil
	}
	if classChanged(dst, src) && s.lastLoad != nil {
		slog.Info("message class changed, reloading", "store", s.name, "record", dst.ID(), "class", src.GetString("message_class"))
		if _, err := s.Reload(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	prev := dst.EventPropagation()
	dst.SetEventPropagation(false)
	defer dst.SetEventPropagation(prev)
	if err := record.ApplyData(dst, src, record.Authoritative(), record.PreserveModified()); err != nil {
		return false, err
	}
	dst.SetVersion(src.Version())
	return true, nil
}

// classChanged reports whether src carries a message class dst does not
// derive from.
func classChanged(dst, src *record.Record) bool {
	next := src.GetString("message_class")
	held := dst.GetString("message_class")
	if next == "" || held == "" {
		return false
	}
	return !strings.HasPrefix(strings.ToUpper(held), strings.ToUpper(next))
}
