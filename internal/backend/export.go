package backend

import (
	"context"
	"fmt"

	"github.com/roach88/recsync/internal/ir"
)

// Snapshot is the full content of a server, ordered by insertion.
type Snapshot struct {
	Items []SnapshotItem `json:"items"`
}

// SnapshotItem is one stored item with its children.
type SnapshotItem struct {
	EntryID       string                   `json:"entryid"`
	ParentEntryID string                   `json:"parent_entryid,omitempty"`
	MessageClass  string                   `json:"message_class,omitempty"`
	ObjectType    int                      `json:"object_type,omitempty"`
	Version       int64                    `json:"version"`
	Digest        string                   `json:"digest"`
	Props         ir.IRObject              `json:"props"`
	SubStores     map[string][]ir.IRObject `json:"substores,omitempty"`
}

// Snapshot reads every item inside one transaction.
func (s *Server) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := readRows(ctx, tx, `SELECT `+itemColumns+` FROM items ORDER BY seq ASC, entryid COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	snap := &Snapshot{Items: make([]SnapshotItem, 0, len(rows))}
	for _, r := range rows {
		digest, err := ir.RecordDigest(r.Props)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", r.EntryID, err)
		}
		item := SnapshotItem{
			EntryID:       r.EntryID,
			ParentEntryID: r.ParentEntryID,
			MessageClass:  r.MessageClass,
			ObjectType:    r.ObjectType,
			Version:       r.Version,
			Digest:        digest,
			Props:         r.Props,
		}
		names, err := storedSubStores(ctx, tx, r.EntryID)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", r.EntryID, err)
		}
		for _, name := range names {
			children, err := childProps(ctx, tx, r.EntryID, name)
			if err != nil {
				return nil, fmt.Errorf("snapshot %s: %w", r.EntryID, err)
			}
			if item.SubStores == nil {
				item.SubStores = make(map[string][]ir.IRObject, len(names))
			}
			item.SubStores[name] = children
		}
		snap.Items = append(snap.Items, item)
	}
	return snap, nil
}

// Count returns the number of stored items.
func (s *Server) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return n, nil
}
