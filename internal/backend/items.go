package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/recsync/internal/ir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// row is one stored item.
type row struct {
	EntryID       string
	ParentEntryID string
	MessageClass  string
	ObjectType    int
	Version       int64
	Props         ir.IRObject
	Seq           int64
}

const itemColumns = `entryid, parent_entryid, message_class, object_type, version, props, seq`

func scanRow(sc scanner) (row, error) {
	var (
		r     row
		props string
	)
	if err := sc.Scan(&r.EntryID, &r.ParentEntryID, &r.MessageClass, &r.ObjectType, &r.Version, &props, &r.Seq); err != nil {
		return row{}, err
	}
	obj, err := unmarshalProps(props)
	if err != nil {
		return row{}, fmt.Errorf("item %s: %w", r.EntryID, err)
	}
	r.Props = obj
	return r, nil
}

func unmarshalProps(data string) (ir.IRObject, error) {
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("decode props: %w", err)
	}
	obj, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("decode props: expected object, got %T", v)
	}
	return obj, nil
}

func marshalProps(props ir.IRObject) (string, error) {
	if props == nil {
		props = ir.IRObject{}
	}
	b, err := ir.MarshalCanonical(props)
	if err != nil {
		return "", fmt.Errorf("encode props: %w", err)
	}
	return string(b), nil
}

func readItem(ctx context.Context, q querier, id string) (row, error) {
	r, err := scanRow(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE entryid = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return row{}, notFound(id)
	}
	if err != nil {
		return row{}, fmt.Errorf("read item: %w", err)
	}
	return r, nil
}

func nextSeq(ctx context.Context, q querier) (int64, error) {
	var seq int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM items`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return seq, nil
}

func insertItem(ctx context.Context, q querier, r row) error {
	props, err := marshalProps(r.Props)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		r.EntryID,
		r.ParentEntryID,
		r.MessageClass,
		r.ObjectType,
		r.Version,
		props,
		r.Seq,
	)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func updateItem(ctx context.Context, q querier, r row) error {
	props, err := marshalProps(r.Props)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE items
		SET parent_entryid = ?, message_class = ?, object_type = ?, version = ?, props = ?
		WHERE entryid = ?
	`,
		r.ParentEntryID,
		r.MessageClass,
		r.ObjectType,
		r.Version,
		props,
		r.EntryID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// deleteItem removes an item and, through the foreign key, its children.
func deleteItem(ctx context.Context, q querier, id string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM items WHERE entryid = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete item: rows affected: %w", err)
	}
	return n > 0, nil
}

// child is one stored sub-store row.
type child struct {
	Key      string
	Position int
	Props    ir.IRObject
}

func readChildren(ctx context.Context, q querier, parent, substore string) ([]child, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT child_key, position, props
		FROM children
		WHERE parent = ? AND substore = ?
		ORDER BY position ASC, child_key COLLATE BINARY ASC
	`, parent, substore)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	var out []child
	for rows.Next() {
		var (
			c     child
			props string
		)
		if err := rows.Scan(&c.Key, &c.Position, &props); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		if c.Props, err = unmarshalProps(props); err != nil {
			return nil, fmt.Errorf("child %s of %s: %w", c.Key, parent, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return out, nil
}

// childProps returns the children of one sub-store as plain data. The
// result is never nil so an empty collection survives encoding.
func childProps(ctx context.Context, q querier, parent, substore string) ([]ir.IRObject, error) {
	cs, err := readChildren(ctx, q, parent, substore)
	if err != nil {
		return nil, err
	}
	out := make([]ir.IRObject, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Props)
	}
	return out, nil
}

// storedSubStores lists the sub-store names an item has children in.
func storedSubStores(ctx context.Context, q querier, parent string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT substore FROM children
		WHERE parent = ?
		ORDER BY substore COLLATE BINARY ASC
	`, parent)
	if err != nil {
		return nil, fmt.Errorf("query sub-stores: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan sub-store: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-stores: %w", err)
	}
	return out, nil
}

func putChild(ctx context.Context, q querier, parent, substore string, c child) error {
	props, err := marshalProps(c.Props)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO children (parent, substore, child_key, position, props)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(parent, substore, child_key) DO UPDATE SET props = excluded.props
	`, parent, substore, c.Key, c.Position, props)
	if err != nil {
		return fmt.Errorf("put child: %w", err)
	}
	return nil
}

func deleteChild(ctx context.Context, q querier, parent, substore, key string) error {
	if _, err := q.ExecContext(ctx, `
		DELETE FROM children WHERE parent = ? AND substore = ? AND child_key = ?
	`, parent, substore, key); err != nil {
		return fmt.Errorf("delete child: %w", err)
	}
	return nil
}

// copyChildren duplicates every child of from under to.
func copyChildren(ctx context.Context, q querier, from, to string) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO children (parent, substore, child_key, position, props)
		SELECT ?, substore, child_key, position, props FROM children WHERE parent = ?
	`, to, from); err != nil {
		return fmt.Errorf("copy children: %w", err)
	}
	return nil
}
