package backend

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/recsync/internal/schema"
	"github.com/roach88/recsync/internal/wire"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - initial tables
// 1 - index on items.message_class
const currentSchemaVersion = 1

// Server executes wire requests against a SQLite database.
type Server struct {
	db     *sql.DB
	reg    *schema.Registry
	ids    func() string
	now    func() time.Time
	strict bool
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sets the definitions used to find child id fields and
// timestamp fields. Default: the built-in definitions.
func WithRegistry(reg *schema.Registry) Option {
	return func(s *Server) {
		s.reg = reg
	}
}

// WithIDs sets the entry id source. Default: NewEntryID.
func WithIDs(fn func() string) Option {
	return func(s *Server) {
		s.ids = fn
	}
}

// WithClock sets the time source for creation and modification stamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Server) {
		s.now = fn
	}
}

// WithStrictVersions rejects updates based on a version other than the
// stored one.
func WithStrictVersions() Option {
	return func(s *Server) {
		s.strict = true
	}
}

// NewEntryID returns a fresh entry id: 32 upper-case hex digits.
func NewEntryID() string {
	id := uuid.New()
	return strings.ToUpper(hex.EncodeToString(id[:]))
}

// Open creates or opens the database at path, applying pragmas and
// migrations. Opening an existing database is safe.
func Open(path string, opts ...Option) (*Server, error) {
	s := &Server{ids: NewEntryID, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.reg == nil {
		reg, err := schema.Builtin()
		if err != nil {
			return nil, fmt.Errorf("load built-in definitions: %w", err)
		}
		s.reg = reg
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// One connection: SQLite has a single writer and transactions must
	// not wait on a second connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	s.db = db
	slog.Info("backend opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Server) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Registry returns the definitions the server resolves against.
func (s *Server) Registry() *schema.Registry { return s.reg }

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_items_class ON items(message_class)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Execute implements store.Transport. Request failures are reported in
// the response's Error; the returned error is only set when ctx ended.
func (s *Server) Execute(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.execute(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("request failed", "request", req.ID, "store", req.Store, "action", req.Action, "error", err)
		return wire.Failure(req, err), nil
	}
	slog.Debug("request executed", "request", req.ID, "store", req.Store, "action", req.Action, "items", len(resp.Items))
	return resp, nil
}

func (s *Server) execute(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if !req.Action.Valid() {
		return nil, invalid("unknown action %q", req.Action)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	resp := &wire.Response{ID: req.ID, Store: req.Store, Action: req.Action}
	if req.Action == wire.ActionList {
		items, total, err := s.list(ctx, tx, req.List)
		if err != nil {
			return nil, err
		}
		resp.Items, resp.Total = items, total
	} else {
		for _, item := range req.Items {
			var (
				ri  wire.ResponseItem
				err error
			)
			switch req.Action {
			case wire.ActionOpen:
				ri, err = s.open(ctx, tx, item)
			case wire.ActionCreate:
				ri, err = s.create(ctx, tx, item)
			case wire.ActionUpdate:
				ri, err = s.update(ctx, tx, item)
			case wire.ActionDestroy:
				ri, err = s.destroy(ctx, tx, item)
			}
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", req.Action, item.ID, err)
			}
			resp.Items = append(resp.Items, ri)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return resp, nil
}

// definition resolves the record type of a stored or requested item.
func (s *Server) definition(class string, objectType int) (*schema.Definition, error) {
	var (
		def *schema.Definition
		err error
	)
	switch {
	case class != "":
		def, err = s.reg.ByMessageClass(class)
	case objectType != 0:
		def, err = s.reg.ByObjectType(objectType)
	default:
		return nil, invalid("item has neither message_class nor object_type")
	}
	if err != nil {
		return nil, invalid("%v", err)
	}
	return def, nil
}
