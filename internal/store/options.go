package store

import (
	"github.com/roach88/recsync/internal/loop"
	"github.com/roach88/recsync/internal/record"
)

// Registrar manages cross-store propagation for registered stores.
type Registrar interface {
	Register(s *Store) error
	Unregister(s *Store) error
}

// CreateFilter decides whether a record created through another store
// belongs in s.
type CreateFilter func(s *Store, r *record.Record) bool

// Option configures a Store.
type Option func(*Store)

// WithTransport sets the server connection.
func WithTransport(t Transport) Option {
	return func(s *Store) {
		s.transport = t
	}
}

// WithLoop sets the loop responses are applied on. Default: a private
// loop, which the caller must then drive through Store.Loop.
func WithLoop(l *loop.Loop) Option {
	return func(s *Store) {
		s.loop = l
	}
}

// WithCoordinator registers the store with r on construction. The store
// must also get WithLoop, the same loop as every other store of r.
func WithCoordinator(r Registrar) Option {
	return func(s *Store) {
		s.registrar = r
	}
}

// Standalone keeps the store out of the coordinator.
func Standalone() Option {
	return func(s *Store) {
		s.standalone = true
	}
}

// ServerOnly makes the store a read model: local edits are never queued
// and Save fails.
func ServerOnly() Option {
	return func(s *Store) {
		s.serverOnly = true
	}
}

// WithCreateFilter replaces DefaultCreateFilter.
func WithCreateFilter(f CreateFilter) Option {
	return func(s *Store) {
		s.createFilter = f
	}
}

// WithRequestIDs sets the request id source. Default: wire.NewRequestID.
func WithRequestIDs(fn func() string) Option {
	return func(s *Store) {
		s.requestIDs = fn
	}
}
