// Package remote carries wire requests over a websocket.
//
// Client implements store.Transport: each Execute writes one JSON request
// as a text message and waits for the response with the same id, so any
// number of requests may be outstanding on one connection. Handler is
// the server side; it executes every request it reads against another
// transport, usually a backend.Server, and writes the responses back in
// completion order.
package remote
