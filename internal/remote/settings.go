package remote

import (
	"errors"
	"time"
)

// ErrClosed is returned for requests on a closed client, including ones
// still waiting when the connection went away.
var ErrClosed = errors.New("remote: connection closed")

// Settings tunes a websocket connection.
type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval is how often the server pings an idle client. Zero
	// disables pings.
	PingInterval time.Duration
	// ReadTimeout bounds the wait for the next message or pong on the
	// server side. Zero means no limit.
	ReadTimeout time.Duration
	// MaxMessageSize limits incoming messages in bytes. Zero means no
	// limit.
	MaxMessageSize int64
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      90 * time.Second,
		MaxMessageSize:   16 << 20,
	}
}

// deadline returns now+d, or the zero time (no deadline) when d is zero.
func deadline(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d)
}
