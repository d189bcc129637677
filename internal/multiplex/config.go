package multiplex

import (
	"errors"
	"time"
)

const (
	defaultInitialWindowSize   = 256 << 10
	defaultMaxWindowSize       = 16 << 20
	defaultSessionWindowSize   = 1 << 20
	defaultAcceptQueueCapacity = 256
	defaultCloseDrainTimeout   = 5 * time.Second
	defaultMaxFrameSize        = 1 << 14
	defaultKeepAliveTimeout    = 10 * time.Second
)

type Role int

const (
	// RoleInitiator opens odd numbered streams
	RoleInitiator Role = iota
	// RoleAcceptor opens even numbered streams
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

// SessionConfig holds the options applied when a Session is made. Zero values are replaced by defaults.
type SessionConfig struct {
	Role Role

	// InitialWindowSize is the credit every stream starts with in each direction. Both ends of a session
	// must agree on it.
	InitialWindowSize uint32
	// MaxWindowSize is the ceiling any window can grow to
	MaxWindowSize uint32
	// SessionWindowSize is the credit shared by all streams of the session in each direction
	SessionWindowSize uint32

	// AcceptQueueCapacity bounds the number of inbound streams waiting for AcceptStream
	AcceptQueueCapacity int

	// CloseDrainTimeout is how long a graceful Close waits for live streams to finish
	CloseDrainTimeout time.Duration

	// MaxFrameSize is the largest payload put in a single Data frame. Larger writes are split so that
	// one stream cannot hold the transport for long.
	MaxFrameSize int

	// KeepAliveInterval enables a periodic ping when positive. A ping that isn't answered within
	// KeepAliveTimeout kills the session.
	KeepAliveInterval time.Duration
	KeepAliveTimeout  time.Duration

	// Valve is used to limit transmission rates, and record usage. A private unlimited valve is
	// made if nil.
	Valve *Valve
}

var errInvalidWindow = errors.New("InitialWindowSize must not be greater than MaxWindowSize")
var errInvalidFrameSize = errors.New("MaxFrameSize must be positive")

func (c *SessionConfig) applyDefaults() {
	if c.InitialWindowSize == 0 {
		c.InitialWindowSize = defaultInitialWindowSize
	}
	if c.MaxWindowSize == 0 {
		c.MaxWindowSize = defaultMaxWindowSize
		if c.InitialWindowSize > c.MaxWindowSize {
			c.MaxWindowSize = c.InitialWindowSize
		}
	}
	if c.SessionWindowSize == 0 {
		c.SessionWindowSize = defaultSessionWindowSize
	}
	if c.SessionWindowSize < c.InitialWindowSize {
		c.SessionWindowSize = c.InitialWindowSize
	}
	if c.SessionWindowSize > c.MaxWindowSize {
		c.SessionWindowSize = c.MaxWindowSize
	}
	if c.AcceptQueueCapacity <= 0 {
		c.AcceptQueueCapacity = defaultAcceptQueueCapacity
	}
	if c.CloseDrainTimeout <= 0 {
		c.CloseDrainTimeout = defaultCloseDrainTimeout
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = defaultMaxFrameSize
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if c.Valve == nil {
		c.Valve = MakeValve(unlimitedRate, unlimitedRate)
	}
}

func (c *SessionConfig) validate() error {
	if c.InitialWindowSize > c.MaxWindowSize {
		return errInvalidWindow
	}
	if c.MaxFrameSize <= 0 {
		return errInvalidFrameSize
	}
	return nil
}
