// Package transport provides the byte streams sessions run over
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cbeuw/tangle/internal/common"
)

const (
	KindDirect    = "direct"
	KindTLS       = "tls"
	KindWebSocket = "websocket"
)

const handshakeTimeout = 10 * time.Second

var ErrUnknownTransport = errors.New("unknown transport")

// Transport dials and listens for connections a session can run over
type Transport interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
	Listen(addr string) (net.Listener, error)
	String() string
}

// Resolver is satisfied by *net.Resolver and *resolve.Resolver
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

type Config struct {
	Kind string
	// PSK, if set, seals every connection of the transport
	PSK []byte

	ServerName         string
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string

	WebSocketPath string

	Dialer   common.Dialer
	Resolver Resolver
}

func New(config Config) (Transport, error) {
	direct := &Direct{Dialer: config.Dialer, Resolver: config.Resolver}
	var t Transport
	switch config.Kind {
	case KindDirect, "":
		t = direct
	case KindTLS:
		tlsTransport, err := NewTLS(direct, config.ServerName, config.InsecureSkipVerify, config.CertFile, config.KeyFile)
		if err != nil {
			return nil, err
		}
		t = tlsTransport
	case KindWebSocket:
		t = &WebSocket{Direct: direct, Path: config.WebSocketPath}
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownTransport, config.Kind)
	}
	if len(config.PSK) != 0 {
		t = &Sealed{Inner: t, PSK: config.PSK}
	}
	return t, nil
}

// handshakeDeadline bounds a handshake by ctx's deadline, or by handshakeTimeout if ctx has none
func handshakeDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(handshakeTimeout)
}
