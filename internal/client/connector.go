package client

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/cbeuw/tangle/internal/common"
	mux "github.com/cbeuw/tangle/internal/multiplex"
	"github.com/cbeuw/tangle/internal/resolve"
	log "github.com/sirupsen/logrus"
)

// Connector makes sessions to the remote, retrying the transport with backoff
type Connector struct {
	Remote     RemoteConnConfig
	WorldState common.WorldState

	nextSessionID uint32
}

func NewConnector(remote RemoteConnConfig) *Connector {
	return &Connector{Remote: remote, WorldState: common.RealWorldState}
}

// MakeSession blocks until a session is established or ctx is done
func (c *Connector) MakeSession(ctx context.Context) (*mux.Session, error) {
	log.Info("Attempting to start a new session")
	for attempt := 0; ; attempt++ {
		conn, err := c.dial(ctx)
		if err == nil {
			id := atomic.AddUint32(&c.nextSessionID, 1)
			sesh, err := mux.MakeSession(id, conn, c.Remote.Session)
			if err != nil {
				conn.Close()
				return nil, err
			}
			log.Infof("Session %v established over %v", id, c.Remote.Transport)
			return sesh, nil
		}

		delay := NextBackoffDelay(c.Remote.Backoff, attempt, c.WorldState)
		log.Errorf("Failed to establish new connection to remote: %v. Retrying in %v", err, delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// dial connects to RemoteAddr, or to whichever instance of the discovery service answers first
func (c *Connector) dial(ctx context.Context) (net.Conn, error) {
	addr := c.Remote.RemoteAddr
	if d := c.Remote.Discover; addr == "" && d != nil {
		// give up after a few unanswered queries so the attempt is retried with backoff
		discoverCtx, cancel := context.WithTimeout(ctx, 3*d.Interval)
		defer cancel()
		var err error
		addr, err = resolve.DiscoverAddr(discoverCtx, d.Service, d.Interval, d.Group)
		if err != nil {
			return nil, err
		}
	}
	return c.Remote.Transport.Dial(ctx, addr)
}
