package client

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/cbeuw/tangle/internal/common"
	mux "github.com/cbeuw/tangle/internal/multiplex"
	log "github.com/sirupsen/logrus"
)

// sessionKeeper hands out the current session and replaces it once it has closed or the remote has
// said it will take no more streams
type sessionKeeper struct {
	mu      sync.Mutex
	sesh    *mux.Session
	newSesh func() (*mux.Session, error)
}

func (k *sessionKeeper) get() (*mux.Session, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.sesh == nil || k.sesh.IsClosed() || k.sesh.IsGoingAway() {
		if k.sesh != nil {
			k.retire(k.sesh)
		}
		sesh, err := k.newSesh()
		if err != nil {
			return nil, err
		}
		k.sesh = sesh
	}
	return k.sesh, nil
}

// retire lets the streams of an outgoing session finish in the background. Must be called with mu held.
func (k *sessionKeeper) retire(sesh *mux.Session) {
	if sesh.IsClosed() {
		log.Infof("Session %v ended: %v", sesh.ID(), sesh.Err())
		return
	}
	log.Infof("Session %v is going away, draining it", sesh.ID())
	go func() {
		if err := sesh.Close(); err != nil {
			log.Debugf("closing session %v: %v", sesh.ID(), err)
		}
	}()
}

func (k *sessionKeeper) openStream() (*mux.Stream, error) {
	for retry := 0; ; retry++ {
		sesh, err := k.get()
		if err != nil {
			return nil, err
		}
		stream, err := sesh.OpenStream()
		// the session may have died or been told to go away between get and OpenStream
		if (errors.Is(err, mux.ErrSessionClosed) || errors.Is(err, mux.ErrGoingAway)) && retry == 0 {
			continue
		}
		return stream, err
	}
}

func (k *sessionKeeper) close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.sesh != nil && !k.sesh.IsClosed() {
		if err := k.sesh.Close(); err != nil {
			log.Debugf("closing session %v: %v", k.sesh.ID(), err)
		}
	}
}

// RouteTCP turns every connection accepted by listener into a stream of a shared session. It
// returns when listener fails, closing the session it was using.
func RouteTCP(listener net.Listener, streamTimeout time.Duration, newSeshFunc func() (*mux.Session, error)) error {
	keeper := &sessionKeeper{newSesh: newSeshFunc}
	defer keeper.close()
	for {
		localConn, err := listener.Accept()
		if err != nil {
			return err
		}
		go func() {
			stream, err := keeper.openStream()
			if err != nil {
				log.Errorf("Failed to open stream: %v", err)
				localConn.Close()
				return
			}
			log.Tracef("%v routed to stream %v", localConn.RemoteAddr(), stream.ID())
			// if either side has been idle for streamTimeout, the stream closes
			sent, received := common.Pipe(localConn, stream, streamTimeout)
			log.Tracef("stream %v finished, %v bytes sent, %v bytes received", stream.ID(), sent, received)
		}()
	}
}
