package server

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cbeuw/tangle/internal/common"
	mux "github.com/cbeuw/tangle/internal/multiplex"
	log "github.com/sirupsen/logrus"
)

// Serve makes an acceptor session of every connection l accepts. It returns once l is closed.
func Serve(l net.Listener, sta *State) error {
	waitDur := [10]time.Duration{
		50 * time.Millisecond, 100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second,
		3 * time.Second, 5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second}

	fails := 0
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Errorf("%v, retrying", err)
			time.Sleep(waitDur[fails])
			if fails < 9 {
				fails++
			}
			continue
		}
		fails = 0
		go dispatchConnection(conn, sta)
	}
}

func dispatchConnection(conn net.Conn, sta *State) {
	remoteAddr := conn.RemoteAddr()
	ls, err := sta.addSession(conn)
	if err != nil {
		log.WithField("remoteAddr", remoteAddr).Warnf("failed to make session: %v", err)
		conn.Close()
		return
	}
	log.WithFields(log.Fields{
		"remoteAddr": remoteAddr,
		"sessionId":  ls.ID(),
		"transport":  sta.Transport,
	}).Info("New session")
	sta.metrics.sessionsTotal.Inc()

	for {
		stream, err := ls.AcceptStream()
		if err != nil {
			break
		}
		go sta.serveStream(stream)
	}

	usage := sta.sessionUsage(ls)
	log.WithFields(log.Fields{
		"remoteAddr": remoteAddr,
		"sessionId":  usage.ID,
		"rx":         usage.Rx,
		"tx":         usage.Tx,
	}).Infof("Session ended: %v", ls.Err())
	if sta.Usage != nil {
		if err := sta.Usage.Record(usage); err != nil {
			log.Errorf("failed to record usage of session %v: %v", usage.ID, err)
		}
	}
	sta.removeSession(ls, usage)
	sta.metrics.sessionDuration.Observe(float64(usage.End - usage.Start))
}

// serveStream proxies a stream to the upstream, or echoes it if there is none
func (sta *State) serveStream(stream *mux.Stream) {
	if sta.Upstream == "" {
		_, err := io.Copy(stream, stream)
		if err != nil {
			log.Tracef("echoing stream %v: %v", stream.ID(), err)
			stream.Reset()
			return
		}
		stream.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	upstreamConn, err := sta.UpstreamDialer.DialContext(ctx, "tcp", sta.Upstream)
	cancel()
	if err != nil {
		log.Errorf("Failed to connect to upstream %v: %v", sta.Upstream, err)
		stream.Reset()
		return
	}
	common.Pipe(stream, upstreamConn, sta.Timeout)
}
