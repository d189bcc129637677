package multiplex

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var errRepeatStreamClosing = errors.New("trying to close a closed stream")

type StreamState int

const (
	// StreamIdle is a stream whose SYN hasn't been written yet
	StreamIdle StreamState = iota
	StreamOpen
	// StreamLocalClosed means we sent FIN but the remote may still send
	StreamLocalClosed
	// StreamRemoteClosed means the remote sent FIN but we may still send
	StreamRemoteClosed
	StreamClosed
	StreamReset
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamOpen:
		return "open"
	case StreamLocalClosed:
		return "local-closed"
	case StreamRemoteClosed:
		return "remote-closed"
	case StreamClosed:
		return "closed"
	case StreamReset:
		return "reset"
	default:
		return fmt.Sprintf("StreamState(%d)", int(s))
	}
}

func (s StreamState) terminal() bool { return s == StreamClosed || s == StreamReset }

// A Stream is one logical bidirectional channel of a Session. It implements net.Conn.
type Stream struct {
	id uint32

	session *Session

	stateM   sync.Mutex
	state    StreamState
	resetErr error

	// recvBuf holds data received from remote that hasn't been read. It never holds more than the
	// receive window allows.
	recvBuf *streamBufferedPipe

	recvWindowM sync.Mutex
	recvWindow  recvWindow

	// sendWindow, sendCond and wDeadline are guarded by session.flowM
	sendWindow window
	sendCond   *sync.Cond
	wDeadline  time.Time

	// writingM serialises whole Write calls so that concurrent writers don't interleave their chunks
	writingM sync.Mutex
	// sendM makes checking the state and queueing a frame atomic, so no Data frame can be queued behind
	// our own FIN
	sendM sync.Mutex
}

func makeStream(sesh *Session, id uint32, state StreamState) *Stream {
	stream := &Stream{
		id:         id,
		session:    sesh,
		state:      state,
		recvBuf:    NewStreamBufferedPipe(),
		recvWindow: makeRecvWindow(sesh.InitialWindowSize, sesh.MaxWindowSize),
		sendWindow: makeWindow(sesh.InitialWindowSize, sesh.MaxWindowSize),
	}
	stream.sendCond = sync.NewCond(&sesh.flowM)
	return stream
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) State() StreamState {
	s.stateM.Lock()
	defer s.stateM.Unlock()
	return s.state
}

// Read implements io.Reader. Data already received is returned even after the remote has closed
// its side; io.EOF follows once it is drained.
func (s *Stream) Read(buf []byte) (n int, err error) {
	return s.ReadContext(context.Background(), buf)
}

// ReadContext is Read that gives up when ctx is done, without consuming anything
func (s *Stream) ReadContext(ctx context.Context, buf []byte) (n int, err error) {
	n, err = s.recvBuf.ReadContext(ctx, buf)
	if n > 0 {
		s.session.streamDrained(s, n)
	}
	return n, err
}

// Write implements io.Writer. It blocks while the stream or session has no send credit left.
func (s *Stream) Write(in []byte) (n int, err error) {
	return s.WriteContext(context.Background(), in)
}

// WriteContext is Write that gives up when ctx is done. Bytes already handed to the session are
// reported in n.
func (s *Stream) WriteContext(ctx context.Context, in []byte) (n int, err error) {
	s.writingM.Lock()
	defer s.writingM.Unlock()

	if len(in) == 0 {
		return 0, s.writeErr()
	}
	sesh := s.session
	for n < len(in) {
		chunk := in[n:]
		if len(chunk) > sesh.MaxFrameSize {
			chunk = chunk[:sesh.MaxFrameSize]
		}
		credit, err := sesh.acquireSendCredit(ctx, s, uint32(len(chunk)))
		if err != nil {
			return n, err
		}
		err = s.sendData(chunk[:credit])
		if err != nil {
			return n, err
		}
		n += int(credit)
	}
	return n, nil
}

// sendData queues one Data frame whose credit has already been taken, and waits until it's written
func (s *Stream) sendData(payload []byte) error {
	sesh := s.session
	s.sendM.Lock()
	if err := s.writeErr(); err != nil {
		s.sendM.Unlock()
		sesh.refundSendCredit(s, uint32(len(payload)))
		return err
	}
	req, err := sesh.sb.queue(newDataFrame(s.id, 0, payload))
	s.sendM.Unlock()
	if err != nil {
		return err
	}
	return sesh.sb.wait(req)
}

// writeErr returns the error a write attempted now would fail with
func (s *Stream) writeErr() error {
	s.stateM.Lock()
	defer s.stateM.Unlock()
	switch s.state {
	case StreamLocalClosed, StreamClosed:
		return ErrWriteClosed
	case StreamReset:
		return s.resetErr
	}
	return nil
}

// receiving reports whether the remote may still send data on this stream
func (s *Stream) receiving() bool {
	s.stateM.Lock()
	defer s.stateM.Unlock()
	switch s.state {
	case StreamIdle, StreamOpen, StreamLocalClosed:
		return true
	}
	return false
}

// Close closes our sending direction by sending FIN. Data sent by the remote can still be read until it
// closes its side too.
func (s *Stream) Close() error {
	sesh := s.session
	s.sendM.Lock()
	s.stateM.Lock()
	var next StreamState
	switch s.state {
	case StreamIdle, StreamOpen:
		next = StreamLocalClosed
	case StreamRemoteClosed:
		next = StreamClosed
	case StreamReset:
		s.stateM.Unlock()
		s.sendM.Unlock()
		return nil
	default:
		s.stateM.Unlock()
		s.sendM.Unlock()
		return fmt.Errorf("closing stream %v: %w", s.id, errRepeatStreamClosing)
	}
	s.state = next
	s.stateM.Unlock()

	req, err := sesh.sb.queue(newDataFrame(s.id, FlagFIN, nil))
	s.sendM.Unlock()

	// writers waiting for credit must learn that they can't write any more
	sesh.wakeWriters(s)
	if next == StreamClosed {
		sesh.retireStream(s)
	}
	if err != nil {
		return err
	}
	log.Tracef("stream %v of session %v actively closed", s.id, sesh.id)
	return sesh.sb.wait(req)
}

// CloseWrite is the same as Close. It lets proxies half-close a stream the way they half-close a TCP conn.
func (s *Stream) CloseWrite() error { return s.Close() }

// Reset abruptly terminates the stream in both directions. Buffered data is discarded and pending
// operations on either end fail.
func (s *Stream) Reset() error {
	if !s.reset(ErrStreamReset) {
		return nil
	}
	log.Tracef("stream %v of session %v reset", s.id, s.session.id)
	return s.session.sb.queueControl(newControlFrame(TypeWindowUpdate, FlagRST, s.id, 0))
}

// reset moves the stream into StreamReset unless it is already terminal, and fails everything waiting
// on it. It reports whether a transition happened.
func (s *Stream) reset(err error) bool {
	s.stateM.Lock()
	if s.state.terminal() {
		s.stateM.Unlock()
		return false
	}
	s.state = StreamReset
	s.resetErr = err
	s.stateM.Unlock()

	sesh := s.session
	s.recvBuf.Reset(err)
	sesh.wakeWriters(s)
	sesh.retireStream(s)
	return true
}

// remoteClosed handles a FIN from the remote
func (s *Stream) remoteClosed() {
	s.stateM.Lock()
	var next StreamState
	switch s.state {
	case StreamIdle, StreamOpen:
		next = StreamRemoteClosed
	case StreamLocalClosed:
		next = StreamClosed
	default:
		s.stateM.Unlock()
		log.Debugf("stream %v of session %v: ignoring FIN in state %v", s.id, s.session.id, s.state)
		return
	}
	s.state = next
	s.stateM.Unlock()

	_ = s.recvBuf.Close() // recvBuf.Close should not return error
	if next == StreamClosed {
		s.session.retireStream(s)
	}
	log.Tracef("stream %v of session %v passively closed", s.id, s.session.id)
}

// established moves an outbound stream from StreamIdle to StreamOpen once its SYN is on the wire
func (s *Stream) established() {
	s.stateM.Lock()
	if s.state == StreamIdle {
		s.state = StreamOpen
	}
	s.stateM.Unlock()
}

func (s *Stream) LocalAddr() net.Addr  { return s.session.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.session.RemoteAddr() }

func (s *Stream) SetReadDeadline(t time.Time) error {
	s.recvBuf.SetReadDeadline(t)
	return nil
}

func (s *Stream) SetWriteDeadline(t time.Time) error {
	s.session.setWriteDeadline(s, t)
	return nil
}

func (s *Stream) SetDeadline(t time.Time) error {
	_ = s.SetReadDeadline(t)
	return s.SetWriteDeadline(t)
}
