package multiplex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// how long we try to tell the remote about a protocol error before tearing the transport down
const goAwayGracePeriod = 100 * time.Millisecond

var errRepeatSessionClosing = errors.New("trying to close a closed session")
var errRemoteProtocolError = errors.New("remote reported a protocol error")
var errRemoteInternalError = errors.New("remote reported an internal error")

// A Session multiplexes many Streams over one reliable, ordered transport. It implements net.Listener
// so that inbound streams can be served like inbound connections.
type Session struct {
	id uint32

	SessionConfig

	conn io.ReadWriteCloser
	// switchboard does all the reading and writing of conn
	sb *switchboard

	// openM makes sure SYNs hit the wire in the order their ids were allocated
	openM sync.Mutex

	streamsM sync.Mutex
	streams  map[uint32]*Stream
	// the next id we will assign to a stream we open. Ids above it of our parity have never been used
	nextStreamID uint64
	// the highest id the remote has opened. Ids below it of the remote's parity that aren't in streams are retired
	lastRemoteID uint32
	localGoAway  bool
	remoteGoAway bool
	// closed once we are going away and have no streams left
	drainedCh   chan struct{}
	drainedOnce sync.Once

	// For accepting new streams
	acceptCh chan *Stream

	// flowM guards the send windows of the session and of all its streams
	flowM      sync.Mutex
	sendWindow window

	recvWindowM sync.Mutex
	recvWindow  recvWindow

	pingM  sync.Mutex
	pingID uint32
	pings  map[uint32]chan struct{}

	dieCh     chan struct{}
	closeOnce sync.Once
	closed    uint32
	closeErr  error

	terminalMsgSetter sync.Once
	terminalMsg       string
}

// SessionStats is a snapshot of a session's state
type SessionStats struct {
	ID          uint32
	Role        string
	Streams     int
	Rx          int64
	Tx          int64
	Closed      bool
	TerminalMsg string
}

// MakeSession makes a session over conn and starts serving it. The session takes ownership of conn and
// closes it when the session dies.
func MakeSession(id uint32, conn io.ReadWriteCloser, config SessionConfig) (*Session, error) {
	if conn == nil {
		return nil, errors.New("nil transport")
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	sesh := &Session{
		id:            id,
		SessionConfig: config,
		conn:          conn,
		streams:       map[uint32]*Stream{},
		drainedCh:     make(chan struct{}),
		acceptCh:      make(chan *Stream, config.AcceptQueueCapacity),
		sendWindow:    makeWindow(config.SessionWindowSize, config.MaxWindowSize),
		recvWindow:    makeRecvWindow(config.SessionWindowSize, config.MaxWindowSize),
		pings:         map[uint32]chan struct{}{},
		dieCh:         make(chan struct{}),
	}
	if config.Role == RoleInitiator {
		sesh.nextStreamID = 1
	} else {
		sesh.nextStreamID = 2
	}

	sesh.sb = makeSwitchboard(sesh, conn)
	go sesh.sb.deplex()
	go sesh.sb.dispatch()
	if sesh.KeepAliveInterval > 0 {
		go sesh.keepalive()
	}
	log.Debugf("session %v made as %v", id, config.Role)
	return sesh, nil
}

func (sesh *Session) ID() uint32 { return sesh.id }

// OpenStream is similar to net.Dial. It opens up a new stream and returns once the remote has been
// told about it.
func (sesh *Session) OpenStream() (*Stream, error) {
	if sesh.IsClosed() {
		return nil, sesh.closedErr()
	}

	sesh.openM.Lock()
	sesh.streamsM.Lock()
	if sesh.IsClosed() {
		sesh.streamsM.Unlock()
		sesh.openM.Unlock()
		return nil, sesh.closedErr()
	}
	if sesh.localGoAway || sesh.remoteGoAway {
		sesh.streamsM.Unlock()
		sesh.openM.Unlock()
		return nil, ErrGoingAway
	}
	if sesh.nextStreamID > math.MaxUint32 {
		sesh.streamsM.Unlock()
		sesh.openM.Unlock()
		return nil, ErrStreamsExhausted
	}
	id := uint32(sesh.nextStreamID)
	sesh.nextStreamID += 2
	stream := makeStream(sesh, id, StreamIdle)
	sesh.streams[id] = stream
	sesh.streamsM.Unlock()

	req, err := sesh.sb.queue(newControlFrame(TypeWindowUpdate, FlagSYN, id, 0))
	sesh.openM.Unlock()
	if err == nil {
		err = sesh.sb.wait(req)
	}
	if err != nil {
		stream.reset(resetError(err))
		return nil, err
	}
	stream.established()
	log.Tracef("stream %v of session %v opened", id, sesh.id)
	return stream, nil
}

// AcceptStream blocks until the remote opens a stream
func (sesh *Session) AcceptStream() (*Stream, error) {
	return sesh.AcceptStreamContext(context.Background())
}

// AcceptStreamContext is AcceptStream that gives up when ctx is done
func (sesh *Session) AcceptStreamContext(ctx context.Context) (*Stream, error) {
	if sesh.IsClosed() {
		return nil, sesh.closedErr()
	}
	select {
	case stream := <-sesh.acceptCh:
		// the queue has room again, so session credit we held back can go out
		sesh.sessionDrained(0)
		log.Tracef("stream %v of session %v accepted", stream.id, sesh.id)
		return stream, nil
	case <-sesh.dieCh:
		return nil, sesh.closedErr()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept is similar to net.Listener's Accept(). It blocks and returns an incoming stream
func (sesh *Session) Accept() (net.Conn, error) {
	stream, err := sesh.AcceptStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// handleFrame acts on a frame whose header has been read. If the frame carries a payload, handleFrame
// reads it from r. A returned error is fatal to the session.
func (sesh *Session) handleFrame(f *Frame, r io.Reader) error {
	if f.hasFlag(FlagSYN) && f.hasFlag(FlagFIN|FlagRST) {
		return protocolErrorf("stream %v: SYN combined with FIN or RST", f.StreamID)
	}
	switch f.Type {
	case TypeData:
		return sesh.handleData(f, r)
	case TypeWindowUpdate:
		return sesh.handleWindowUpdate(f)
	case TypePing:
		return sesh.handlePing(f)
	case TypeGoAway:
		return sesh.handleGoAway(f)
	}
	return protocolErrorf("unknown frame type %v", uint8(f.Type))
}

func (sesh *Session) handleData(f *Frame, r io.Reader) error {
	if f.StreamID == sessionStreamID {
		return protocolErrorf("data frame on stream 0")
	}
	if f.Length > sesh.MaxWindowSize {
		return protocolErrorf("data frame of %v bytes is larger than any window", f.Length)
	}

	stream, err := sesh.streamOf(f)
	if err != nil {
		return err
	}

	if f.Length > 0 {
		sesh.recvWindowM.Lock()
		err = sesh.recvWindow.consume(f.Length)
		sesh.recvWindowM.Unlock()
		if err != nil {
			return protocolErrorf("data frame of %v bytes exceeds session window", f.Length)
		}
		if stream != nil {
			switch stream.State() {
			case StreamRemoteClosed, StreamClosed:
				return protocolErrorf("stream %v: data after FIN", f.StreamID)
			}
			stream.recvWindowM.Lock()
			err = stream.recvWindow.consume(f.Length)
			stream.recvWindowM.Unlock()
			if err != nil {
				return protocolErrorf("stream %v: data frame of %v bytes exceeds stream window", f.StreamID, f.Length)
			}
		}

		payload, err := readFullPayload(r, f.Length)
		if err != nil {
			return err
		}
		if stream == nil {
			log.Tracef("session %v: discarding %v bytes for retired stream %v", sesh.id, f.Length, f.StreamID)
		} else {
			// an error means we reset the stream while the frame was in flight
			_, _ = stream.recvBuf.Write(payload)
		}
		// the stream window bounds what sits unread in the buffer, so session credit goes back as soon
		// as the payload has left the transport
		sesh.sessionDrained(len(payload))
	}

	if stream != nil {
		sesh.applyFlags(stream, f)
	}
	return nil
}

func (sesh *Session) handleWindowUpdate(f *Frame) error {
	if f.StreamID == sessionStreamID {
		if f.Flags != 0 {
			return protocolErrorf("flags %#x on session window update", f.Flags)
		}
		streams := sesh.snapshotStreams()
		sesh.flowM.Lock()
		sesh.sendWindow.grant(f.Length)
		for _, s := range streams {
			s.sendCond.Broadcast()
		}
		sesh.flowM.Unlock()
		return nil
	}

	stream, err := sesh.streamOf(f)
	if err != nil {
		return err
	}
	if stream == nil {
		return nil
	}
	if f.Length > 0 {
		sesh.flowM.Lock()
		stream.sendWindow.grant(f.Length)
		stream.sendCond.Broadcast()
		sesh.flowM.Unlock()
	}
	sesh.applyFlags(stream, f)
	return nil
}

func (sesh *Session) applyFlags(stream *Stream, f *Frame) {
	if f.hasFlag(FlagRST) {
		if stream.reset(ErrStreamReset) {
			log.Tracef("stream %v of session %v reset by remote", stream.id, sesh.id)
		}
		return
	}
	if f.hasFlag(FlagFIN) {
		stream.remoteClosed()
	}
}

func (sesh *Session) handlePing(f *Frame) error {
	if f.StreamID != sessionStreamID {
		return protocolErrorf("ping on stream %v", f.StreamID)
	}
	switch {
	case f.hasFlag(FlagSYN):
		return sesh.sb.queueControl(newControlFrame(TypePing, FlagACK, sessionStreamID, f.Length))
	case f.hasFlag(FlagACK):
		sesh.pingM.Lock()
		ch, ok := sesh.pings[f.Length]
		delete(sesh.pings, f.Length)
		sesh.pingM.Unlock()
		if ok {
			close(ch)
		}
	}
	return nil
}

func (sesh *Session) handleGoAway(f *Frame) error {
	if f.StreamID != sessionStreamID {
		return protocolErrorf("go away on stream %v", f.StreamID)
	}
	switch f.Length {
	case GoAwayNormal:
		sesh.streamsM.Lock()
		sesh.remoteGoAway = true
		sesh.streamsM.Unlock()
		log.Debugf("session %v: remote is going away", sesh.id)
		return nil
	case GoAwayProtocolError:
		sesh.SetTerminalMsg(errRemoteProtocolError.Error())
		return errRemoteProtocolError
	case GoAwayInternalError:
		sesh.SetTerminalMsg(errRemoteInternalError.Error())
		return errRemoteInternalError
	}
	return protocolErrorf("unknown go away code %v", f.Length)
}

// streamOf finds the stream a frame is addressed to, creating it if the frame opens a new inbound stream.
// A nil stream with a nil error means the id has been retired and the frame should be dropped.
func (sesh *Session) streamOf(f *Frame) (*Stream, error) {
	id := f.StreamID
	syn := f.hasFlag(FlagSYN)
	local := sesh.isLocalID(id)

	sesh.streamsM.Lock()
	if stream, ok := sesh.streams[id]; ok {
		sesh.streamsM.Unlock()
		if syn {
			return nil, protocolErrorf("duplicate SYN for stream %v", id)
		}
		return stream, nil
	}

	if local {
		used := uint64(id) < sesh.nextStreamID
		sesh.streamsM.Unlock()
		if syn {
			return nil, protocolErrorf("SYN for stream %v of the wrong parity", id)
		}
		if !used {
			return nil, protocolErrorf("frame for unknown stream %v", id)
		}
		return nil, nil
	}

	if !syn {
		used := id <= sesh.lastRemoteID
		sesh.streamsM.Unlock()
		if !used {
			return nil, protocolErrorf("frame for unknown stream %v", id)
		}
		return nil, nil
	}
	// remote ids must be opened in increasing order, so an id at or below the last one is either a reuse
	// or out of order
	if id <= sesh.lastRemoteID {
		last := sesh.lastRemoteID
		sesh.streamsM.Unlock()
		return nil, protocolErrorf("SYN for stream %v arrived after stream %v", id, last)
	}
	sesh.lastRemoteID = id

	if sesh.IsClosed() || sesh.localGoAway {
		sesh.streamsM.Unlock()
		log.Debugf("session %v: refusing stream %v as we are going away", sesh.id, id)
		return nil, sesh.refuse(id)
	}
	stream := makeStream(sesh, id, StreamOpen)
	select {
	case sesh.acceptCh <- stream:
		sesh.streams[id] = stream
		sesh.streamsM.Unlock()
		log.Tracef("session %v: new inbound stream %v", sesh.id, id)
		return stream, nil
	default:
		sesh.streamsM.Unlock()
		log.Warnf("session %v: refusing stream %v as the accept queue is full", sesh.id, id)
		return nil, sesh.refuse(id)
	}
}

// refuse resets a stream the remote just opened. The stream's id is retired, so anything else the
// remote sends on it is dropped.
func (sesh *Session) refuse(id uint32) error {
	err := sesh.sb.queueControl(newControlFrame(TypeWindowUpdate, FlagRST, id, 0))
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

func (sesh *Session) isLocalID(id uint32) bool {
	if sesh.Role == RoleInitiator {
		return id%2 == 1
	}
	return id%2 == 0
}

func (sesh *Session) snapshotStreams() []*Stream {
	sesh.streamsM.Lock()
	defer sesh.streamsM.Unlock()
	streams := make([]*Stream, 0, len(sesh.streams))
	for _, s := range sesh.streams {
		streams = append(streams, s)
	}
	return streams
}

// retireStream removes a stream that reached a terminal state from the table
func (sesh *Session) retireStream(s *Stream) {
	sesh.streamsM.Lock()
	if cur, ok := sesh.streams[s.id]; ok && cur == s {
		delete(sesh.streams, s.id)
		log.Tracef("stream %v of session %v retired", s.id, sesh.id)
	}
	sesh.checkDrained()
	sesh.streamsM.Unlock()
}

// checkDrained must be called with streamsM held
func (sesh *Session) checkDrained() {
	if sesh.localGoAway && len(sesh.streams) == 0 {
		sesh.drainedOnce.Do(func() { close(sesh.drainedCh) })
	}
}

// streamDrained is called after the application read n bytes of s. Only stream credit is returned here;
// session credit went back when the bytes were buffered.
func (sesh *Session) streamDrained(s *Stream, n int) {
	s.recvWindowM.Lock()
	delta := s.recvWindow.drain(uint32(n))
	s.recvWindowM.Unlock()
	if delta > 0 && s.receiving() {
		_ = sesh.sb.queueControl(newControlFrame(TypeWindowUpdate, 0, s.id, delta))
	}
}

// sessionDrained hands n bytes of session credit back once they have been taken off the transport.
// Credit is held back while the accept queue is full so that a remote opening streams faster than we
// accept them runs out of credit.
func (sesh *Session) sessionDrained(n int) {
	var delta uint32
	sesh.recvWindowM.Lock()
	sesh.recvWindow.unacked += uint32(n)
	if sesh.recvWindow.unacked >= sesh.recvWindow.threshold && len(sesh.acceptCh) < cap(sesh.acceptCh) {
		delta = sesh.recvWindow.flush()
	}
	sesh.recvWindowM.Unlock()
	if delta > 0 {
		_ = sesh.sb.queueControl(newControlFrame(TypeWindowUpdate, 0, sessionStreamID, delta))
	}
}

// acquireSendCredit blocks until s may send at least one byte, then takes up to want bytes of credit
// from both the stream and the session windows.
func (sesh *Session) acquireSendCredit(ctx context.Context, s *Stream, want uint32) (uint32, error) {
	stop := context.AfterFunc(ctx, func() { sesh.wakeWriters(s) })
	defer stop()

	var timer *time.Timer
	var armed time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	sesh.flowM.Lock()
	defer sesh.flowM.Unlock()
	for {
		if err := s.writeErr(); err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !s.wDeadline.IsZero() {
			d := time.Until(s.wDeadline)
			if d <= 0 {
				return 0, ErrTimeout
			}
			if !armed.Equal(s.wDeadline) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(d, func() { sesh.wakeWriters(s) })
				armed = s.wDeadline
			}
		}
		n := min(want, s.sendWindow.available(), sesh.sendWindow.available())
		if n > 0 {
			// neither can fail as n is no more than what either has available
			_ = s.sendWindow.consume(n)
			_ = sesh.sendWindow.consume(n)
			return n, nil
		}
		s.sendCond.Wait()
	}
}

// refundSendCredit returns credit taken for data that was never sent
func (sesh *Session) refundSendCredit(s *Stream, n uint32) {
	streams := sesh.snapshotStreams()
	sesh.flowM.Lock()
	s.sendWindow.grant(n)
	sesh.sendWindow.grant(n)
	for _, other := range streams {
		other.sendCond.Broadcast()
	}
	sesh.flowM.Unlock()
}

func (sesh *Session) wakeWriters(s *Stream) {
	sesh.flowM.Lock()
	s.sendCond.Broadcast()
	sesh.flowM.Unlock()
}

func (sesh *Session) setWriteDeadline(s *Stream, t time.Time) {
	sesh.flowM.Lock()
	s.wDeadline = t
	s.sendCond.Broadcast()
	sesh.flowM.Unlock()
}

// Ping sends a ping and waits for the reply, returning the round trip time
func (sesh *Session) Ping() (time.Duration, error) {
	ch := make(chan struct{})
	sesh.pingM.Lock()
	id := sesh.pingID
	for {
		if _, taken := sesh.pings[id]; !taken {
			break
		}
		id++
	}
	sesh.pingID = id + 1
	sesh.pings[id] = ch
	sesh.pingM.Unlock()

	forget := func() {
		sesh.pingM.Lock()
		delete(sesh.pings, id)
		sesh.pingM.Unlock()
	}

	start := time.Now()
	if err := sesh.sb.queueControl(newControlFrame(TypePing, FlagSYN, sessionStreamID, id)); err != nil {
		forget()
		return 0, err
	}
	timer := time.NewTimer(sesh.KeepAliveTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return time.Since(start), nil
	case <-timer.C:
		forget()
		return 0, ErrTimeout
	case <-sesh.dieCh:
		forget()
		return 0, sesh.closedErr()
	}
}

func (sesh *Session) keepalive() {
	ticker := time.NewTicker(sesh.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rtt, err := sesh.Ping()
			if err == nil {
				log.Tracef("session %v: keepalive rtt %v", sesh.id, rtt)
				continue
			}
			if errors.Is(err, ErrTimeout) {
				sesh.SetTerminalMsg(ErrKeepAliveTimeout.Error())
				sesh.terminate(ErrKeepAliveTimeout)
			}
			return
		case <-sesh.dieCh:
			return
		}
	}
}

// GoAway tells the remote that we will accept no more streams. Streams already open carry on.
func (sesh *Session) GoAway() error {
	sesh.streamsM.Lock()
	already := sesh.localGoAway
	sesh.localGoAway = true
	sesh.checkDrained()
	sesh.streamsM.Unlock()
	if already {
		return nil
	}
	log.Debugf("session %v going away", sesh.id)
	return sesh.sb.send(newControlFrame(TypeGoAway, 0, sessionStreamID, GoAwayNormal))
}

// IsGoingAway reports whether either side has said it will accept no more streams
func (sesh *Session) IsGoingAway() bool {
	sesh.streamsM.Lock()
	defer sesh.streamsM.Unlock()
	return sesh.localGoAway || sesh.remoteGoAway
}

// Close gracefully closes the session. It stops new streams, waits up to CloseDrainTimeout for the
// live ones to finish, then closes the transport. Streams still alive after that are reset and
// ErrDrainTimeout is returned.
func (sesh *Session) Close() error {
	if sesh.IsClosed() {
		log.Debugf("session %v has already been closed", sesh.id)
		return errRepeatSessionClosing
	}
	log.Debugf("attempting to actively close session %v", sesh.id)
	if err := sesh.GoAway(); err != nil {
		if sesh.IsClosed() {
			return nil
		}
		sesh.terminate(err)
		return err
	}

	timer := time.NewTimer(sesh.CloseDrainTimeout)
	defer timer.Stop()
	select {
	case <-sesh.drainedCh:
		sesh.SetTerminalMsg("closed gracefully")
		sesh.terminate(ErrSessionClosed)
		log.Debugf("session %v closed gracefully", sesh.id)
		return nil
	case <-timer.C:
		sesh.SetTerminalMsg(ErrDrainTimeout.Error())
		sesh.terminate(ErrDrainTimeout)
		return ErrDrainTimeout
	case <-sesh.dieCh:
		return nil
	}
}

// Abort closes the session immediately, resetting every stream
func (sesh *Session) Abort() {
	sesh.SetTerminalMsg("aborted")
	sesh.terminate(ErrSessionClosed)
}

// fail tears the session down because of err. Protocol violations by the remote are reported to it first.
func (sesh *Session) fail(err error) {
	if sesh.IsClosed() {
		return
	}
	if errors.Is(err, ErrProtocolViolation) {
		log.Warnf("session %v: %v", sesh.id, err)
		sesh.SetTerminalMsg(err.Error())
		if sendErr := sesh.sb.sendWithin(newControlFrame(TypeGoAway, 0, sessionStreamID, GoAwayProtocolError), goAwayGracePeriod); sendErr != nil {
			log.Debugf("session %v: failed to report protocol error: %v", sesh.id, sendErr)
		}
	} else {
		sesh.SetTerminalMsg(err.Error())
	}
	sesh.terminate(err)
}

// readFailed is called when the transport can no longer be read
func (sesh *Session) readFailed(err error) {
	if sesh.IsClosed() {
		return
	}
	if errors.Is(err, io.EOF) {
		sesh.SetTerminalMsg("remote closed the connection")
	} else {
		sesh.SetTerminalMsg("a connection has dropped unexpectedly")
	}
	sesh.terminate(fmt.Errorf("%w: %v", ErrTransport, err))
}

// terminate kills the session once. Every live stream is reset with cause, every blocked operation
// is woken and the transport is closed.
func (sesh *Session) terminate(cause error) {
	sesh.closeOnce.Do(func() {
		sesh.closeErr = cause
		atomic.StoreUint32(&sesh.closed, 1)
		close(sesh.dieCh)

		sesh.streamsM.Lock()
		streams := make([]*Stream, 0, len(sesh.streams))
		for _, s := range sesh.streams {
			streams = append(streams, s)
		}
		sesh.streams = map[uint32]*Stream{}
		sesh.streamsM.Unlock()

		streamErr := resetError(cause)
		for _, s := range streams {
			s.reset(streamErr)
		}
		_ = sesh.conn.Close()
		log.Debugf("session %v closed: %v", sesh.id, cause)
	})
}

func (sesh *Session) closedErr() error {
	cause := sesh.Err()
	if cause == nil || errors.Is(cause, ErrSessionClosed) {
		return ErrSessionClosed
	}
	return fmt.Errorf("%w: %w", ErrSessionClosed, cause)
}

func (sesh *Session) IsClosed() bool {
	return atomic.LoadUint32(&sesh.closed) == 1
}

// CloseChan is closed when the session dies
func (sesh *Session) CloseChan() <-chan struct{} { return sesh.dieCh }

// Err returns what killed the session, or nil if it is alive
func (sesh *Session) Err() error {
	if !sesh.IsClosed() {
		return nil
	}
	return sesh.closeErr
}

func (sesh *Session) SetTerminalMsg(msg string) {
	sesh.terminalMsgSetter.Do(func() {
		log.Debugf("session %v: terminal message set to %v", sesh.id, msg)
		sesh.terminalMsg = msg
	})
}

func (sesh *Session) TerminalMsg() string {
	if !sesh.IsClosed() {
		return ""
	}
	return sesh.terminalMsg
}

// NumStreams returns the number of live streams, including those waiting to be accepted
func (sesh *Session) NumStreams() int {
	sesh.streamsM.Lock()
	defer sesh.streamsM.Unlock()
	return len(sesh.streams)
}

func (sesh *Session) Stats() SessionStats {
	return SessionStats{
		ID:          sesh.id,
		Role:        sesh.Role.String(),
		Streams:     sesh.NumStreams(),
		Rx:          sesh.Valve.GetRx(),
		Tx:          sesh.Valve.GetTx(),
		Closed:      sesh.IsClosed(),
		TerminalMsg: sesh.TerminalMsg(),
	}
}

type muxAddr string

func (a muxAddr) Network() string { return "mux" }
func (a muxAddr) String() string  { return string(a) }

func (sesh *Session) LocalAddr() net.Addr {
	if c, ok := sesh.conn.(interface{ LocalAddr() net.Addr }); ok {
		return c.LocalAddr()
	}
	return muxAddr(fmt.Sprintf("session-%v-local", sesh.id))
}

func (sesh *Session) RemoteAddr() net.Addr {
	if c, ok := sesh.conn.(interface{ RemoteAddr() net.Addr }); ok {
		return c.RemoteAddr()
	}
	return muxAddr(fmt.Sprintf("session-%v-remote", sesh.id))
}

// Addr implements net.Listener
func (sesh *Session) Addr() net.Addr { return sesh.LocalAddr() }
