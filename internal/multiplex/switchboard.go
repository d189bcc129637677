package multiplex

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	connReceiveBufferSize = 1 << 15
	sendQueueLength       = 64
	// control frames waiting beyond this are ping replies we can afford to drop
	maxPendingControl = 1024
)

// sendRequest is a frame waiting for the writer, and where to report the outcome
type sendRequest struct {
	frame *Frame
	done  chan error
}

// switchboard owns the session's transport. It is the only reader of it, running deplex which decodes
// frames and hands them to the Session; and the only writer of it, running dispatch which serialises
// every outgoing frame. Data frames and anything whose order matters relative to data go through sendCh
// in FIFO order. Control frames raised by the reading side (window updates, ping replies, resets) go
// through a separate queue that never blocks, so that the read loop can't deadlock against a
// congested writer. The Valve rate limits and counts bytes in both directions.
type switchboard struct {
	session *Session
	conn    io.ReadWriteCloser
	valve   *Valve

	sendCh chan *sendRequest

	ctrlM  sync.Mutex
	ctrl   []*Frame
	ctrlCh chan struct{}
}

func makeSwitchboard(sesh *Session, conn io.ReadWriteCloser) *switchboard {
	return &switchboard{
		session: sesh,
		conn:    conn,
		valve:   sesh.Valve,
		sendCh:  make(chan *sendRequest, sendQueueLength),
		ctrlCh:  make(chan struct{}, 1),
	}
}

// queue puts f at the back of the send queue. It blocks while the queue is full.
func (sb *switchboard) queue(f *Frame) (*sendRequest, error) {
	if sb.session.IsClosed() {
		return nil, sb.session.closedErr()
	}
	req := &sendRequest{frame: f, done: make(chan error, 1)}
	select {
	case sb.sendCh <- req:
		return req, nil
	case <-sb.session.dieCh:
		return nil, sb.session.closedErr()
	}
}

// wait blocks until req has been written, or the session dies
func (sb *switchboard) wait(req *sendRequest) error {
	select {
	case err := <-req.done:
		return err
	default:
	}
	select {
	case err := <-req.done:
		return err
	case <-sb.session.dieCh:
		return sb.session.closedErr()
	}
}

func (sb *switchboard) send(f *Frame) error {
	req, err := sb.queue(f)
	if err != nil {
		return err
	}
	return sb.wait(req)
}

// sendWithin is send that gives up after d. Used for last words before tearing down.
func (sb *switchboard) sendWithin(f *Frame, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	req := &sendRequest{frame: f, done: make(chan error, 1)}
	select {
	case sb.sendCh <- req:
	case <-sb.session.dieCh:
		return sb.session.closedErr()
	case <-timer.C:
		return ErrTimeout
	}
	select {
	case err := <-req.done:
		return err
	case <-sb.session.dieCh:
		return sb.session.closedErr()
	case <-timer.C:
		return ErrTimeout
	}
}

// queueControl queues a control frame without blocking. It doesn't wait for the frame to be written.
func (sb *switchboard) queueControl(f *Frame) error {
	if sb.session.IsClosed() {
		return sb.session.closedErr()
	}
	sb.ctrlM.Lock()
	if len(sb.ctrl) >= maxPendingControl && f.Type == TypePing {
		sb.ctrlM.Unlock()
		log.Warnf("session %v: dropping ping reply due to full control queue", sb.session.id)
		return nil
	}
	sb.ctrl = append(sb.ctrl, f)
	sb.ctrlM.Unlock()
	select {
	case sb.ctrlCh <- struct{}{}:
	default:
	}
	return nil
}

func (sb *switchboard) takeControl() []*Frame {
	sb.ctrlM.Lock()
	defer sb.ctrlM.Unlock()
	frames := sb.ctrl
	sb.ctrl = nil
	return frames
}

// dispatch is the single writer of the transport
func (sb *switchboard) dispatch() {
	var buf []byte
	flushControl := func() error {
		for _, f := range sb.takeControl() {
			if err := sb.write(f, &buf); err != nil {
				return err
			}
		}
		return nil
	}
	for {
		select {
		case <-sb.ctrlCh:
			if err := flushControl(); err != nil {
				return
			}
		case req := <-sb.sendCh:
			// control frames raised meanwhile go first: they are small and may unblock the remote
			if err := flushControl(); err != nil {
				req.done <- err
				return
			}
			err := sb.write(req.frame, &buf)
			req.done <- err
			if err != nil {
				return
			}
		case <-sb.session.dieCh:
			return
		}
	}
}

func (sb *switchboard) write(f *Frame, buf *[]byte) error {
	*buf = f.AppendTo((*buf)[:0])
	sb.valve.txWait(len(*buf))
	n, err := sb.conn.Write(*buf)
	sb.valve.AddTx(int64(n))
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTransport, err)
		if !sb.session.IsClosed() {
			sb.session.SetTerminalMsg("failed to send to remote " + err.Error())
			sb.session.terminate(err)
		}
		return err
	}
	return nil
}

// deplex is the single reader of the transport. It reads one frame header at a time and lets the
// session handle it; the session reads the payload itself once it has checked the header.
func (sb *switchboard) deplex() {
	r := bufio.NewReaderSize(sb.conn, connReceiveBufferSize)
	header := make([]byte, frameHeaderLength)
	for {
		_, err := io.ReadFull(r, header)
		if err != nil {
			sb.session.readFailed(err)
			return
		}
		sb.valve.rxWait(frameHeaderLength)
		sb.valve.AddRx(frameHeaderLength)

		f := &Frame{}
		if err = decodeHeader(header, f); err == nil {
			err = sb.session.handleFrame(f, sb.payloadReader(r))
		}
		if err != nil {
			sb.session.fail(err)
			return
		}
	}
}

// payloadReader counts payload bytes against the valve as they are read
func (sb *switchboard) payloadReader(r io.Reader) io.Reader {
	return valveReader{r: r, valve: sb.valve}
}

type valveReader struct {
	r     io.Reader
	valve *Valve
}

func (vr valveReader) Read(p []byte) (int, error) {
	n, err := vr.r.Read(p)
	vr.valve.rxWait(n)
	vr.valve.AddRx(int64(n))
	return n, err
}

// readFullPayload reads exactly n payload bytes. Running out of bytes midway is a transport error.
func readFullPayload(r io.Reader, n uint32) ([]byte, error) {
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: reading payload: %v", ErrTransport, err)
	}
	return payload, nil
}
