// This is base on https://github.com/golang/go/blob/0436b162397018c45068b47ca1b5924a3eafdee0/src/net/net_fake.go#L173

package multiplex

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// The point of a streamBufferedPipe is that Read() will block until data is available.
// Writes never block: the session only writes what the stream's receive window allows, which bounds
// the buffer.
type streamBufferedPipe struct {
	// only alloc when on first Read or Write
	buf *bytes.Buffer

	// closed is set once no more data will arrive; reads drain buf then return io.EOF
	closed bool
	// err is set on reset; reads fail with it straight away
	err       error
	rwCond    *sync.Cond
	rDeadline time.Time
}

func NewStreamBufferedPipe() *streamBufferedPipe {
	p := &streamBufferedPipe{
		rwCond: sync.NewCond(&sync.Mutex{}),
	}
	return p
}

func (p *streamBufferedPipe) Read(target []byte) (int, error) {
	return p.ReadContext(context.Background(), target)
}

// ReadContext is Read that gives up once ctx is done. Nothing is consumed from the buffer if it gives up.
func (p *streamBufferedPipe) ReadContext(ctx context.Context, target []byte) (int, error) {
	stop := context.AfterFunc(ctx, p.broadcast)
	defer stop()

	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()
	if p.buf == nil {
		p.buf = new(bytes.Buffer)
	}
	var timer *time.Timer
	var armed time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		if p.err != nil {
			return 0, p.err
		}
		if len(target) == 0 {
			return 0, nil
		}
		if p.buf.Len() > 0 {
			break
		}
		if p.closed {
			return 0, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if !p.rDeadline.IsZero() {
			d := time.Until(p.rDeadline)
			if d <= 0 {
				return 0, ErrTimeout
			}
			if !armed.Equal(p.rDeadline) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(d, p.broadcast)
				armed = p.rDeadline
			}
		}
		p.rwCond.Wait()
	}
	// err will always be nil because we have already verified that buf.Len() != 0
	n, _ := p.buf.Read(target)
	return n, nil
}

func (p *streamBufferedPipe) Write(input []byte) (int, error) {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()
	if p.buf == nil {
		p.buf = new(bytes.Buffer)
	}
	if p.err != nil {
		return 0, p.err
	}
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := p.buf.Write(input)
	// err will always be nil
	p.rwCond.Broadcast()
	return n, err
}

// Close marks the end of incoming data. Buffered data can still be read.
func (p *streamBufferedPipe) Close() error {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()

	p.closed = true
	p.rwCond.Broadcast()
	return nil
}

// Reset discards anything buffered and makes every read fail with err. It returns the number of bytes
// discarded.
func (p *streamBufferedPipe) Reset(err error) int {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()

	var discarded int
	if p.buf != nil {
		discarded = p.buf.Len()
		p.buf.Reset()
	}
	if p.err == nil {
		p.err = err
	}
	p.closed = true
	p.rwCond.Broadcast()
	return discarded
}

func (p *streamBufferedPipe) Len() int {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()
	if p.buf == nil {
		return 0
	}
	return p.buf.Len()
}

func (p *streamBufferedPipe) SetReadDeadline(t time.Time) {
	p.rwCond.L.Lock()
	defer p.rwCond.L.Unlock()

	p.rDeadline = t
	p.rwCond.Broadcast()
}

// broadcast wakes all waiters while holding the lock so that a wakeup can't slip in between a waiter's
// check and its Wait
func (p *streamBufferedPipe) broadcast() {
	p.rwCond.L.Lock()
	p.rwCond.Broadcast()
	p.rwCond.L.Unlock()
}
