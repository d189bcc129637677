package multiplex

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// blackhole is a transport that swallows everything written to it and never has anything to read
// until it is closed
type blackhole struct {
	written   int64
	closer    chan struct{}
	closeOnce sync.Once
}

func newBlackHole() *blackhole {
	return &blackhole{
		closer: make(chan struct{}),
	}
}
func (b *blackhole) Read([]byte) (int, error) {
	<-b.closer
	return 0, io.EOF
}
func (b *blackhole) Write(in []byte) (int, error) {
	select {
	case <-b.closer:
		return 0, io.ErrClosedPipe
	default:
	}
	atomic.AddInt64(&b.written, int64(len(in)))
	return len(in), nil
}
func (b *blackhole) Close() error {
	b.closeOnce.Do(func() { close(b.closer) })
	return nil
}
func (b *blackhole) Written() int64 { return atomic.LoadInt64(&b.written) }
func (b *blackhole) LocalAddr() net.Addr {
	ret, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	return ret
}
func (b *blackhole) RemoteAddr() net.Addr {
	ret, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	return ret
}
func (b *blackhole) SetDeadline(t time.Time) error      { return nil }
func (b *blackhole) SetReadDeadline(t time.Time) error  { return nil }
func (b *blackhole) SetWriteDeadline(t time.Time) error { return nil }
