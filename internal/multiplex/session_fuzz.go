//go:build gofuzz
// +build gofuzz

package multiplex

import (
	"bytes"
	"io"
)

// fuzzConn yields data once then reports EOF
type fuzzConn struct {
	r       *bytes.Reader
	drained chan struct{}
}

func (c *fuzzConn) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF {
		select {
		case <-c.drained:
		default:
			close(c.drained)
		}
	}
	return n, err
}

func (c *fuzzConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *fuzzConn) Close() error                { return nil }

// Fuzz feeds data to a session as if it came from the remote. Whatever the input, the session must
// either handle it or die cleanly.
func Fuzz(data []byte) int {
	conn := &fuzzConn{r: bytes.NewReader(data), drained: make(chan struct{})}
	sesh, err := MakeSession(0, conn, SessionConfig{Role: RoleAcceptor})
	if err != nil {
		panic(err)
	}
	select {
	case <-conn.drained:
	case <-sesh.CloseChan():
	}
	sesh.Abort()
	if _, _, err := DecodeFrame(data); err != nil {
		return 0
	}
	return 1
}
