package multiplex

import (
	"bytes"
	"io"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cbeuw/connutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveEcho(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			_, _ = io.Copy(conn, conn)
			_ = conn.Close()
		}(conn)
	}
}

// makeSessionPair makes an initiator and an acceptor session talking over an in-memory transport
func makeSessionPair(t testing.TB, config SessionConfig) (*Session, *Session) {
	c, s := connutil.AsyncPipe()
	return makeSessionPairOver(t, c, s, config)
}

func makeSessionPairOver(t testing.TB, clientConn, serverConn io.ReadWriteCloser, config SessionConfig) (*Session, *Session) {
	clientConfig := config
	clientConfig.Role = RoleInitiator
	clientConfig.Valve = nil
	serverConfig := config
	serverConfig.Role = RoleAcceptor
	serverConfig.Valve = nil

	clientSession, err := MakeSession(1, clientConn, clientConfig)
	require.NoError(t, err)
	serverSession, err := MakeSession(1, serverConn, serverConfig)
	require.NoError(t, err)
	return clientSession, serverSession
}

func runEchoTest(t *testing.T, conns []net.Conn, msgLen int) {
	var wg sync.WaitGroup

	for _, conn := range conns {
		wg.Add(1)
		go func(conn net.Conn) {
			defer wg.Done()

			testData := make([]byte, msgLen)
			rand.Read(testData)

			// the echo comes back while we are still writing, so it must be read concurrently or
			// both ends run out of credit
			go func() {
				// we cannot call t.Fatalf in concurrent contexts
				n, err := conn.Write(testData)
				if n != msgLen {
					t.Errorf("written only %v, err %v", n, err)
				}
			}()

			recvBuf := make([]byte, msgLen)
			_, err := io.ReadFull(conn, recvBuf)
			if err != nil {
				t.Errorf("failed to read back: %v", err)
				return
			}

			if !bytes.Equal(testData, recvBuf) {
				t.Errorf("echoed data not correct")
				return
			}
		}(conn)
	}
	wg.Wait()
}

func TestMultiplex(t *testing.T) {
	const numStreams = 500
	const msgLen = 65536

	clientSession, serverSession := makeSessionPair(t, SessionConfig{AcceptQueueCapacity: numStreams})
	go serveEcho(serverSession)

	streams := make([]net.Conn, numStreams)
	for i := 0; i < numStreams; i++ {
		stream, err := clientSession.OpenStream()
		require.NoError(t, err, "failed to open stream")
		streams[i] = stream
	}

	//test echo
	runEchoTest(t, streams, msgLen)

	assert.Equal(t, numStreams, clientSession.NumStreams(), "client stream count is wrong")
	assert.Equal(t, numStreams, serverSession.NumStreams(), "server stream count is wrong")

	// close one stream
	closing := streams[0]
	err := closing.Close()
	assert.NoError(t, err, "couldn't close a stream")
	_, err = closing.Write([]byte{0})
	assert.ErrorIs(t, err, ErrWriteClosed)
	// the echo server closes its side once it sees ours closed
	_, err = closing.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)

	assert.Eventually(t, func() bool {
		return clientSession.NumStreams() == numStreams-1 && serverSession.NumStreams() == numStreams-1
	}, time.Second, 10*time.Millisecond, "closed stream not retired")
}

func TestMux_StreamClosing(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})
	go serveEcho(serverSession)

	// read after closing stream
	testData := make([]byte, 128)
	recvBuf := make([]byte, 128)
	toBeClosed, _ := clientSession.OpenStream()
	_, err := toBeClosed.Write(testData) // should be echoed back
	assert.NoError(t, err, "can't write to stream")

	_, err = io.ReadFull(toBeClosed, recvBuf[:1])
	assert.NoError(t, err, "can't read anything before stream closed")
	_ = toBeClosed.Close()
	_, err = io.ReadFull(toBeClosed, recvBuf[1:])
	assert.NoError(t, err, "can't read residual data on stream")
	assert.Equal(t, testData, recvBuf, "incorrect data read back")
}

func TestMux_SmallWindowLargeTransfer(t *testing.T) {
	// many times the window has to be granted back for this to finish
	const msgLen = 1 << 20
	clientSession, serverSession := makeSessionPair(t, SessionConfig{
		InitialWindowSize: 4096,
		SessionWindowSize: 8192,
		MaxFrameSize:      1000,
	})
	go serveEcho(serverSession)

	conns := make([]net.Conn, 4)
	for i := range conns {
		stream, err := clientSession.OpenStream()
		require.NoError(t, err)
		conns[i] = stream
	}
	runEchoTest(t, conns, msgLen)
}

func BenchmarkMultiplex_Echo(b *testing.B) {
	const msgLen = 16384
	clientSession, serverSession := makeSessionPair(b, SessionConfig{})
	go serveEcho(serverSession)

	stream, err := clientSession.OpenStream()
	if err != nil {
		b.Fatal(err)
	}
	testData := make([]byte, msgLen)
	rand.Read(testData)
	recvBuf := make([]byte, msgLen)
	b.SetBytes(msgLen)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stream.Write(testData)
		io.ReadFull(stream, recvBuf)
	}
}
