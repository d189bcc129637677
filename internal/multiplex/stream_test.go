package multiplex

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cbeuw/connutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payloadLen = 1000

// openAccepted opens a stream on client and accepts it on server
func openAccepted(t *testing.T, client, server *Session) (*Stream, *Stream) {
	clientStream, err := client.OpenStream()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	serverStream, err := server.AcceptStreamContext(ctx)
	require.NoError(t, err)
	require.Equal(t, clientStream.ID(), serverStream.ID())
	return clientStream, serverStream
}

func BenchmarkStream_Write(b *testing.B) {
	hole := newBlackHole()
	const testDataLen = 65536
	testData := make([]byte, testDataLen)
	rand.Read(testData)

	sesh, err := MakeSession(0, hole, SessionConfig{})
	if err != nil {
		b.Fatal(err)
	}
	stream, _ := sesh.OpenStream()
	b.SetBytes(testDataLen)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// nobody grants credit back over a black hole
		sesh.flowM.Lock()
		stream.sendWindow.grant(testDataLen)
		sesh.sendWindow.grant(testDataLen)
		sesh.flowM.Unlock()
		stream.Write(testData)
	}
}

func TestStream_Write(t *testing.T) {
	hole := newBlackHole()
	sesh, err := MakeSession(0, hole, SessionConfig{})
	require.NoError(t, err)
	testData := make([]byte, payloadLen)
	rand.Read(testData)

	stream, _ := sesh.OpenStream()
	n, err := stream.Write(testData)
	assert.NoError(t, err)
	assert.Equal(t, payloadLen, n)
	// SYN then one data frame
	assert.EqualValues(t, frameHeaderLength+frameHeaderLength+payloadLen, hole.Written())
}

func TestStream_WriteChunking(t *testing.T) {
	hole := newBlackHole()
	sesh, err := MakeSession(0, hole, SessionConfig{MaxFrameSize: 100})
	require.NoError(t, err)

	stream, _ := sesh.OpenStream()
	n, err := stream.Write(make([]byte, 1050))
	assert.NoError(t, err)
	assert.Equal(t, 1050, n)
	assert.EqualValues(t, frameHeaderLength+11*frameHeaderLength+1050, hole.Written())
}

func TestStream_AcceptAndRead(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})

	testData := make([]byte, 100)
	rand.Read(testData)

	clientStream, err := clientSession.OpenStream()
	require.NoError(t, err)
	assert.EqualValues(t, 1, clientStream.ID())
	_, err = clientStream.Write(testData)
	require.NoError(t, err)

	serverStream, err := serverSession.AcceptStream()
	require.NoError(t, err)
	assert.EqualValues(t, 1, serverStream.ID())

	recvBuf := make([]byte, 200)
	_, err = io.ReadFull(serverStream, recvBuf[:100])
	require.NoError(t, err)
	assert.Equal(t, testData, recvBuf[:100])

	// and nothing more
	serverStream.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	n, err := serverStream.Read(recvBuf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStream_WriteSync(t *testing.T) {
	// the FIN must arrive after all the data written before Close
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})
	testData := make([]byte, payloadLen)
	rand.Read(testData)

	t.Run("test single", func(t *testing.T) {
		go func() {
			stream, _ := clientSession.OpenStream()
			stream.Write(testData)
			stream.Close()
		}()

		recvBuf := make([]byte, payloadLen)
		serverStream, _ := serverSession.Accept()
		_, err := io.ReadFull(serverStream, recvBuf)
		assert.NoError(t, err)
		assert.Equal(t, testData, recvBuf)
		_, err = serverStream.Read(recvBuf)
		assert.Equal(t, io.EOF, err)
	})

	t.Run("test multiple", func(t *testing.T) {
		const numStreams = 100
		for i := 0; i < numStreams; i++ {
			go func() {
				stream, _ := clientSession.OpenStream()
				stream.Write(testData)
				stream.Close()
			}()
		}
		for i := 0; i < numStreams; i++ {
			recvBuf := make([]byte, payloadLen)
			serverStream, _ := serverSession.Accept()
			_, err := io.ReadFull(serverStream, recvBuf)
			assert.NoError(t, err)
			assert.Equal(t, testData, recvBuf)
		}
	})
}

func TestStream_ResetFailsPendingRead(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})
	clientStream, serverStream := openAccepted(t, clientSession, serverSession)

	errCh := make(chan error, 1)
	go func() {
		_, err := clientStream.Read(make([]byte, 10))
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, serverStream.Reset())
	assert.Equal(t, StreamReset, serverStream.State())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStreamReset)
	case <-time.After(time.Second):
		t.Fatal("pending read not failed by remote reset")
	}
	assert.Equal(t, StreamReset, clientStream.State())

	_, err := clientStream.Write([]byte{1})
	assert.ErrorIs(t, err, ErrStreamReset)
	_, err = serverStream.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrStreamReset)

	assert.Eventually(t, func() bool {
		return clientSession.NumStreams() == 0 && serverSession.NumStreams() == 0
	}, time.Second, 10*time.Millisecond)
	// a reset stream doesn't hurt its session
	assert.False(t, clientSession.IsClosed())
	assert.False(t, serverSession.IsClosed())
}

func TestStream_ResetDiscardsBuffered(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})
	clientStream, serverStream := openAccepted(t, clientSession, serverSession)

	_, err := clientStream.Write(make([]byte, 100))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return serverStream.recvBuf.Len() == 100 }, time.Second, 10*time.Millisecond)

	require.NoError(t, serverStream.Reset())
	_, err = serverStream.Read(make([]byte, 100))
	assert.ErrorIs(t, err, ErrStreamReset)
	assert.NoError(t, serverStream.Reset(), "repeated reset is a no-op")
}

func TestStream_WindowBlocksWrite(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{InitialWindowSize: 1024})
	clientStream, serverStream := openAccepted(t, clientSession, serverSession)

	done := make(chan struct{})
	go func() {
		n, err := clientStream.Write(make([]byte, 1024))
		assert.NoError(t, err)
		assert.Equal(t, 1024, n)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writing exactly the window blocked")
	}

	wrote := make(chan error, 1)
	go func() {
		_, err := clientStream.Write([]byte{0xff})
		wrote <- err
	}()
	select {
	case <-wrote:
		t.Fatal("writing beyond the window didn't block")
	case <-time.After(100 * time.Millisecond):
	}

	// reading half the window sends a WindowUpdate of 512
	_, err := io.ReadFull(serverStream, make([]byte, 512))
	require.NoError(t, err)

	select {
	case err := <-wrote:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked write not resumed by window update")
	}

	recvBuf := make([]byte, 513)
	_, err = io.ReadFull(serverStream, recvBuf)
	require.NoError(t, err)
	assert.EqualValues(t, 0xff, recvBuf[512])
}

func TestStream_WriteDeadline(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{InitialWindowSize: 1024})
	clientStream, _ := openAccepted(t, clientSession, serverSession)

	clientStream.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	n, err := clientStream.Write(make([]byte, 2048))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1024, n, "bytes within the window are still sent")

	// the stream is still usable
	clientStream.SetWriteDeadline(time.Time{})
	assert.Equal(t, StreamOpen, clientStream.State())
}

func TestStream_WriteContext(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{InitialWindowSize: 1024})
	clientStream, serverStream := openAccepted(t, clientSession, serverSession)

	_, err := clientStream.Write(make([]byte, 1024))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	n, err := clientStream.WriteContext(ctx, []byte{1})
	assert.Equal(t, 0, n)
	assert.True(t, errors.Is(err, context.Canceled))

	// cancelling took no credit, so one byte fits once the reader catches up
	_, err = io.ReadFull(serverStream, make([]byte, 1024))
	require.NoError(t, err)
	n, err = clientStream.Write([]byte{1})
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStream_ReadContext(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})
	clientStream, serverStream := openAccepted(t, clientSession, serverSession)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := serverStream.ReadContext(ctx, make([]byte, 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = clientStream.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = io.ReadFull(serverStream, buf)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf)
}

func TestStream_HalfClose(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})
	clientStream, serverStream := openAccepted(t, clientSession, serverSession)

	require.NoError(t, clientStream.CloseWrite())
	assert.Equal(t, StreamLocalClosed, clientStream.State())
	_, err := clientStream.Write([]byte{1})
	assert.ErrorIs(t, err, ErrWriteClosed)

	_, err = serverStream.Read(make([]byte, 1))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, StreamRemoteClosed, serverStream.State())

	// the other direction still works
	_, err = serverStream.Write([]byte("reply"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(clientStream, buf)
	require.NoError(t, err)
	assert.Equal(t, "reply", string(buf))

	require.NoError(t, serverStream.Close())
	assert.Equal(t, StreamClosed, serverStream.State())
	_, err = clientStream.Read(buf)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, StreamClosed, clientStream.State())

	err = clientStream.Close()
	assert.ErrorIs(t, err, errRepeatStreamClosing)

	assert.Eventually(t, func() bool {
		return clientSession.NumStreams() == 0 && serverSession.NumStreams() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStream_ConcurrentOpen(t *testing.T) {
	const numStreams = 200
	clientSession, serverSession := makeSessionPair(t, SessionConfig{AcceptQueueCapacity: numStreams})

	collect := func(sesh *Session) []uint32 {
		var wg sync.WaitGroup
		ids := make([]uint32, numStreams)
		for i := 0; i < numStreams; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				stream, err := sesh.OpenStream()
				if err != nil {
					t.Errorf("failed to open stream: %v", err)
					return
				}
				ids[i] = stream.ID()
			}(i)
		}
		wg.Wait()
		return ids
	}

	var clientIDs, serverIDs []uint32
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); clientIDs = collect(clientSession) }()
	go func() { defer wg.Done(); serverIDs = collect(serverSession) }()
	wg.Wait()

	check := func(ids []uint32, parity uint32) {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i, id := range ids {
			assert.Equal(t, parity, id%2, "stream %v has the wrong parity", id)
			if i > 0 {
				assert.NotEqual(t, ids[i-1], id, "stream id %v handed out twice", id)
			}
		}
	}
	check(clientIDs, 1)
	check(serverIDs, 0)

	// every stream reached the other side, and no SYN was seen as a reused id
	assert.Eventually(t, func() bool {
		return clientSession.NumStreams() == 2*numStreams && serverSession.NumStreams() == 2*numStreams
	}, time.Second, 10*time.Millisecond)
	assert.False(t, clientSession.IsClosed())
	assert.False(t, serverSession.IsClosed())
}

func TestStream_IDsNotReused(t *testing.T) {
	clientSession, serverSession := makeSessionPair(t, SessionConfig{})
	seen := map[uint32]bool{}
	for i := 0; i < 50; i++ {
		clientStream, serverStream := openAccepted(t, clientSession, serverSession)
		assert.False(t, seen[clientStream.ID()])
		seen[clientStream.ID()] = true
		clientStream.Close()
		serverStream.Close()
	}
}

func TestStream_Addrs(t *testing.T) {
	c, s := connutil.AsyncPipe()
	clientSession, serverSession := makeSessionPairOver(t, c, s, SessionConfig{})
	clientStream, _ := openAccepted(t, clientSession, serverSession)
	assert.Equal(t, c.LocalAddr(), clientStream.LocalAddr())
	assert.Equal(t, c.RemoteAddr(), clientStream.RemoteAddr())
}

func TestStreamState_String(t *testing.T) {
	assert.Equal(t, "open", StreamOpen.String())
	assert.Equal(t, "remote-closed", StreamRemoteClosed.String())
	assert.Equal(t, "StreamState(42)", StreamState(42).String())
}
