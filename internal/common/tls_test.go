package common

import (
	"bytes"
	"io"
	"math/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRecordLayer(t *testing.T) {
	rec := AddRecordLayer([]byte{0xaa, 0xbb}, ApplicationData, VersionTLS13)
	assert.Equal(t, []byte{ApplicationData, 0x03, 0x03, 0x00, 0x02, 0xaa, 0xbb}, rec)
}

func TestRecordConn(t *testing.T) {
	t.Run("small reads reassemble a record", func(t *testing.T) {
		a, b := net.Pipe()
		writer, reader := NewRecordConn(a), NewRecordConn(b)
		defer writer.Close()
		defer reader.Close()

		data := []byte("hello world")
		go writer.Write(data)

		got := make([]byte, len(data))
		for i := range got {
			_, err := io.ReadFull(reader, got[i:i+1])
			require.NoError(t, err)
		}
		assert.Equal(t, data, got)
	})

	t.Run("large writes are split", func(t *testing.T) {
		a, b := net.Pipe()
		writer, reader := NewRecordConn(a), NewRecordConn(b)
		defer writer.Close()
		defer reader.Close()

		data := make([]byte, 3*MaxRecordPayload+17)
		rand.Read(data)
		go func() {
			n, err := writer.Write(data)
			assert.NoError(t, err)
			assert.Equal(t, len(data), n)
		}()

		var records int
		var got []byte
		for len(got) < len(data) {
			payload, err := reader.ReadRecord()
			require.NoError(t, err)
			records++
			got = append(got, payload...)
		}
		assert.Equal(t, 4, records)
		assert.True(t, bytes.Equal(data, got))
	})

	t.Run("wrong record type", func(t *testing.T) {
		a, b := net.Pipe()
		reader := NewRecordConn(b)
		defer a.Close()
		defer reader.Close()

		go a.Write(AddRecordLayer([]byte{1}, Handshake, VersionTLS11))
		_, err := reader.Read(make([]byte, 10))
		assert.ErrorIs(t, err, ErrUnexpectedRecordType)
	})

	t.Run("truncated record", func(t *testing.T) {
		a, b := net.Pipe()
		reader := NewRecordConn(b)
		defer reader.Close()

		go func() {
			a.Write(AddRecordLayer([]byte{1, 2, 3, 4}, ApplicationData, VersionTLS13)[:7])
			a.Close()
		}()
		_, err := reader.Read(make([]byte, 10))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("oversized write record", func(t *testing.T) {
		a, b := net.Pipe()
		defer a.Close()
		defer b.Close()
		assert.ErrorIs(t, NewRecordConn(a).WriteRecord(make([]byte, MaxRecordPayload+1)), ErrRecordTooLarge)
	})
}

func BenchmarkRecordConn_Write(b *testing.B) {
	const bufSize = 16 * 1024
	addrCh := make(chan string, 1)
	go func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			b.Error(err)
			return
		}
		addrCh <- listener.Addr().String()
		conn, err := listener.Accept()
		if err != nil {
			b.Error(err)
			return
		}
		io.Copy(io.Discard, conn)
	}()
	data := make([]byte, bufSize)
	discardConn, _ := net.Dial("tcp", <-addrCh)
	recordConn := NewRecordConn(discardConn)
	defer recordConn.Close()
	b.SetBytes(bufSize)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			recordConn.Write(data)
		}
	})
}
