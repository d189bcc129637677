package multiplex

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	payload := make([]byte, 1000)
	rand.Read(payload)

	frames := map[string]*Frame{
		"data":             newDataFrame(1, 0, payload),
		"data with fin":    newDataFrame(3, FlagFIN, payload[:10]),
		"empty data fin":   newDataFrame(5, FlagFIN, nil),
		"syn":              newControlFrame(TypeWindowUpdate, FlagSYN, 7, 0),
		"window update":    newControlFrame(TypeWindowUpdate, 0, 2, 1<<20),
		"rst":              newControlFrame(TypeWindowUpdate, FlagRST, 0xffffffff, 0),
		"ping":             newControlFrame(TypePing, FlagSYN, 0, 42),
		"pong":             newControlFrame(TypePing, FlagACK, 0, 42),
		"go away":          newControlFrame(TypeGoAway, 0, 0, GoAwayProtocolError),
		"session window 0": newControlFrame(TypeWindowUpdate, 0, 0, 0xffffffff),
	}

	for name, f := range frames {
		t.Run(name, func(t *testing.T) {
			encoded := EncodeFrame(f)
			decoded, n, err := DecodeFrame(encoded)
			require.NoError(t, err)
			assert.Equal(t, len(encoded), n)
			assert.Equal(t, f.Type, decoded.Type)
			assert.Equal(t, f.Flags, decoded.Flags)
			assert.Equal(t, f.StreamID, decoded.StreamID)
			assert.Equal(t, f.Length, decoded.Length)
			assert.True(t, bytes.Equal(f.Payload, decoded.Payload))
		})
	}
}

func TestFrame_AppendTo(t *testing.T) {
	f := newDataFrame(1, 0, []byte{0xaa, 0xbb})
	prefix := []byte{0x01, 0x02}
	buf := f.AppendTo(prefix)
	assert.Equal(t, []byte{
		0x01, 0x02,
		0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02,
		0xaa, 0xbb,
	}, buf)
}

func TestFrame_ControlFrameCarriesNoPayload(t *testing.T) {
	f := newControlFrame(TypeWindowUpdate, 0, 1, 512)
	// a payload on a control frame is not encoded
	f.Payload = []byte{1, 2, 3}
	encoded := EncodeFrame(f)
	assert.Len(t, encoded, frameHeaderLength)

	decoded, n, err := DecodeFrame(append(encoded, 0xff))
	require.NoError(t, err)
	assert.Equal(t, frameHeaderLength, n)
	assert.EqualValues(t, 512, decoded.Length)
	assert.Empty(t, decoded.Payload)
}

func TestDecodeFrame_Prefixes(t *testing.T) {
	payload := make([]byte, 100)
	rand.Read(payload)
	encoded := EncodeFrame(newDataFrame(9, FlagFIN, payload))

	for i := 0; i < len(encoded); i++ {
		_, _, err := DecodeFrame(encoded[:i])
		if !errors.Is(err, ErrNeedMoreData) {
			t.Fatalf("prefix of %v bytes: expecting ErrNeedMoreData, got %v", i, err)
		}
	}

	_, n, err := DecodeFrame(encoded)
	assert.NoError(t, err)
	assert.Equal(t, len(encoded), n)
}

func TestDecodeFrame_Consecutive(t *testing.T) {
	var stream []byte
	stream = append(stream, EncodeFrame(newDataFrame(1, 0, []byte("hello")))...)
	stream = append(stream, EncodeFrame(newControlFrame(TypeWindowUpdate, 0, 1, 5))...)
	stream = append(stream, EncodeFrame(newDataFrame(1, FlagFIN, []byte("world")))...)

	var got []*Frame
	for len(stream) > 0 {
		f, n, err := DecodeFrame(stream)
		require.NoError(t, err)
		got = append(got, f)
		stream = stream[n:]
	}
	require.Len(t, got, 3)
	assert.Equal(t, []byte("hello"), got[0].Payload)
	assert.Equal(t, TypeWindowUpdate, got[1].Type)
	assert.True(t, got[2].hasFlag(FlagFIN))
	assert.Equal(t, []byte("world"), got[2].Payload)
}

func TestDecodeFrame_BadHeader(t *testing.T) {
	t.Run("version", func(t *testing.T) {
		encoded := EncodeFrame(newDataFrame(1, 0, nil))
		encoded[0] = protoVersion + 1
		_, _, err := DecodeFrame(encoded)
		assert.ErrorIs(t, err, ErrProtocolViolation)
		var pErr *ProtocolError
		assert.True(t, errors.As(err, &pErr))
	})
	t.Run("type", func(t *testing.T) {
		encoded := EncodeFrame(newDataFrame(1, 0, nil))
		encoded[1] = uint8(TypeGoAway) + 1
		_, _, err := DecodeFrame(encoded)
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})
	t.Run("bad header with short payload", func(t *testing.T) {
		// a header that can never be valid is reported straight away, not after waiting for the payload
		encoded := EncodeFrame(newDataFrame(1, 0, make([]byte, 10)))
		encoded[1] = 0xff
		_, _, err := DecodeFrame(encoded[:frameHeaderLength])
		assert.ErrorIs(t, err, ErrProtocolViolation)
	})
}

func TestFrameType_String(t *testing.T) {
	assert.Equal(t, "Data", TypeData.String())
	assert.Equal(t, "GoAway", TypeGoAway.String())
	assert.Equal(t, "FrameType(9)", FrameType(9).String())
}

func BenchmarkEncodeFrame(b *testing.B) {
	payload := make([]byte, defaultMaxFrameSize)
	rand.Read(payload)
	f := newDataFrame(1, 0, payload)
	buf := make([]byte, 0, frameHeaderLength+len(payload))
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = f.AppendTo(buf[:0])
	}
}

func BenchmarkDecodeFrame(b *testing.B) {
	payload := make([]byte, defaultMaxFrameSize)
	rand.Read(payload)
	encoded := EncodeFrame(newDataFrame(1, 0, payload))
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = DecodeFrame(encoded)
	}
}
