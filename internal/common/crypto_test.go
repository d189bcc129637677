package common

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	psk := []byte("correct horse battery staple")
	salt := []byte{1, 2, 3, 4}

	t.Run("deterministic", func(t *testing.T) {
		k1, err := DeriveKey(psk, salt, "client")
		require.NoError(t, err)
		k2, err := DeriveKey(psk, salt, "client")
		require.NoError(t, err)
		assert.Len(t, k1, KeySize)
		assert.Equal(t, k1, k2)
	})
	t.Run("info separates directions", func(t *testing.T) {
		k1, _ := DeriveKey(psk, salt, "client")
		k2, _ := DeriveKey(psk, salt, "server")
		assert.False(t, bytes.Equal(k1, k2))
	})
	t.Run("salt matters", func(t *testing.T) {
		k1, _ := DeriveKey(psk, salt, "client")
		k2, _ := DeriveKey(psk, []byte{4, 3, 2, 1}, "client")
		assert.False(t, bytes.Equal(k1, k2))
	})
	t.Run("empty psk", func(t *testing.T) {
		_, err := DeriveKey(nil, salt, "client")
		assert.ErrorIs(t, err, ErrEmptyPSK)
	})
}

type failingReader struct {
	fails  int
	reader io.Reader
}

func (f *failingReader) Read(p []byte) (n int, err error) {
	if f.fails > 0 {
		f.fails -= 1
		return 0, errors.New("no data for you yet")
	} else {
		return f.reader.Read(p)
	}
}

func TestRandRead(t *testing.T) {
	failer := &failingReader{
		fails:  3,
		reader: rand.New(rand.NewSource(0)),
	}
	readBuf := make([]byte, 10)
	RandRead(failer, readBuf)
	assert.NotEqual(t, make([]byte, 10), readBuf)
}

func TestRandInt(t *testing.T) {
	for i := 0; i < 100; i++ {
		n := RandInt(7)
		assert.GreaterOrEqual(t, n, 0)
		assert.Less(t, n, 7)
	}
}
