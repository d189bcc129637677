package common

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeWebSocketPair(t *testing.T) (*WebSocketConn, *WebSocketConn) {
	serverSide := make(chan *WebSocketConn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		serverSide <- NewWebSocketConn(c)
	}))
	t.Cleanup(srv.Close)

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	client := NewWebSocketConn(c)
	server := <-serverSide
	t.Cleanup(func() {
		client.Conn.Close()
		server.Conn.Close()
	})
	return client, server
}

func TestWebSocketConn(t *testing.T) {
	t.Run("message split across reads", func(t *testing.T) {
		client, server := makeWebSocketPair(t)
		_, err := client.Write([]byte("abcdefgh"))
		require.NoError(t, err)
		_, err = client.Write([]byte("ij"))
		require.NoError(t, err)

		buf := make([]byte, 3)
		var got []byte
		for len(got) < 10 {
			n, err := server.Read(buf)
			require.NoError(t, err)
			got = append(got, buf[:n]...)
		}
		assert.Equal(t, "abcdefghij", string(got))
	})

	t.Run("text messages are skipped", func(t *testing.T) {
		client, server := makeWebSocketPair(t)
		require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ignored")))
		_, err := client.Write([]byte{1, 2})
		require.NoError(t, err)

		buf := make([]byte, 10)
		n, err := io.ReadAtLeast(server, buf, 2)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2}, buf[:n])
	})

	t.Run("close gives EOF", func(t *testing.T) {
		client, server := makeWebSocketPair(t)
		require.NoError(t, client.Close())
		_, err := server.Read(make([]byte, 1))
		assert.Equal(t, io.EOF, err)
	})
}
