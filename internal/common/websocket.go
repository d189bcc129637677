package common

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn implements net.Conn over binary websocket messages. A message larger than the
// caller's buffer is handed out across several Reads.
type WebSocketConn struct {
	*websocket.Conn
	writeM sync.Mutex

	readM  sync.Mutex
	reader io.Reader
}

func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{Conn: conn}
}

func (ws *WebSocketConn) Write(data []byte) (int, error) {
	ws.writeM.Lock()
	err := ws.WriteMessage(websocket.BinaryMessage, data)
	ws.writeM.Unlock()
	if err != nil {
		return 0, err
	} else {
		return len(data), nil
	}
}

func (ws *WebSocketConn) Read(buf []byte) (n int, err error) {
	ws.readM.Lock()
	defer ws.readM.Unlock()
	for {
		if ws.reader == nil {
			var t int
			t, ws.reader, err = ws.NextReader()
			if err != nil {
				ws.reader = nil
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					err = io.EOF
				}
				return 0, err
			}
			if t != websocket.BinaryMessage {
				ws.reader = nil
				continue
			}
		}
		n, err = ws.reader.Read(buf)
		if err == io.EOF {
			ws.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (ws *WebSocketConn) Close() error {
	ws.writeM.Lock()
	defer ws.writeM.Unlock()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return ws.Conn.Close()
}

func (ws *WebSocketConn) SetDeadline(t time.Time) error {
	err := ws.SetReadDeadline(t)
	if err != nil {
		return err
	}
	err = ws.SetWriteDeadline(t)
	if err != nil {
		return err
	}
	return nil
}
