package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cbeuw/tangle/internal/common"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const wsBufferSize = 16480

var errListenerClosed = fmt.Errorf("websocket listener: %w", net.ErrClosed)

// WebSocket carries the byte stream in binary websocket messages
type WebSocket struct {
	*Direct
	Path string
}

func (*WebSocket) String() string { return KindWebSocket }

func (ws *WebSocket) path() string {
	if ws.Path == "" {
		return "/"
	}
	return ws.Path
}

func (ws *WebSocket) Dial(ctx context.Context, addr string) (net.Conn, error) {
	rawConn, err := ws.Direct.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	u := &url.URL{Scheme: "ws", Host: addr, Path: ws.path()}

	rawConn.SetDeadline(handshakeDeadline(ctx))
	c, _, err := websocket.NewClient(rawConn, u, http.Header{}, wsBufferSize, wsBufferSize)
	if err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("failed to handshake: %w", err)
	}
	rawConn.SetDeadline(time.Time{})
	return common.NewWebSocketConn(c), nil
}

func (ws *WebSocket) Listen(addr string) (net.Listener, error) {
	listener, err := ws.Direct.Listen(addr)
	if err != nil {
		return nil, err
	}
	wl := &wsListener{
		Listener: listener,
		conns:    make(chan net.Conn),
		closed:   make(chan struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: wsBufferSize, WriteBufferSize: wsBufferSize},
	}
	mux := http.NewServeMux()
	mux.Handle(ws.path(), wl)
	wl.server = &http.Server{Handler: mux, ReadHeaderTimeout: handshakeTimeout}
	go func() {
		err := wl.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("websocket server stopped: %v", err)
		}
	}()
	return wl, nil
}

// wsListener hands out the connections upgraded by its own http.Server
type wsListener struct {
	net.Listener
	server   *http.Server
	upgrader websocket.Upgrader

	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (wl *wsListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := wl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("failed to upgrade connection to ws: %v", err)
		return
	}
	conn := common.NewWebSocketConn(c)
	select {
	case wl.conns <- conn:
	case <-wl.closed:
		conn.Close()
	}
}

func (wl *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-wl.conns:
		return conn, nil
	case <-wl.closed:
		return nil, errListenerClosed
	}
}

func (wl *wsListener) Close() error {
	var err error
	wl.closeOnce.Do(func() {
		close(wl.closed)
		err = wl.server.Close()
	})
	return err
}
