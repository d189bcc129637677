package transport

import (
	"bytes"
	"context"
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cbeuw/tangle/internal/common"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltSize = 32

const (
	clientKeyInfo = "tangle client to server"
	serverKeyInfo = "tangle server to client"
)

var sealedGreeting = []byte("tangle sealed transport v1")

var ErrAuthenticationFailed = errors.New("failed to authenticate sealed record")

// Sealed wraps another transport with an authenticated encryption layer keyed by a pre-shared
// key. Each direction gets its own key derived from both peers' salts.
type Sealed struct {
	Inner Transport
	PSK   []byte
}

func (s *Sealed) String() string { return "sealed " + s.Inner.String() }

func (s *Sealed) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := s.Inner.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	conn.SetDeadline(handshakeDeadline(ctx))
	sc, err := sealHandshake(conn, s.PSK, true)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return sc, nil
}

func (s *Sealed) Listen(addr string) (net.Listener, error) {
	listener, err := s.Inner.Listen(addr)
	if err != nil {
		return nil, err
	}
	return &sealedListener{Listener: listener, psk: s.PSK}, nil
}

type sealedListener struct {
	net.Listener
	psk []byte
}

// Accept skips connections that fail the handshake
func (l *sealedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		conn.SetDeadline(time.Now().Add(handshakeTimeout))
		sc, err := sealHandshake(conn, l.psk, false)
		if err != nil {
			log.Warnf("sealed handshake with %v failed: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		conn.SetDeadline(time.Time{})
		return sc, nil
	}
}

// exchange writes out while reading len(in) bytes from conn. Synchronous transports would
// deadlock if both peers wrote first.
func exchange(conn net.Conn, out []byte, in []byte) error {
	writeErr := make(chan error, 1)
	go func() {
		_, err := conn.Write(out)
		writeErr <- err
	}()
	_, err := io.ReadFull(conn, in)
	if err != nil {
		return err
	}
	return <-writeErr
}

func sealHandshake(conn net.Conn, psk []byte, isClient bool) (*sealedConn, error) {
	mySalt := make([]byte, saltSize)
	common.CryptoRandRead(mySalt)
	peerSalt := make([]byte, saltSize)
	if err := exchange(conn, mySalt, peerSalt); err != nil {
		return nil, fmt.Errorf("failed to exchange salt: %w", err)
	}

	var salt []byte
	sendInfo, recvInfo := clientKeyInfo, serverKeyInfo
	if isClient {
		salt = append(mySalt, peerSalt...)
	} else {
		salt = append(peerSalt, mySalt...)
		sendInfo, recvInfo = serverKeyInfo, clientKeyInfo
	}
	sendKey, err := common.DeriveKey(psk, salt, sendInfo)
	if err != nil {
		return nil, err
	}
	recvKey, err := common.DeriveKey(psk, salt, recvInfo)
	if err != nil {
		return nil, err
	}
	sc, err := newSealedConn(conn, sendKey, recvKey)
	if err != nil {
		return nil, err
	}

	greeting := sc.seal(sealedGreeting)
	writeErr := make(chan error, 1)
	go func() { writeErr <- sc.record.WriteRecord(greeting) }()
	got, err := sc.openRecord()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, sealedGreeting) {
		return nil, ErrAuthenticationFailed
	}
	if err := <-writeErr; err != nil {
		return nil, err
	}
	return sc, nil
}

type sealedConn struct {
	net.Conn
	record *common.RecordConn

	writeM    sync.Mutex
	sendAEAD  cipher.AEAD
	sendNonce uint64

	readM     sync.Mutex
	recvAEAD  cipher.AEAD
	recvNonce uint64
	leftover  []byte
}

func newSealedConn(conn net.Conn, sendKey, recvKey []byte) (*sealedConn, error) {
	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, err
	}
	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, err
	}
	return &sealedConn{
		Conn:     conn,
		record:   common.NewRecordConn(conn),
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
	}, nil
}

func makeNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[chacha20poly1305.NonceSize-8:], counter)
	return nonce
}

// seal must be called with writeM held, or before the conn is shared
func (sc *sealedConn) seal(plaintext []byte) []byte {
	nonce := makeNonce(sc.sendNonce)
	sc.sendNonce++
	return sc.sendAEAD.Seal(nil, nonce, plaintext, nil)
}

// openRecord must be called with readM held, or before the conn is shared
func (sc *sealedConn) openRecord() ([]byte, error) {
	ciphertext, err := sc.record.ReadRecord()
	if err != nil {
		return nil, err
	}
	nonce := makeNonce(sc.recvNonce)
	sc.recvNonce++
	plaintext, err := sc.recvAEAD.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

func (sc *sealedConn) Read(buf []byte) (n int, err error) {
	sc.readM.Lock()
	defer sc.readM.Unlock()
	for len(sc.leftover) == 0 {
		sc.leftover, err = sc.openRecord()
		if err != nil {
			return 0, err
		}
	}
	n = copy(buf, sc.leftover)
	sc.leftover = sc.leftover[n:]
	return n, nil
}

func (sc *sealedConn) Write(in []byte) (n int, err error) {
	sc.writeM.Lock()
	defer sc.writeM.Unlock()
	maxPlaintext := common.MaxRecordPayload - sc.sendAEAD.Overhead()
	for len(in) > 0 {
		chunk := in
		if len(chunk) > maxPlaintext {
			chunk = chunk[:maxPlaintext]
		}
		err = sc.record.WriteRecord(sc.seal(chunk))
		if err != nil {
			return n, err
		}
		n += len(chunk)
		in = in[len(chunk):]
	}
	return n, nil
}
