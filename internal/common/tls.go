package common

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
)

const (
	VersionTLS11 = 0x0301
	VersionTLS13 = 0x0303

	Handshake       = 22
	ApplicationData = 23

	RecordHeaderLength = 5
	// MaxRecordPayload is the largest payload a single record may carry
	MaxRecordPayload = 1<<14 + 256
)

var ErrRecordTooLarge = errors.New("record exceeds the maximum payload size")
var ErrUnexpectedRecordType = errors.New("unexpected record type")

func AddRecordLayer(input []byte, typ byte, ver uint16) []byte {
	ret := make([]byte, RecordHeaderLength+len(input))
	ret[0] = typ
	binary.BigEndian.PutUint16(ret[1:3], ver)
	binary.BigEndian.PutUint16(ret[3:5], uint16(len(input)))
	copy(ret[5:], input)
	return ret
}

// RecordConn frames a byte stream into application data records that look like TLS 1.3 traffic.
// Each Write becomes one or more whole records; Read returns payload bytes and keeps whatever of
// a record did not fit in the caller's buffer for the next call.
type RecordConn struct {
	net.Conn

	readM    sync.Mutex
	header   [RecordHeaderLength]byte
	recvBuf  []byte
	leftover []byte

	writeM sync.Mutex
}

func NewRecordConn(conn net.Conn) *RecordConn {
	return &RecordConn{
		Conn:    conn,
		recvBuf: make([]byte, MaxRecordPayload),
	}
}

// ReadRecord reads one whole application data record and returns its payload. The returned
// slice is only valid until the next call.
func (c *RecordConn) ReadRecord() ([]byte, error) {
	// TCP is a stream. Multiple records can arrive at the same time, and a single record can
	// also be segmented by the IP layer.
	_, err := io.ReadFull(c.Conn, c.header[:])
	if err != nil {
		return nil, err
	}
	if c.header[0] != ApplicationData {
		return nil, ErrUnexpectedRecordType
	}
	dataLength := int(binary.BigEndian.Uint16(c.header[3:5]))
	if dataLength > MaxRecordPayload {
		return nil, ErrRecordTooLarge
	}
	_, err = io.ReadFull(c.Conn, c.recvBuf[:dataLength])
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	return c.recvBuf[:dataLength], nil
}

// WriteRecord writes payload as a single record
func (c *RecordConn) WriteRecord(payload []byte) error {
	if len(payload) > MaxRecordPayload {
		return ErrRecordTooLarge
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	_, err := c.Conn.Write(AddRecordLayer(payload, ApplicationData, VersionTLS13))
	return err
}

func (c *RecordConn) Read(buf []byte) (n int, err error) {
	c.readM.Lock()
	defer c.readM.Unlock()
	for len(c.leftover) == 0 {
		c.leftover, err = c.ReadRecord()
		if err != nil {
			return 0, err
		}
	}
	n = copy(buf, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

func (c *RecordConn) Write(in []byte) (n int, err error) {
	c.writeM.Lock()
	defer c.writeM.Unlock()
	for len(in) > 0 {
		chunk := in
		if len(chunk) > MaxRecordPayload {
			chunk = chunk[:MaxRecordPayload]
		}
		_, err = c.Conn.Write(AddRecordLayer(chunk, ApplicationData, VersionTLS13))
		if err != nil {
			return n, err
		}
		n += len(chunk)
		in = in[len(chunk):]
	}
	return n, nil
}
