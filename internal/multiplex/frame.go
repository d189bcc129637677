package multiplex

import (
	"encoding/binary"
	"fmt"
)

// protoVersion is the only version this implementation speaks
const protoVersion uint8 = 0

// header: [version 1 byte][type 1 byte][flags 1 byte][stream id 4 bytes][length 4 bytes]
const frameHeaderLength = 11

type FrameType uint8

const (
	TypeData FrameType = iota
	TypeWindowUpdate
	TypePing
	TypeGoAway
)

func (t FrameType) String() string {
	switch t {
	case TypeData:
		return "Data"
	case TypeWindowUpdate:
		return "WindowUpdate"
	case TypePing:
		return "Ping"
	case TypeGoAway:
		return "GoAway"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

const (
	FlagSYN uint8 = 1 << iota
	FlagACK
	FlagFIN
	FlagRST
)

// Codes carried in the length field of a GoAway frame
const (
	GoAwayNormal uint32 = iota
	GoAwayProtocolError
	GoAwayInternalError
)

// sessionStreamID addresses session-level control frames
const sessionStreamID uint32 = 0

// A Frame is one unit on the wire. For Data frames Length is the payload length; for every
// other type it is a control value (window delta, ping id or go away code) and Payload is empty.
type Frame struct {
	Version  uint8
	Type     FrameType
	Flags    uint8
	StreamID uint32
	Length   uint32
	Payload  []byte
}

func (f *Frame) hasFlag(flag uint8) bool { return f.Flags&flag != 0 }

func (f *Frame) String() string {
	return fmt.Sprintf("%v stream=%v flags=%#x length=%v", f.Type, f.StreamID, f.Flags, f.Length)
}

func newDataFrame(id uint32, flags uint8, payload []byte) *Frame {
	return &Frame{
		Version:  protoVersion,
		Type:     TypeData,
		Flags:    flags,
		StreamID: id,
		Length:   uint32(len(payload)),
		Payload:  payload,
	}
}

func newControlFrame(typ FrameType, flags uint8, id uint32, value uint32) *Frame {
	return &Frame{
		Version:  protoVersion,
		Type:     typ,
		Flags:    flags,
		StreamID: id,
		Length:   value,
	}
}

// AppendTo appends the wire encoding of f to buf
func (f *Frame) AppendTo(buf []byte) []byte {
	var header [frameHeaderLength]byte
	length := f.Length
	if f.Type == TypeData {
		length = uint32(len(f.Payload))
	}
	putHeader(header[:], f.Version, f.Type, f.Flags, f.StreamID, length)
	buf = append(buf, header[:]...)
	if f.Type == TypeData {
		buf = append(buf, f.Payload...)
	}
	return buf
}

// EncodeFrame serialises f. Encoding never fails.
func EncodeFrame(f *Frame) []byte {
	size := frameHeaderLength
	if f.Type == TypeData {
		size += len(f.Payload)
	}
	return f.AppendTo(make([]byte, 0, size))
}

func putHeader(header []byte, version uint8, typ FrameType, flags uint8, id uint32, length uint32) {
	header[0] = version
	header[1] = uint8(typ)
	header[2] = flags
	binary.BigEndian.PutUint32(header[3:7], id)
	binary.BigEndian.PutUint32(header[7:11], length)
}

// decodeHeader parses a full header into f, leaving Payload untouched
func decodeHeader(header []byte, f *Frame) error {
	f.Version = header[0]
	f.Type = FrameType(header[1])
	f.Flags = header[2]
	f.StreamID = binary.BigEndian.Uint32(header[3:7])
	f.Length = binary.BigEndian.Uint32(header[7:11])
	if f.Version != protoVersion {
		return protocolErrorf("unsupported protocol version %v", f.Version)
	}
	if f.Type > TypeGoAway {
		return protocolErrorf("unknown frame type %v", uint8(f.Type))
	}
	return nil
}

// DecodeFrame parses one frame from the start of data. It returns the frame and the number of bytes
// it occupied. If data holds only part of a frame, ErrNeedMoreData is returned so the caller can
// retry once more bytes have arrived. The returned Payload aliases data.
func DecodeFrame(data []byte) (*Frame, int, error) {
	if len(data) < frameHeaderLength {
		return nil, 0, ErrNeedMoreData
	}
	f := &Frame{}
	if err := decodeHeader(data[:frameHeaderLength], f); err != nil {
		return nil, 0, err
	}
	if f.Type != TypeData {
		return f, frameHeaderLength, nil
	}
	total := frameHeaderLength + int(f.Length)
	if len(data) < total {
		return nil, 0, ErrNeedMoreData
	}
	f.Payload = data[frameHeaderLength:total]
	return f, total, nil
}
