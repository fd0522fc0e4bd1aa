// Package packet encodes and decodes the gate relay control frames.
// The dialect is MQTT 5 narrowed to what the relay firmware speaks:
// QoS 0 only, empty property sets, one topic filter per subscribe.
// Functions here work on byte slices only; transport framing and
// socket errors are the caller's business.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
)

type Type byte

const (
	TypeInvalid     Type = 0
	TypeConnect     Type = 1
	TypeConnack     Type = 2
	TypePublish     Type = 3
	TypeSubscribe   Type = 8
	TypeSuback      Type = 9
	TypeUnsubscribe Type = 10
	TypeUnsuback    Type = 11
	TypePingreq     Type = 12
	TypePingresp    Type = 13
	TypeDisconnect  Type = 14
)

func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "CONNECT"
	case TypeConnack:
		return "CONNACK"
	case TypePublish:
		return "PUBLISH"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeSuback:
		return "SUBACK"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	case TypeUnsuback:
		return "UNSUBACK"
	case TypePingreq:
		return "PINGREQ"
	case TypePingresp:
		return "PINGRESP"
	case TypeDisconnect:
		return "DISCONNECT"
	}
	return fmt.Sprintf("packet.Type(%d)", byte(t))
}

const (
	protocolName  = "MQTT"
	protocolLevel = 5

	// ReasonSuccess is the zero reason code shared by CONNACK, SUBACK, UNSUBACK.
	ReasonSuccess byte = 0

	// MaxRemainingLength is the 4-byte varint ceiling.
	MaxRemainingLength = 268435455

	maxStringLength = 65535
)

// ErrShort reports that FixedHeader needs more bytes to decide.
var ErrShort = errors.New("packet: need more bytes")

// Generic is any frame this codec can put on the wire.
type Generic interface {
	Type() Type
	Encode() ([]byte, error)
	String() string
}

// Error is an encode or decode failure tied to a frame type.
// Decode failures on an established stream are droppable: framing is
// length-prefixed, so the reader position stays valid.
type Error struct {
	Frame Type
	Op    string
	Cause string
}

func (e *Error) Error() string {
	return fmt.Sprintf("packet: %s %s: %s", e.Op, e.Frame.String(), e.Cause)
}

func errEncode(t Type, format string, args ...interface{}) *Error {
	return &Error{Frame: t, Op: "encode", Cause: fmt.Sprintf(format, args...)}
}

func errDecode(t Type, format string, args ...interface{}) *Error {
	return &Error{Frame: t, Op: "decode", Cause: fmt.Sprintf(format, args...)}
}

// errFrame marks framing damage. Unlike decode errors it is not droppable:
// once the length prefix cannot be trusted the stream is lost.
func errFrame(format string, args ...interface{}) *Error {
	return &Error{Frame: TypeInvalid, Op: "frame", Cause: fmt.Sprintf(format, args...)}
}

// IsDecodeError tells whether err came from parsing frame content,
// as opposed to transport or framing trouble.
func IsDecodeError(err error) bool {
	e, ok := errors.Cause(err).(*Error)
	return ok && e.Op == "decode"
}

// Header is the parsed fixed header.
type Header struct {
	Type    Type
	Flags   byte
	BodyLen int
}

// FixedHeader parses the first byte and the remaining-length varint.
// Returns ErrShort when b does not yet hold the complete header;
// callers reading from a stream peek more and retry.
func FixedHeader(b []byte) (Header, int, error) {
	var h Header
	if len(b) < 2 {
		return h, 0, ErrShort
	}
	h.Type = Type(b[0] >> 4)
	h.Flags = b[0] & 0x0f
	value, consumed, err := remainingLength(b[1:])
	if err != nil {
		return h, 0, err
	}
	h.BodyLen = value
	return h, 1 + consumed, nil
}

func remainingLength(b []byte) (int, int, error) {
	value := 0
	shift := uint(0)
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, 0, ErrShort
		}
		value |= int(b[i]&0x7f) << shift
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errFrame("remaining length varint over 4 bytes")
}

func appendRemainingLength(b []byte, n int) []byte {
	for {
		d := byte(n % 128)
		n /= 128
		if n > 0 {
			d |= 0x80
		}
		b = append(b, d)
		if n == 0 {
			return b
		}
	}
}

// frame prepends the fixed header. Flags nibble is always zero on encode.
func frame(t Type, body []byte) ([]byte, error) {
	if len(body) > MaxRemainingLength {
		return nil, errEncode(t, "body length=%d over limit", len(body))
	}
	out := make([]byte, 0, 5+len(body))
	out = append(out, byte(t)<<4)
	out = appendRemainingLength(out, len(body))
	return append(out, body...), nil
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendString(t Type, b []byte, s string) ([]byte, error) {
	if len(s) > maxStringLength {
		return nil, errEncode(t, "string length=%d over limit", len(s))
	}
	b = appendUint16(b, uint16(len(s)))
	return append(b, s...), nil
}

func readUint16(b []byte) (uint16, []byte, bool) {
	if len(b) < 2 {
		return 0, b, false
	}
	return binary.BigEndian.Uint16(b), b[2:], true
}

func readString(b []byte) (string, []byte, bool) {
	n, rest, ok := readUint16(b)
	if !ok || len(rest) < int(n) {
		return "", b, false
	}
	return string(rest[:n]), rest[n:], true
}

// skipProperties consumes the property block. The codec always writes an
// empty one but tolerates non-empty blocks from the broker.
func skipProperties(t Type, b []byte) ([]byte, error) {
	if len(b) < 1 {
		return nil, errDecode(t, "missing properties")
	}
	n := int(b[0])
	if len(b) < 1+n {
		return nil, errDecode(t, "properties length=%d over body", n)
	}
	return b[1+n:], nil
}

type decodeFunc func(flags byte, body []byte) (Generic, error)

var decoders = [16]decodeFunc{
	TypeConnect:     decodeConnect,
	TypeConnack:     decodeConnack,
	TypePublish:     decodePublish,
	TypeSubscribe:   decodeSubscribe,
	TypeSuback:      decodeSuback,
	TypeUnsubscribe: decodeUnsubscribe,
	TypeUnsuback:    decodeUnsuback,
	TypePingreq:     decodePingreq,
	TypePingresp:    decodePingresp,
	TypeDisconnect:  decodeDisconnect,
}

// DecodeBody parses frame content after framing is already resolved.
func DecodeBody(h Header, body []byte) (Generic, error) {
	if len(body) != h.BodyLen {
		return nil, errDecode(h.Type, "body length=%d want=%d", len(body), h.BodyLen)
	}
	d := decoders[h.Type&0x0f]
	if d == nil {
		return nil, errDecode(h.Type, "unknown frame type")
	}
	return d(h.Flags, body)
}

// Decode parses one complete frame from b.
func Decode(b []byte) (Generic, error) {
	h, n, err := FixedHeader(b)
	if err != nil {
		return nil, err
	}
	if len(b) < n+h.BodyLen {
		return nil, ErrShort
	}
	return DecodeBody(h, b[n:n+h.BodyLen])
}
