package packet

import "fmt"

const (
	connectFlagUsername   byte = 1 << 7
	connectFlagPassword   byte = 1 << 6
	connectFlagCleanStart byte = 1 << 1
)

// Connect opens a session. Empty Username/Password keep the
// corresponding flag bits clear and the fields off the wire.
type Connect struct {
	ClientID   string
	Username   string
	Password   string // secret
	KeepAlive  uint16 // seconds, 0 disables server-side timeout
	CleanStart bool
}

func (p *Connect) Type() Type { return TypeConnect }

func (p *Connect) Encode() ([]byte, error) {
	body := make([]byte, 0, 16+len(p.ClientID)+len(p.Username)+len(p.Password))
	body, _ = appendString(TypeConnect, body, protocolName)
	body = append(body, protocolLevel)
	var flags byte
	if p.CleanStart {
		flags |= connectFlagCleanStart
	}
	if p.Username != "" {
		flags |= connectFlagUsername
	}
	if p.Password != "" {
		flags |= connectFlagPassword
	}
	body = append(body, flags)
	body = appendUint16(body, p.KeepAlive)
	body = append(body, 0) // properties
	var err error
	if body, err = appendString(TypeConnect, body, p.ClientID); err != nil {
		return nil, err
	}
	if p.Username != "" {
		if body, err = appendString(TypeConnect, body, p.Username); err != nil {
			return nil, err
		}
	}
	if p.Password != "" {
		if body, err = appendString(TypeConnect, body, p.Password); err != nil {
			return nil, err
		}
	}
	return frame(TypeConnect, body)
}

func decodeConnect(_ byte, body []byte) (Generic, error) {
	name, rest, ok := readString(body)
	if !ok || name != protocolName {
		return nil, errDecode(TypeConnect, "bad protocol name")
	}
	if len(rest) < 4 {
		return nil, errDecode(TypeConnect, "truncated variable header")
	}
	if rest[0] != protocolLevel {
		return nil, errDecode(TypeConnect, "protocol level=%d want=%d", rest[0], protocolLevel)
	}
	flags := rest[1]
	p := &Connect{CleanStart: flags&connectFlagCleanStart != 0}
	p.KeepAlive, rest, _ = readUint16(rest[2:])
	var err error
	if rest, err = skipProperties(TypeConnect, rest); err != nil {
		return nil, err
	}
	if p.ClientID, rest, ok = readString(rest); !ok {
		return nil, errDecode(TypeConnect, "truncated client id")
	}
	if flags&connectFlagUsername != 0 {
		if p.Username, rest, ok = readString(rest); !ok {
			return nil, errDecode(TypeConnect, "truncated username")
		}
	}
	if flags&connectFlagPassword != 0 {
		if p.Password, _, ok = readString(rest); !ok {
			return nil, errDecode(TypeConnect, "truncated password")
		}
	}
	return p, nil
}

func (p *Connect) String() string {
	return fmt.Sprintf("CONNECT client=%s keepalive=%ds clean=%t user=%t",
		p.ClientID, p.KeepAlive, p.CleanStart, p.Username != "")
}

// Connack carries the broker verdict on a Connect.
type Connack struct {
	SessionPresent bool
	ReasonCode     byte
}

func (p *Connack) Type() Type { return TypeConnack }

func (p *Connack) OK() bool { return p.ReasonCode == ReasonSuccess }

func (p *Connack) Encode() ([]byte, error) {
	var flags byte
	if p.SessionPresent {
		flags = 1
	}
	return frame(TypeConnack, []byte{flags, p.ReasonCode, 0})
}

func decodeConnack(_ byte, body []byte) (Generic, error) {
	if len(body) < 3 {
		return nil, errDecode(TypeConnack, "body length=%d want>=3", len(body))
	}
	if _, err := skipProperties(TypeConnack, body[2:]); err != nil {
		return nil, err
	}
	return &Connack{
		SessionPresent: body[0]&1 != 0,
		ReasonCode:     body[1],
	}, nil
}

func (p *Connack) String() string {
	return fmt.Sprintf("CONNACK session=%t reason=0x%02x", p.SessionPresent, p.ReasonCode)
}
