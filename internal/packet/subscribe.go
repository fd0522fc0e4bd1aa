package packet

import "fmt"

// Subscribe asks for one topic filter. The relay never needs more
// than one filter per frame, so the codec rejects extras.
type Subscribe struct {
	PacketID uint16
	Topic    string
}

func (p *Subscribe) Type() Type { return TypeSubscribe }

func (p *Subscribe) Encode() ([]byte, error) {
	if p.Topic == "" {
		return nil, errEncode(TypeSubscribe, "empty topic")
	}
	body := make([]byte, 0, 6+len(p.Topic))
	body = appendUint16(body, p.PacketID)
	body = append(body, 0) // properties
	body, err := appendString(TypeSubscribe, body, p.Topic)
	if err != nil {
		return nil, err
	}
	body = append(body, 0) // subscription options: QoS 0
	return frame(TypeSubscribe, body)
}

func decodeSubscribe(_ byte, body []byte) (Generic, error) {
	pktid, rest, ok := readUint16(body)
	if !ok {
		return nil, errDecode(TypeSubscribe, "truncated packet id")
	}
	rest, err := skipProperties(TypeSubscribe, rest)
	if err != nil {
		return nil, err
	}
	p := &Subscribe{PacketID: pktid}
	if p.Topic, rest, ok = readString(rest); !ok || p.Topic == "" {
		return nil, errDecode(TypeSubscribe, "truncated topic")
	}
	if len(rest) < 1 {
		return nil, errDecode(TypeSubscribe, "missing subscription options")
	}
	if qos := rest[0] & 3; qos != 0 {
		return nil, errDecode(TypeSubscribe, "qos=%d not supported", qos)
	}
	if len(rest) > 1 {
		return nil, errDecode(TypeSubscribe, "trailing bytes=%d", len(rest)-1)
	}
	return p, nil
}

func (p *Subscribe) String() string {
	return fmt.Sprintf("SUBSCRIBE id=%d topic=%s", p.PacketID, p.Topic)
}

// Suback acknowledges a Subscribe with one reason code.
type Suback struct {
	PacketID   uint16
	ReasonCode byte
}

func (p *Suback) Type() Type { return TypeSuback }

func (p *Suback) OK() bool { return p.ReasonCode < 0x80 }

func (p *Suback) Encode() ([]byte, error) {
	body := make([]byte, 0, 4)
	body = appendUint16(body, p.PacketID)
	body = append(body, 0) // properties
	body = append(body, p.ReasonCode)
	return frame(TypeSuback, body)
}

func decodeSuback(_ byte, body []byte) (Generic, error) {
	pktid, rest, ok := readUint16(body)
	if !ok {
		return nil, errDecode(TypeSuback, "truncated packet id")
	}
	rest, err := skipProperties(TypeSuback, rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, errDecode(TypeSuback, "missing reason code")
	}
	return &Suback{PacketID: pktid, ReasonCode: rest[0]}, nil
}

func (p *Suback) String() string {
	return fmt.Sprintf("SUBACK id=%d reason=0x%02x", p.PacketID, p.ReasonCode)
}

// Unsubscribe drops one topic filter. No properties in this dialect.
type Unsubscribe struct {
	PacketID uint16
	Topic    string
}

func (p *Unsubscribe) Type() Type { return TypeUnsubscribe }

func (p *Unsubscribe) Encode() ([]byte, error) {
	if p.Topic == "" {
		return nil, errEncode(TypeUnsubscribe, "empty topic")
	}
	body := make([]byte, 0, 4+len(p.Topic))
	body = appendUint16(body, p.PacketID)
	body, err := appendString(TypeUnsubscribe, body, p.Topic)
	if err != nil {
		return nil, err
	}
	return frame(TypeUnsubscribe, body)
}

func decodeUnsubscribe(_ byte, body []byte) (Generic, error) {
	pktid, rest, ok := readUint16(body)
	if !ok {
		return nil, errDecode(TypeUnsubscribe, "truncated packet id")
	}
	p := &Unsubscribe{PacketID: pktid}
	if p.Topic, rest, ok = readString(rest); !ok || p.Topic == "" {
		return nil, errDecode(TypeUnsubscribe, "truncated topic")
	}
	if len(rest) > 0 {
		return nil, errDecode(TypeUnsubscribe, "trailing bytes=%d", len(rest))
	}
	return p, nil
}

func (p *Unsubscribe) String() string {
	return fmt.Sprintf("UNSUBSCRIBE id=%d topic=%s", p.PacketID, p.Topic)
}

// Unsuback mirrors Suback.
type Unsuback struct {
	PacketID   uint16
	ReasonCode byte
}

func (p *Unsuback) Type() Type { return TypeUnsuback }

func (p *Unsuback) OK() bool { return p.ReasonCode < 0x80 }

func (p *Unsuback) Encode() ([]byte, error) {
	body := make([]byte, 0, 4)
	body = appendUint16(body, p.PacketID)
	body = append(body, 0) // properties
	body = append(body, p.ReasonCode)
	return frame(TypeUnsuback, body)
}

func decodeUnsuback(_ byte, body []byte) (Generic, error) {
	pktid, rest, ok := readUint16(body)
	if !ok {
		return nil, errDecode(TypeUnsuback, "truncated packet id")
	}
	rest, err := skipProperties(TypeUnsuback, rest)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, errDecode(TypeUnsuback, "missing reason code")
	}
	return &Unsuback{PacketID: pktid, ReasonCode: rest[0]}, nil
}

func (p *Unsuback) String() string {
	return fmt.Sprintf("UNSUBACK id=%d reason=0x%02x", p.PacketID, p.ReasonCode)
}
