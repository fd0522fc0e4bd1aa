package packet

import "fmt"

// Publish delivers payload to a topic. QoS 0 fire-and-forget:
// no packet id, no properties, no ack. DUP/RETAIN flag bits from the
// broker are tolerated and dropped.
type Publish struct {
	Topic   string
	Payload []byte
}

func (p *Publish) Type() Type { return TypePublish }

func (p *Publish) Encode() ([]byte, error) {
	if p.Topic == "" {
		return nil, errEncode(TypePublish, "empty topic")
	}
	body := make([]byte, 0, 2+len(p.Topic)+len(p.Payload))
	body, err := appendString(TypePublish, body, p.Topic)
	if err != nil {
		return nil, err
	}
	return frame(TypePublish, append(body, p.Payload...))
}

func decodePublish(flags byte, body []byte) (Generic, error) {
	if qos := flags >> 1 & 3; qos != 0 {
		return nil, errDecode(TypePublish, "qos=%d not supported", qos)
	}
	topic, rest, ok := readString(body)
	if !ok {
		return nil, errDecode(TypePublish, "truncated topic")
	}
	if topic == "" {
		return nil, errDecode(TypePublish, "empty topic")
	}
	p := &Publish{Topic: topic}
	if len(rest) > 0 {
		p.Payload = append([]byte(nil), rest...)
	}
	return p, nil
}

func (p *Publish) String() string {
	return fmt.Sprintf("PUBLISH topic=%s payload=%dB", p.Topic, len(p.Payload))
}
