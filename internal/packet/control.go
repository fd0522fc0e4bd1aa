package packet

import "fmt"

// Pingreq is the keep-alive heartbeat, empty body.
type Pingreq struct{}

func (p *Pingreq) Type() Type              { return TypePingreq }
func (p *Pingreq) Encode() ([]byte, error) { return frame(TypePingreq, nil) }
func (p *Pingreq) String() string          { return "PINGREQ" }

func decodePingreq(_ byte, body []byte) (Generic, error) {
	if len(body) != 0 {
		return nil, errDecode(TypePingreq, "unexpected body length=%d", len(body))
	}
	return &Pingreq{}, nil
}

type Pingresp struct{}

func (p *Pingresp) Type() Type              { return TypePingresp }
func (p *Pingresp) Encode() ([]byte, error) { return frame(TypePingresp, nil) }
func (p *Pingresp) String() string          { return "PINGRESP" }

func decodePingresp(_ byte, body []byte) (Generic, error) {
	if len(body) != 0 {
		return nil, errDecode(TypePingresp, "unexpected body length=%d", len(body))
	}
	return &Pingresp{}, nil
}

// Disconnect ends the session cleanly. The client sends an empty body
// meaning reason 0; the broker may attach a reason byte and properties.
type Disconnect struct {
	ReasonCode byte
}

func (p *Disconnect) Type() Type { return TypeDisconnect }

func (p *Disconnect) Encode() ([]byte, error) {
	if p.ReasonCode == 0 {
		return frame(TypeDisconnect, nil)
	}
	return frame(TypeDisconnect, []byte{p.ReasonCode, 0})
}

func decodeDisconnect(_ byte, body []byte) (Generic, error) {
	p := &Disconnect{}
	if len(body) == 0 {
		return p, nil
	}
	p.ReasonCode = body[0]
	if len(body) > 1 {
		if _, err := skipProperties(TypeDisconnect, body[1:]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Disconnect) String() string {
	return fmt.Sprintf("DISCONNECT reason=0x%02x", p.ReasonCode)
}
