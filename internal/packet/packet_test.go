package packet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gatekeeper/helpers"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		pkt  Generic
	}{
		{"connect/bare", &Connect{ClientID: "gk-1", KeepAlive: 30, CleanStart: true}},
		{"connect/no-keepalive", &Connect{ClientID: "gk-2", CleanStart: true}},
		{"connect/user", &Connect{ClientID: "gk-3", Username: "door", KeepAlive: 60, CleanStart: true}},
		{"connect/user-pass", &Connect{ClientID: "gk-4", Username: "door", Password: "hunter2", KeepAlive: 60, CleanStart: true}},
		{"connect/dirty", &Connect{ClientID: "gk-5", KeepAlive: 5}},
		{"connack/ok", &Connack{SessionPresent: false, ReasonCode: 0}},
		{"connack/session", &Connack{SessionPresent: true, ReasonCode: 0}},
		{"connack/reject", &Connack{ReasonCode: 0x87}},
		{"publish/empty-payload", &Publish{Topic: "gate/trigger"}},
		{"publish/payload", &Publish{Topic: "gate/trigger", Payload: []byte("t-1")}},
		{"publish/min-topic", &Publish{Topic: "t", Payload: []byte{0}}},
		{"subscribe", &Subscribe{PacketID: 7, Topic: "gate/state"}},
		{"suback/ok", &Suback{PacketID: 7, ReasonCode: 0}},
		{"suback/reject", &Suback{PacketID: 7, ReasonCode: 0x87}},
		{"unsubscribe", &Unsubscribe{PacketID: 8, Topic: "gate/state"}},
		{"unsuback", &Unsuback{PacketID: 8, ReasonCode: 0}},
		{"pingreq", &Pingreq{}},
		{"pingresp", &Pingresp{}},
		{"disconnect/clean", &Disconnect{}},
		{"disconnect/reason", &Disconnect{ReasonCode: 0x8b}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			b, err := c.pkt.Encode()
			require.NoError(t, err)
			require.True(t, len(b) >= 2, "frame must have header")
			assert.EqualValues(t, byte(c.pkt.Type())<<4, b[0], "flags nibble must be zero")
			back, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, c.pkt, back)
		})
	}
}

func TestGolden(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		pkt  Generic
		hex  string
	}{
		{"connect", &Connect{ClientID: "gk-1", KeepAlive: 30, CleanStart: true},
			"101100044d5154540502001e000004676b2d31"},
		{"connack", &Connack{},
			"2003000000"},
		{"publish", &Publish{Topic: "gate/trigger", Payload: []byte("t-1")},
			"3011000c676174652f74726967676572742d31"},
		{"pingreq", &Pingreq{}, "c000"},
		{"pingresp", &Pingresp{}, "d000"},
		{"disconnect", &Disconnect{}, "e000"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name+"/encode", func(t *testing.T) {
			b, err := c.pkt.Encode()
			require.NoError(t, err)
			assert.Equal(t, helpers.MustHex(c.hex), b)
		})
		t.Run(c.name+"/decode", func(t *testing.T) {
			back, err := Decode(helpers.MustHex(c.hex))
			require.NoError(t, err)
			assert.Equal(t, c.pkt, back)
		})
	}
}

func TestLongTopic(t *testing.T) {
	t.Parallel()

	longest := strings.Repeat("t", maxStringLength)
	p := &Publish{Topic: longest, Payload: []byte{1}}
	b, err := p.Encode()
	require.NoError(t, err)
	// 2 length bytes + topic + payload forces a multi-byte remaining length
	h, n, err := FixedHeader(b)
	require.NoError(t, err)
	assert.True(t, n > 2, "remaining length must span several bytes, got=%d", n)
	assert.Equal(t, 2+maxStringLength+1, h.BodyLen)
	back, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, p, back)

	over := &Publish{Topic: longest + "t"}
	_, err = over.Encode()
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok, "want *Error, got %T", err)
	assert.Equal(t, TypePublish, e.Frame)
	assert.Equal(t, "encode", e.Op)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		hex      string
		errShort bool
	}{
		{"empty", "", true},
		{"header-only", "30", true},
		{"varint-overflow", "30ffffffff", false},
		{"body-truncated", "300c00046761", true},
		{"unknown-type", "4000", false},
		{"publish/qos", "320700026761742d31", false},
		{"publish/empty-topic", "30020000", false},
		{"publish/topic-over-body", "3004000a6761", false},
		{"connack/truncated", "20020000", false},
		{"connack/props-over-body", "200300000a", false},
		{"connect/bad-proto", "101100044d515454ff02001e000004676b2d31", false},
		{"subscribe/trailing", "820b00070000046761746500ff", false},
		{"pingresp/body", "d00100", false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			pkt, err := Decode(helpers.MustHex(c.hex))
			require.Error(t, err)
			assert.Nil(t, pkt)
			if c.errShort {
				assert.Equal(t, ErrShort, err)
			} else {
				assert.NotEqual(t, ErrShort, err)
			}
		})
	}
}

func TestFixedHeader(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		hex     string
		bodyLen int
		header  int
	}{
		{"zero", "c000", 0, 2},
		{"one-byte-max", "307f", 127, 2},
		{"two-bytes", "308001", 128, 3},
		{"three-bytes", "30ffff7f", 2097151, 4},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			h, n, err := FixedHeader(helpers.MustHex(c.hex))
			require.NoError(t, err)
			assert.Equal(t, c.bodyLen, h.BodyLen)
			assert.Equal(t, c.header, n)
		})
	}

	t.Run("incomplete-varint", func(t *testing.T) {
		_, _, err := FixedHeader(helpers.MustHex("3080"))
		assert.Equal(t, ErrShort, err)
	})
	t.Run("max", func(t *testing.T) {
		h, n, err := FixedHeader(helpers.MustHex("30ffffff7f"))
		require.NoError(t, err)
		assert.Equal(t, MaxRemainingLength, h.BodyLen)
		assert.Equal(t, 5, n)
	})
	t.Run("flags-preserved", func(t *testing.T) {
		h, _, err := FixedHeader(helpers.MustHex("3d00"))
		require.NoError(t, err)
		assert.Equal(t, TypePublish, h.Type)
		assert.EqualValues(t, 0x0d, h.Flags)
	})
}

func TestDecodeNeverPanics(t *testing.T) {
	t.Parallel()

	// a pile of byte garbage must produce errors, not panics
	seeds := []string{
		"00", "ff", "1000", "10ff", "3f05ffffffffff",
		"820400070000", "a00200ff", "e0020000", "900300ff00",
		"101400044d5154540502001e000004676b2d31ffff",
	}
	for _, s := range seeds {
		b := helpers.MustHex(s)
		for cut := 0; cut <= len(b); cut++ {
			_, _ = Decode(b[:cut])
		}
	}

	rnd := helpers.RandUnix()
	buf := make([]byte, 64)
	for i := 0; i < 1000; i++ {
		n := rnd.Intn(len(buf))
		rnd.Read(buf[:n])
		_, _ = Decode(buf[:n])
	}
}
