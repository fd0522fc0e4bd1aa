package mqtt

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

func dial(ctx context.Context, opt *Options) (net.Conn, error) {
	addr := opt.addr()
	if opt.WebSocket {
		return dialWS(ctx, addr, opt)
	}
	d := net.Dialer{Timeout: opt.ConnectTimeout}
	tcpConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "dial tcp %s", addr)
	}
	if !opt.Secure {
		return tcpConn, nil
	}
	tlsConn := tls.Client(tcpConn, opt.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tcpConn.Close()
		return nil, errors.Annotatef(err, "tls handshake %s", addr)
	}
	return tlsConn, nil
}

func dialWS(ctx context.Context, addr string, opt *Options) (net.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: opt.WSPath}
	wd := websocket.Dialer{
		HandshakeTimeout: opt.ConnectTimeout,
		Subprotocols:     []string{"mqtt"},
	}
	if opt.Secure {
		u.Scheme = "wss"
		wd.TLSClientConfig = opt.tlsConfig()
	}
	ws, resp, err := wd.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Annotatef(err, "dial %s status=%s", u.String(), resp.Status)
		}
		return nil, errors.Annotatef(err, "dial %s", u.String())
	}
	return newWSConn(ws), nil
}

func (o *Options) tlsConfig() *tls.Config {
	tc := o.TLS
	if tc == nil {
		tc = &tls.Config{}
	} else {
		tc = tc.Clone()
	}
	if tc.ServerName == "" {
		tc.ServerName = o.Host
	}
	return tc
}

// wsConn adapts a websocket session to net.Conn so the framed
// reader/writer does not care which transport carries the bytes.
// Frames map to binary messages; text and control messages are skipped.
type wsConn struct {
	ws *websocket.Conn
	r  io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn { return &wsConn{ws: ws} }

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.r == nil {
			t, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			if t != websocket.BinaryMessage {
				continue
			}
			c.r = r
		}
		n, err := c.r.Read(p)
		if err == io.EOF {
			c.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error         { return c.ws.Close() }
func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.ws.SetWriteDeadline(t) }
