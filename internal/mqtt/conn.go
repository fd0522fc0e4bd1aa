package mqtt

import (
	"bufio"
	"expvar"
	"io"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/gatekeeper/helpers"
	"github.com/temoto/gatekeeper/internal/packet"
	"github.com/temoto/gatekeeper/log2"
)

const DefaultReadLimit = 16 << 10

var ErrConnClosed = errors.New("mqtt connection is closed")

// SessionStat counts traffic over the broker session. expvar.Int is
// used as a plain atomic counter, nothing is registered with the
// expvar registry. Byte counters include an estimate of TCP overhead.
type SessionStat struct {
	RecvBytes  expvar.Int
	SendBytes  expvar.Int
	RecvFrames expvar.Int
	SendFrames expvar.Int
}

func (s *SessionStat) String() string {
	return "sent=" + s.SendFrames.String() + "/" + s.SendBytes.String() + "b" +
		" recv=" + s.RecvFrames.String() + "/" + s.RecvBytes.String() + "b"
}

// conn owns one broker socket: framed reads, serialized writes.
// First error wins, kills the socket and sticks for all later calls.
type conn struct {
	err       helpers.AtomicError
	net       net.Conn
	br        *bufio.Reader
	w         io.Writer
	wmu       sync.Mutex
	log       *log2.Log
	stat      *SessionStat
	readLimit int
	closedCh  chan struct{}
	lastRecv  atomic_clock.Clock
	lastSend  atomic_clock.Clock
}

// stat is shared by the client so counters survive reconnects.
func newConn(netConn net.Conn, log *log2.Log, readLimit int, stat *SessionStat) *conn {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	if stat == nil {
		stat = &SessionStat{}
	}
	const tcpOverhead = 40
	return &conn{
		net:       netConn,
		br:        bufio.NewReader(helpers.NewStatReader(netConn, &stat.RecvBytes, tcpOverhead)),
		w:         helpers.NewStatWriter(netConn, &stat.SendBytes, tcpOverhead),
		log:       log,
		stat:      stat,
		readLimit: readLimit,
		closedCh:  make(chan struct{}),
	}
}

func (c *conn) die(e error) error {
	err, found := c.err.StoreOnce(e)
	if !found {
		err = e
		close(c.closedCh)
		_ = c.net.Close()
		c.log.Debugf("mqtt conn die addr=%s error=%s", c.addrString(), e.Error())
	}
	return err
}

func (c *conn) closed() bool {
	_, set := c.err.Load()
	return set
}

func (c *conn) addrString() string {
	if a := c.net.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (c *conn) send(p packet.Generic, timeout time.Duration) error {
	b, err := p.Encode()
	if err != nil {
		// encode trouble is the frame's fault, socket stays alive
		return errors.Trace(err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if e, set := c.err.Load(); set {
		return e
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.net.SetWriteDeadline(deadline); err != nil {
		return c.die(errors.Trace(err))
	}
	if err := helpers.WriteAll(c.w, b); err != nil {
		return c.die(errors.Annotatef(err, "send %s", p.Type().String()))
	}
	c.lastSend.SetNow()
	c.stat.SendFrames.Add(1)
	if c.log.Enabled(log2.LDebug) {
		c.log.Debugf("mqtt send %s", p.String())
	}
	return nil
}

// receive returns the next frame. A droppable decode error
// (packet.IsDecodeError) leaves the stream framed and usable;
// any other error has already killed the connection.
func (c *conn) receive(timeout time.Duration) (packet.Generic, error) {
	if e, set := c.err.Load(); set {
		return nil, e
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.net.SetReadDeadline(deadline); err != nil {
		return nil, c.die(errors.Trace(err))
	}
	h, err := c.readHeader()
	if err != nil {
		return nil, c.die(err)
	}
	if h.BodyLen > c.readLimit {
		return nil, c.die(errors.Errorf("frame %s length=%d over read limit=%d",
			h.Type.String(), h.BodyLen, c.readLimit))
	}
	var body []byte
	if h.BodyLen > 0 {
		body = make([]byte, h.BodyLen)
		if _, err := io.ReadFull(c.br, body); err != nil {
			return nil, c.die(errors.Trace(err))
		}
	}
	c.lastRecv.SetNow()
	p, err := packet.DecodeBody(h, body)
	if err != nil {
		return nil, err
	}
	c.stat.RecvFrames.Add(1)
	if c.log.Enabled(log2.LDebug) {
		c.log.Debugf("mqtt recv %s", p.String())
	}
	return p, nil
}

func (c *conn) readHeader() (packet.Header, error) {
	// smallest frame is 2 bytes, remaining length varint adds up to 3 more
	for peek := 2; peek <= 5; peek++ {
		b, err := c.br.Peek(peek)
		if err != nil {
			return packet.Header{}, errors.Trace(err)
		}
		h, n, err := packet.FixedHeader(b)
		if err == packet.ErrShort {
			continue
		}
		if err != nil {
			return packet.Header{}, errors.Trace(err)
		}
		if _, err := c.br.Discard(n); err != nil {
			return packet.Header{}, errors.Trace(err)
		}
		return h, nil
	}
	return packet.Header{}, errors.Errorf("frame header does not fit 5 bytes")
}

func (c *conn) sinceLastRecv() time.Duration { return atomic_clock.Since(&c.lastRecv) }
