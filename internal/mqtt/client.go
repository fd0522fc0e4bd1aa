// Package mqtt is a deliberately small broker client for the gate relay:
// QoS 0 publishes, exact-topic subscriptions, keep-alive pings and
// capped exponential reconnect. It speaks the narrowed dialect of
// internal/packet and nothing more.
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/gatekeeper/helpers"
	"github.com/temoto/gatekeeper/internal/packet"
	"github.com/temoto/gatekeeper/log2"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultNetworkTimeout = 5 * time.Second
	DefaultKeepAlive      = 60 * time.Second
	DefaultReconnectDelay = 1 * time.Second
	DefaultReconnectMax   = 5
)

var (
	ErrClosed           = errors.New("mqtt client is closed")
	ErrBrokerDisconnect = errors.New("mqtt broker requested disconnect")
)

type State uint32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return fmt.Sprintf("mqtt.State(%d)", uint32(s))
}

// MessageFunc handles inbound publishes. Called on the reader goroutine,
// one frame at a time, in arrival order. Keep it quick.
type MessageFunc func(topic string, payload []byte)

type Options struct {
	Log *log2.Log

	Host      string
	Port      int
	Secure    bool
	WebSocket bool
	WSPath    string
	TLS       *tls.Config

	Username string
	Password string // secret

	KeepAlive      time.Duration // 0 means default, negative disables pings
	ConnectTimeout time.Duration
	NetworkTimeout time.Duration
	ReconnectDelay time.Duration
	ReconnectMax   int
	ReadLimit      int

	// OnState fires on every transition, under the client lock.
	// Must return quickly and must not call back into Client.
	OnState func(State)
}

func (o *Options) normalize() error {
	if o.Host == "" {
		return errors.NotValidf("mqtt config: empty host")
	}
	if o.Port <= 0 || o.Port > 65535 {
		return errors.NotValidf("mqtt config: port=%d", o.Port)
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.NetworkTimeout == 0 {
		o.NetworkTimeout = DefaultNetworkTimeout
	}
	if o.KeepAlive == 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.ReconnectMax == 0 {
		o.ReconnectMax = DefaultReconnectMax
	}
	if o.ReadLimit == 0 {
		o.ReadLimit = DefaultReadLimit
	}
	if o.WSPath == "" {
		o.WSPath = "/mqtt"
	}
	return nil
}

func (o *Options) addr() string { return net.JoinHostPort(o.Host, strconv.Itoa(o.Port)) }

// significantChange tells whether switching to n needs a new socket and
// a new client identity. Credential-only edits keep both.
func (o *Options) significantChange(n *Options) bool {
	return o.Host != n.Host || o.Port != n.Port || o.Secure != n.Secure ||
		o.WebSocket != n.WebSocket || o.WSPath != n.WSPath
}

type Client struct {
	mu    sync.Mutex
	alive *alive.Alive
	log   *log2.Log
	opt   Options

	clientID     string
	state        uint32 // atomic State
	current      *conn
	connecting   *connectAttempt
	subs         map[string]MessageFunc
	backoff      helpers.Backoff
	stat         SessionStat
	reconnecting int32  // atomic flag, one retry loop at a time
	lastPktID    uint32 // atomic
}

// connectAttempt shares one handshake outcome between concurrent callers.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// NewClient validates options and prepares state. No network IO here;
// the first Connect or Publish opens the socket.
func NewClient(opt Options) (*Client, error) {
	if err := opt.normalize(); err != nil {
		return nil, errors.Trace(err)
	}
	c := &Client{
		alive:    alive.NewAlive(),
		log:      opt.Log,
		opt:      opt,
		clientID: newClientID(),
		subs:     make(map[string]MessageFunc),
		backoff:  helpers.Backoff{Min: opt.ReconnectDelay, Max: 32 * opt.ReconnectDelay, K: 2},
	}
	return c, nil
}

func newClientID() string { return "gatekeeper-" + uuid.NewString() }

func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Client) State() State { return State(atomic.LoadUint32(&c.state)) }

// Stat counters accumulate over the client lifetime, across reconnects.
func (c *Client) Stat() *SessionStat { return &c.stat }

// setState must run under c.mu so observers see transitions in order.
func (c *Client) setState(new State) {
	old := State(atomic.SwapUint32(&c.state, uint32(new)))
	if old == new {
		return
	}
	if c.log.Enabled(log2.LDebug) {
		c.log.Debugf("mqtt state %s -> %s", old.String(), new.String())
	}
	if c.opt.OnState != nil {
		c.opt.OnState(new)
	}
}

// Connect opens the socket and completes the CONNECT/CONNACK handshake.
// Concurrent callers share a single attempt and observe its outcome.
// Calling while connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.alive.IsRunning() {
		c.mu.Unlock()
		return ErrClosed
	}
	if cn := c.current; cn != nil && !cn.closed() {
		c.mu.Unlock()
		return nil
	}
	if a := c.connecting; a != nil {
		c.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}
	a := &connectAttempt{done: make(chan struct{})}
	c.connecting = a
	opt := c.opt
	id := c.clientID
	c.setState(StateConnecting)
	c.mu.Unlock()

	cn, err := c.handshake(ctx, &opt, id)

	c.mu.Lock()
	c.connecting = nil
	if err == nil && c.clientID != id {
		// config changed under our feet, this socket has a stale identity
		cn.die(ErrConnClosed)
		err = errors.Errorf("mqtt config changed during connect")
	}
	if err == nil && !c.alive.Add(2) {
		cn.die(ErrClosed)
		err = ErrClosed
	}
	if err != nil {
		c.setState(StateDisconnected)
		a.err = err
		close(a.done)
		c.mu.Unlock()
		return err
	}
	c.current = cn
	c.setState(StateConnected)
	c.backoff.Reset()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	go c.reader(cn)
	go c.pinger(cn)
	close(a.done)
	c.mu.Unlock()

	c.log.Infof("mqtt connected addr=%s client=%s", opt.addr(), id)
	for _, t := range topics {
		if err := c.sendSubscribe(cn, t); err != nil {
			c.log.Errorf("mqtt resubscribe topic=%s error=%s", t, err.Error())
			break
		}
	}
	return nil
}

func (c *Client) handshake(ctx context.Context, opt *Options, clientID string) (*conn, error) {
	if opt.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.ConnectTimeout)
		defer cancel()
	}
	netConn, err := dial(ctx, opt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cn := newConn(netConn, c.log, opt.ReadLimit, &c.stat)
	keepAlive := uint16(0)
	if opt.KeepAlive > 0 {
		keepAlive = uint16(opt.KeepAlive / time.Second)
	}
	req := &packet.Connect{
		ClientID:   clientID,
		Username:   opt.Username,
		Password:   opt.Password,
		KeepAlive:  keepAlive,
		CleanStart: true,
	}
	if err := cn.send(req, opt.ConnectTimeout); err != nil {
		cn.die(err)
		return nil, errors.Annotate(err, "mqtt handshake")
	}
	p, err := cn.receive(opt.ConnectTimeout)
	if err != nil {
		// during handshake even droppable decode errors are fatal
		cn.die(err)
		return nil, errors.Annotate(err, "mqtt handshake")
	}
	ack, ok := p.(*packet.Connack)
	if !ok {
		err := errors.Errorf("mqtt handshake: want CONNACK got %s", p.String())
		cn.die(err)
		return nil, err
	}
	if !ack.OK() {
		err := errors.Errorf("mqtt broker rejected connect: reason=0x%02x", ack.ReasonCode)
		cn.die(err)
		return nil, err
	}
	return cn, nil
}

func (c *Client) reader(cn *conn) {
	defer c.alive.Done()
	for {
		p, err := cn.receive(0)
		if err != nil {
			if packet.IsDecodeError(err) {
				c.log.Errorf("mqtt drop frame error=%s", err.Error())
				continue
			}
			c.connLost(cn, err)
			return
		}
		c.dispatch(cn, p)
	}
}

// dispatch runs on the reader goroutine, so handlers see frames in
// arrival order with no overlap.
func (c *Client) dispatch(cn *conn, p packet.Generic) {
	switch p := p.(type) {
	case *packet.Publish:
		c.mu.Lock()
		fun := c.subs[p.Topic]
		c.mu.Unlock()
		if fun == nil {
			c.log.Debugf("mqtt no handler topic=%s", p.Topic)
			return
		}
		fun(p.Topic, p.Payload)
	case *packet.Suback:
		if !p.OK() {
			c.log.Errorf("mqtt subscribe rejected %s", p.String())
		}
	case *packet.Unsuback:
	case *packet.Pingresp:
	case *packet.Disconnect:
		c.log.Infof("mqtt broker disconnect %s", p.String())
		cn.die(ErrBrokerDisconnect)
	case *packet.Connack:
		cn.die(errors.Errorf("mqtt unexpected %s", p.String()))
	default:
		c.log.Debugf("mqtt ignore %s", p.String())
	}
}

func (c *Client) connLost(cn *conn, err error) {
	c.mu.Lock()
	if c.current != cn {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.setState(StateDisconnected)
	stopping := !c.alive.IsRunning()
	c.mu.Unlock()

	c.log.Infof("mqtt connection lost addr=%s idle=%s error=%s",
		cn.addrString(), cn.sinceLastRecv().Round(time.Millisecond).String(), err.Error())
	if stopping || errors.Cause(err) == ErrBrokerDisconnect {
		// clean shutdown from either side, nothing to repair
		return
	}
	if atomic.CompareAndSwapInt32(&c.reconnecting, 0, 1) {
		if c.alive.Add(1) {
			go c.reconnect()
		} else {
			atomic.StoreInt32(&c.reconnecting, 0)
		}
	}
}

// reconnect retries with exponential delay until success or the attempt
// budget runs out; then it goes quiet until an explicit Connect or a
// config update.
func (c *Client) reconnect() {
	defer c.alive.Done()
	defer atomic.StoreInt32(&c.reconnecting, 0)
	c.mu.Lock()
	max := c.opt.ReconnectMax
	c.mu.Unlock()
	for attempt := 1; attempt <= max; attempt++ {
		if !c.sleep(c.backoff.Delay(attempt)) {
			return
		}
		err := c.Connect(context.Background())
		if err == nil {
			c.log.Infof("mqtt reconnected attempt=%d", attempt)
			return
		}
		if errors.Cause(err) == ErrClosed {
			return
		}
		c.log.Errorf("mqtt reconnect attempt=%d/%d error=%s", attempt, max, err.Error())
	}
	c.log.Errorf("mqtt reconnect gave up attempts=%d", max)
}

func (c *Client) sleep(d time.Duration) bool {
	if d <= 0 {
		return c.alive.IsRunning()
	}
	select {
	case <-time.After(d):
		return true
	case <-c.alive.StopChan():
		return false
	}
}

func (c *Client) pinger(cn *conn) {
	defer c.alive.Done()
	c.mu.Lock()
	interval := c.opt.KeepAlive
	timeout := c.opt.NetworkTimeout
	c.mu.Unlock()
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-time.After(interval):
		case <-cn.closedCh:
			return
		case <-c.alive.StopChan():
			return
		}
		if err := cn.send(&packet.Pingreq{}, timeout); err != nil {
			// send has killed the socket, reader drives the reconnect
			return
		}
	}
}

// Publish sends one QoS 0 frame, connecting first if needed.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	cn, err := c.conn(ctx)
	if err != nil {
		return errors.Annotate(err, "mqtt publish")
	}
	err = cn.send(&packet.Publish{Topic: topic, Payload: payload}, c.networkTimeout())
	return errors.Annotatef(err, "mqtt publish topic=%s", topic)
}

func (c *Client) conn(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	cn := c.current
	c.mu.Unlock()
	if cn != nil && !cn.closed() {
		return cn, nil
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	cn = c.current
	c.mu.Unlock()
	if cn == nil || cn.closed() {
		return nil, errors.Errorf("mqtt connection lost right after connect")
	}
	return cn, nil
}

func (c *Client) networkTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opt.NetworkTimeout
}

// Subscribe registers fun for an exact topic and pushes the filter to
// the broker when connected. Registration survives reconnects: it is
// replayed on every fresh socket. Last registration per topic wins.
func (c *Client) Subscribe(topic string, fun MessageFunc) error {
	if topic == "" || fun == nil {
		return errors.NotValidf("mqtt subscribe topic=%q", topic)
	}
	c.mu.Lock()
	c.subs[topic] = fun
	cn := c.current
	c.mu.Unlock()
	if cn == nil || cn.closed() {
		return nil
	}
	return errors.Trace(c.sendSubscribe(cn, topic))
}

func (c *Client) sendSubscribe(cn *conn, topic string) error {
	p := &packet.Subscribe{PacketID: c.nextPacketID(), Topic: topic}
	return cn.send(p, c.networkTimeout())
}

func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	_, known := c.subs[topic]
	delete(c.subs, topic)
	cn := c.current
	c.mu.Unlock()
	if !known || cn == nil || cn.closed() {
		return nil
	}
	p := &packet.Unsubscribe{PacketID: c.nextPacketID(), Topic: topic}
	return errors.Trace(cn.send(p, c.networkTimeout()))
}

func (c *Client) nextPacketID() uint16 {
	for {
		if id := uint16(atomic.AddUint32(&c.lastPktID, 1)); id != 0 {
			return id
		}
	}
}

// Disconnect says goodbye with a DISCONNECT frame, closes the socket and
// forgets subscriptions. The client may Connect again later.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cn := c.current
	c.current = nil
	c.subs = make(map[string]MessageFunc)
	if cn != nil {
		c.setState(StateDisconnecting)
	}
	c.mu.Unlock()
	if cn != nil {
		_ = cn.send(&packet.Disconnect{}, time.Second)
		cn.die(ErrConnClosed)
	}
	c.mu.Lock()
	c.setState(StateDisconnected)
	c.mu.Unlock()
}

// Abort drops the socket without the goodbye and keeps subscription
// registrations for the next connect.
func (c *Client) Abort() {
	c.mu.Lock()
	cn := c.current
	c.current = nil
	c.setState(StateDisconnected)
	c.mu.Unlock()
	if cn != nil {
		cn.die(ErrConnClosed)
	}
}

// UpdateConfig applies new settings wholesale. Host/port/scheme changes
// kill the socket and mint a fresh client identity, then reconnect;
// credential-only changes keep both socket and identity.
func (c *Client) UpdateConfig(ctx context.Context, new Options) error {
	if err := new.normalize(); err != nil {
		return errors.Trace(err)
	}
	c.mu.Lock()
	new.Log = c.opt.Log
	new.OnState = c.opt.OnState
	significant := c.opt.significantChange(&new)
	wasConnected := c.State() == StateConnected || c.connecting != nil
	c.opt = new
	if !significant {
		c.mu.Unlock()
		return nil
	}
	cn := c.current
	c.current = nil
	c.clientID = newClientID()
	c.backoff.Reset()
	if cn != nil {
		c.setState(StateDisconnecting)
	}
	c.mu.Unlock()
	if cn != nil {
		cn.die(ErrConnClosed)
	}
	c.mu.Lock()
	c.setState(StateDisconnected)
	c.mu.Unlock()
	if !wasConnected {
		return nil
	}
	return errors.Annotate(c.Connect(ctx), "mqtt reconnect after config update")
}

// Close is final: disconnect plus stop and wait for client goroutines.
func (c *Client) Close() error {
	c.alive.Stop()
	c.Disconnect()
	c.alive.Wait()
	return nil
}
