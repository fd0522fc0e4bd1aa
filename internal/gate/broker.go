package gate

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/internal/mqtt"
	"github.com/temoto/gatekeeper/log2"
)

const brokerAdapterName = "broker"

// BrokerAdapter delivers triggers as QoS 0 publishes through the broker
// session owned by mqtt.Client. The session outlives single triggers:
// connect once, publish cheap.
type BrokerAdapter struct {
	mu     sync.Mutex
	cfg    config.Config
	log    *log2.Log
	client *mqtt.Client
}

func NewBrokerAdapter(cfg config.Config, log *log2.Log, ev *Events) (*BrokerAdapter, error) {
	a := &BrokerAdapter{cfg: cfg, log: log}
	opt := brokerOptions(cfg, log)
	opt.OnState = func(s mqtt.State) { ev.brokerState(s.String()) }
	client, err := mqtt.NewClient(opt)
	if err != nil {
		return nil, errors.Annotate(err, "broker adapter")
	}
	a.client = client
	return a, nil
}

func brokerOptions(cfg config.Config, log *log2.Log) mqtt.Options {
	b := cfg.Broker
	return mqtt.Options{
		Log:            log,
		Host:           b.Host,
		Port:           b.Port,
		Secure:         b.Secure,
		WebSocket:      b.WebSocket,
		WSPath:         b.WSPath,
		Username:       b.Username,
		Password:       b.Password,
		KeepAlive:      b.KeepAlive(),
		ConnectTimeout: b.ConnectTimeout(),
		NetworkTimeout: b.NetworkTimeout(),
		ReconnectDelay: b.ReconnectDelay(),
		ReconnectMax:   b.ReconnectMax,
	}
}

func (a *BrokerAdapter) Name() string { return brokerAdapterName }

func (a *BrokerAdapter) Timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Trigger.Timeout()
}

func (a *BrokerAdapter) Trigger(ctx context.Context, correlationID string) error {
	a.mu.Lock()
	topic := a.cfg.Broker.Topic
	timeout := a.cfg.Trigger.Timeout()
	a.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return a.client.Publish(ctx, topic, []byte(correlationID))
}

// TestConnection establishes the broker session. A session already up
// makes this free.
func (a *BrokerAdapter) TestConnection(ctx context.Context) error {
	return a.client.Connect(ctx)
}

// Watch subscribes to the trigger topic, observing activations from
// every client, this one included.
func (a *BrokerAdapter) Watch(fun mqtt.MessageFunc) error {
	a.mu.Lock()
	topic := a.cfg.Broker.Topic
	a.mu.Unlock()
	return errors.Trace(a.client.Subscribe(topic, fun))
}

func (a *BrokerAdapter) State() mqtt.State { return a.client.State() }

func (a *BrokerAdapter) Stat() *mqtt.SessionStat { return a.client.Stat() }

// Cancel drops the socket without the DISCONNECT goodbye. Subscriptions
// stay registered for the next connect.
func (a *BrokerAdapter) Cancel() { a.client.Abort() }

func (a *BrokerAdapter) UpdateConfig(cfg config.Config) error {
	a.mu.Lock()
	a.cfg = cfg
	log := a.log
	a.mu.Unlock()
	// significant-change policy lives in the client: host/port/scheme
	// changes rebuild the socket, credential edits do not
	return errors.Trace(a.client.UpdateConfig(context.Background(), brokerOptions(cfg, log)))
}

func (a *BrokerAdapter) Close() error { return a.client.Close() }
