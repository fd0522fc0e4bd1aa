package gate

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/gatekeeper/helpers"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/log2"
)

// Options tune a Gate beyond the transport configuration.
type Options struct {
	Log    *log2.Log
	Events *Events

	// Online reports whether the network looks usable at all. Nil means
	// always online. Offline trigger calls go to the spool when one is
	// configured instead of burning adapter timeouts.
	Online func() bool
}

// Gate sequences the configured adapters to deliver one trigger at a
// time. Construct with New, stop with Close.
type Gate struct {
	alive  *alive.Alive
	log    *log2.Log
	events *Events
	online func() bool

	busy int32 // atomic, the button lock

	mu       sync.Mutex
	cfg      config.Config
	adapters []Adapter
	broker   *BrokerAdapter
	spool    *Spool
}

func New(cfg config.Config, opt Options) (*Gate, error) {
	g := &Gate{
		alive:  alive.NewAlive(),
		log:    opt.Log,
		events: opt.Events,
		online: opt.Online,
		cfg:    cfg,
	}
	// fixed chain order: cheap direct command first, broker second
	if cfg.HTTP.Enable {
		g.adapters = append(g.adapters, NewHTTPAdapter(cfg.HTTP, g.log))
	}
	if cfg.Broker.Enable {
		ba, err := NewBrokerAdapter(cfg, g.log, g.events)
		if err != nil {
			g.closeAdapters()
			return nil, errors.Trace(err)
		}
		g.broker = ba
		g.adapters = append(g.adapters, ba)
	}
	if cfg.Queue.Enable {
		spool, err := OpenSpool(cfg.Queue, g.log)
		if err != nil {
			g.closeAdapters()
			return nil, errors.Trace(err)
		}
		g.spool = spool
		g.alive.Add(1)
		go g.qworker()
	}
	return g, nil
}

// NewWithAdapters wires a fixed adapter list instead of building one
// from config. Test code mostly.
func NewWithAdapters(opt Options, adapters ...Adapter) *Gate {
	return &Gate{
		alive:    alive.NewAlive(),
		log:      opt.Log,
		events:   opt.Events,
		online:   opt.Online,
		adapters: adapters,
	}
}

// Trigger runs one relay activation through the adapter chain.
// Returns nil on the first adapter success, ErrBusy when another call
// is still in flight, ErrQueued when offline and spooled, or the last
// classified error after exhausting the chain.
func (g *Gate) Trigger(ctx context.Context, correlationID string) error {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	if !atomic.CompareAndSwapInt32(&g.busy, 0, 1) {
		return ErrBusy
	}
	defer atomic.StoreInt32(&g.busy, 0)
	if g.online != nil && !g.online() {
		return g.handOff(correlationID)
	}
	return g.attemptChain(ctx, correlationID)
}

// Busy tells whether a trigger is in flight right now.
func (g *Gate) Busy() bool { return atomic.LoadInt32(&g.busy) == 1 }

// replay is the spool worker's entry: same chain, same button lock, but
// a busy gate defers to the user instead of failing the entry.
func (g *Gate) replay(correlationID string) error {
	if !atomic.CompareAndSwapInt32(&g.busy, 0, 1) {
		return ErrBusy
	}
	defer atomic.StoreInt32(&g.busy, 0)
	return g.attemptChain(context.Background(), correlationID)
}

func (g *Gate) attemptChain(ctx context.Context, id string) error {
	g.mu.Lock()
	adapters := append([]Adapter(nil), g.adapters...)
	probe := g.cfg.Trigger.Probe
	probeTimeout := g.cfg.Trigger.ProbeTimeout()
	g.mu.Unlock()

	g.events.triggerStarted(id)
	if len(adapters) == 0 {
		ne := Classify(Input{Adapter: "gate", Op: "trigger",
			Err: errors.NotValidf("config: no transports enabled")})
		g.events.triggerEnded(id, "", 0, ne)
		return ne
	}

	var last *NetworkError
	for _, ad := range adapters {
		if probe && !g.probe(ctx, ad, probeTimeout) {
			continue
		}
		begin := time.Now()
		ne := g.attempt(ctx, ad, id)
		elapsed := time.Since(begin)
		g.events.triggerEnded(id, ad.Name(), elapsed, ne)
		if ne == nil {
			g.log.Infof("gate triggered id=%s adapter=%s elapsed=%s",
				id, ad.Name(), elapsed.Round(time.Millisecond).String())
			return nil
		}
		g.log.Errorf("gate adapter=%s id=%s class=%s error=%s",
			ad.Name(), id, ne.Class.String(), ne.Message)
		// release the loser's resources before trying the next one
		ad.Cancel()
		last = ne
		if ctx.Err() != nil {
			break
		}
	}
	if last == nil {
		last = Classify(Input{Adapter: "gate", Op: "trigger",
			Err: errors.Errorf("no reachable transport")})
	}
	return last
}

// attempt races one adapter against its own timeout. The select is the
// single source of truth per attempt: whichever of completion, deadline
// or cancellation lands first wins, late signals are discarded.
func (g *Gate) attempt(ctx context.Context, ad Adapter, id string) *NetworkError {
	timeout := ad.Timeout()
	begin := time.Now()
	actx, acancel := context.WithCancel(ctx)
	defer acancel()
	done := make(chan error, 1) // buffered so a late completion does not leak the goroutine
	go func() { done <- ad.Trigger(actx, id) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var raw error
	timedOut := false
	select {
	case raw = <-done:
	case <-timer.C:
		timedOut = true
	case <-ctx.Done():
		raw = ctx.Err()
	}
	elapsed := time.Since(begin)
	if timedOut {
		return Classify(Input{Adapter: ad.Name(), Op: "trigger", Elapsed: timeout, Timeout: timeout})
	}
	if raw == nil {
		return nil
	}
	return Classify(Input{Adapter: ad.Name(), Op: "trigger", Err: raw, Elapsed: elapsed, Timeout: timeout})
}

// probe asks for reachability before spending the full trigger timeout
// on a dead transport. Advisory only: a failed probe skips the adapter
// for this call, it never fails the call by itself.
func (g *Gate) probe(ctx context.Context, ad Adapter, timeout time.Duration) bool {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ad.TestConnection(pctx) }()
	select {
	case err := <-done:
		if err != nil {
			g.log.Infof("gate probe adapter=%s unreachable error=%s", ad.Name(), err.Error())
			g.events.reachability(ad.Name(), ReachDown)
			return false
		}
		g.events.reachability(ad.Name(), ReachOK)
		return true
	case <-pctx.Done():
		ad.Cancel()
		g.log.Infof("gate probe adapter=%s timeout", ad.Name())
		g.events.reachability(ad.Name(), ReachDown)
		return false
	}
}

func (g *Gate) handOff(id string) error {
	g.mu.Lock()
	spool := g.spool
	g.mu.Unlock()
	if spool == nil {
		return Classify(Input{Adapter: "gate", Op: "trigger",
			Err: errors.Errorf("offline, queue disabled")})
	}
	qt := &QueuedTrigger{CorrelationID: id, Target: g.Target(), At: time.Now()}
	if err := spool.Push(qt); err != nil {
		g.log.Errorf("CRITICAL gate spool push id=%s err=%v", id, err)
		return Classify(Input{Adapter: "gate", Op: "queue", Err: err})
	}
	g.log.Infof("gate offline, trigger queued id=%s", id)
	return ErrQueued
}

// Target describes the configured endpoints, for logs and queue entries.
func (g *Gate) Target() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	parts := make([]string, 0, 2)
	if g.cfg.HTTP.Enable {
		parts = append(parts, "http="+net.JoinHostPort(g.cfg.HTTP.Host, strconv.Itoa(g.cfg.HTTP.Port)))
	}
	if g.cfg.Broker.Enable {
		parts = append(parts, "broker="+net.JoinHostPort(g.cfg.Broker.Host, strconv.Itoa(g.cfg.Broker.Port)))
	}
	return strings.Join(parts, " ")
}

// TestAll checks every adapter without activating the relay.
func (g *Gate) TestAll(ctx context.Context) []TestResult {
	g.mu.Lock()
	adapters := append([]Adapter(nil), g.adapters...)
	g.mu.Unlock()
	rs := make([]TestResult, 0, len(adapters))
	for _, ad := range adapters {
		begin := time.Now()
		err := ad.TestConnection(ctx)
		elapsed := time.Since(begin)
		r := TestResult{Adapter: ad.Name(), Elapsed: elapsed}
		if err != nil {
			r.Err = Classify(Input{Adapter: ad.Name(), Op: "test", Err: err,
				Elapsed: elapsed, Timeout: ad.Timeout()})
			g.events.reachability(ad.Name(), ReachDown)
		} else {
			g.events.reachability(ad.Name(), ReachOK)
		}
		rs = append(rs, r)
	}
	return rs
}

// Cancel aborts whatever attempt is in flight right now. Idle adapters
// treat it as a no-op.
func (g *Gate) Cancel() {
	g.mu.Lock()
	adapters := append([]Adapter(nil), g.adapters...)
	g.mu.Unlock()
	for _, ad := range adapters {
		ad.Cancel()
	}
}

// Broker returns the broker adapter or nil when not configured.
func (g *Gate) Broker() *BrokerAdapter {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.broker
}

// UpdateConfig applies a whole new configuration to every adapter in
// place. Adapters are never recreated: each decides internally whether
// its transport must be rebuilt.
func (g *Gate) UpdateConfig(cfg config.Config) error {
	g.mu.Lock()
	g.cfg = cfg
	adapters := append([]Adapter(nil), g.adapters...)
	g.mu.Unlock()
	errs := make([]error, 0, len(adapters))
	for _, ad := range adapters {
		if err := ad.UpdateConfig(cfg); err != nil {
			errs = append(errs, errors.Annotatef(err, "adapter=%s", ad.Name()))
		}
	}
	return helpers.FoldErrors(errs)
}

func (g *Gate) Close() error {
	g.alive.Stop()
	g.mu.Lock()
	spool := g.spool
	g.mu.Unlock()
	if spool != nil {
		// unblocks the worker's Peek
		_ = spool.Close()
	}
	g.alive.Wait()
	return g.closeAdapters()
}

func (g *Gate) closeAdapters() error {
	g.mu.Lock()
	adapters := g.adapters
	g.adapters = nil
	g.broker = nil
	g.mu.Unlock()
	errs := make([]error, 0, len(adapters))
	for _, ad := range adapters {
		errs = append(errs, ad.Close())
	}
	return helpers.FoldErrors(errs)
}
