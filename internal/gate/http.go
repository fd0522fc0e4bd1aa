package gate

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/log2"
)

const httpAdapterName = "http"

type statusError struct{ code int }

func (e statusError) Error() string {
	return fmt.Sprintf("server answered status %d %s", e.code, http.StatusText(e.code))
}

// HTTPAdapter posts the trigger straight to the relay firmware. It is
// stateless between calls, so config updates never rebuild anything.
type HTTPAdapter struct {
	mu     sync.Mutex
	cfg    config.HTTP
	log    *log2.Log
	client *http.Client
	cancel context.CancelFunc
}

func NewHTTPAdapter(cfg config.HTTP, log *log2.Log) *HTTPAdapter {
	return &HTTPAdapter{
		cfg:    cfg,
		log:    log,
		client: &http.Client{},
	}
}

// SetTransport replaces the HTTP transport. Tests install
// helpers.MockHTTP here.
func (a *HTTPAdapter) SetTransport(rt http.RoundTripper) { a.client.Transport = rt }

func (a *HTTPAdapter) Name() string { return httpAdapterName }

func (a *HTTPAdapter) Timeout() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg.Timeout()
}

func (a *HTTPAdapter) Trigger(ctx context.Context, correlationID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.Timeout())
	a.mu.Lock()
	a.cancel = cancel
	url := fmt.Sprintf("http://%s/trigger", net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port)))
	a.mu.Unlock()
	defer func() {
		cancel()
		a.mu.Lock()
		a.cancel = nil
		a.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return errors.Annotate(err, "http request")
	}
	req.Header.Set("X-Correlation-Id", correlationID)
	a.log.Debugf("http trigger POST %s id=%s", url, correlationID)

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.Annotate(err, "http trigger")
	}
	defer resp.Body.Close()
	// response body is ignored, only the status matters
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError{code: resp.StatusCode}
	}
	return nil
}

// TestConnection dials the relay TCP port and hangs up. A POST would
// fire the relay, so reachability stays at the transport level.
func (a *HTTPAdapter) TestConnection(ctx context.Context) error {
	a.mu.Lock()
	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
	timeout := a.cfg.Timeout()
	a.mu.Unlock()

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Annotate(err, "http probe")
	}
	_ = conn.Close()
	return nil
}

func (a *HTTPAdapter) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *HTTPAdapter) UpdateConfig(cfg config.Config) error {
	a.mu.Lock()
	a.cfg = cfg.HTTP
	a.mu.Unlock()
	return nil
}

func (a *HTTPAdapter) Close() error {
	a.Cancel()
	a.client.CloseIdleConnections()
	return nil
}
