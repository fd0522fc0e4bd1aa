package gate

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gatekeeper/helpers"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/log2"
)

func testHTTPAdapter(t testing.TB, cfg config.HTTP, mock *helpers.MockHTTP) *HTTPAdapter {
	a := NewHTTPAdapter(cfg, log2.NewTest(t, log2.LDebug))
	a.SetTransport(mock)
	return a
}

func TestHTTPTriggerOK(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var method, url, corr string
	mock := &helpers.MockHTTP{Fun: func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		method = req.Method
		url = req.URL.String()
		corr = req.Header.Get("X-Correlation-Id")
		mu.Unlock()
		return (&helpers.MockHTTP{Status: 200}).RoundTrip(req)
	}}
	a := testHTTPAdapter(t, config.HTTP{Enable: true, Host: "10.0.0.5", Port: 80}, mock)
	defer a.Close()

	require.NoError(t, a.Trigger(context.Background(), "t-1"))
	mu.Lock()
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "http://10.0.0.5:80/trigger", url)
	assert.Equal(t, "t-1", corr)
	mu.Unlock()
}

func TestHTTPTriggerStatus(t *testing.T) {
	t.Parallel()
	a := testHTTPAdapter(t, config.HTTP{Enable: true, Host: "relay", Port: 80}, &helpers.MockHTTP{Status: 500})
	defer a.Close()

	err := a.Trigger(context.Background(), "t-1")
	require.Error(t, err)
	ne := Classify(Input{Adapter: a.Name(), Op: "trigger", Err: err, Timeout: a.Timeout()})
	assert.Equal(t, ClassServerRejected, ne.Class)
	assert.Contains(t, ne.Message, "500")
}

func TestHTTPTriggerTransportError(t *testing.T) {
	t.Parallel()
	a := testHTTPAdapter(t, config.HTTP{Enable: true, Host: "relay", Port: 80}, &helpers.MockHTTP{Err: io.ErrUnexpectedEOF})
	defer a.Close()

	err := a.Trigger(context.Background(), "t-1")
	require.Error(t, err)
	ne := Classify(Input{Adapter: a.Name(), Op: "trigger", Err: err, Timeout: a.Timeout()})
	assert.Equal(t, ClassNetwork, ne.Class)
}

func TestHTTPTriggerTimeout(t *testing.T) {
	t.Parallel()
	mock := &helpers.MockHTTP{Fun: func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	}}
	a := testHTTPAdapter(t, config.HTTP{Enable: true, Host: "relay", Port: 80, TimeoutMs: 50}, mock)
	defer a.Close()

	begin := time.Now()
	err := a.Trigger(context.Background(), "t-1")
	elapsed := time.Since(begin)
	require.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second)
	ne := Classify(Input{Adapter: a.Name(), Op: "trigger", Err: err, Elapsed: elapsed, Timeout: a.Timeout()})
	assert.Equal(t, ClassTimeout, ne.Class)
}

func TestHTTPCancel(t *testing.T) {
	t.Parallel()
	entered := make(chan struct{})
	mock := &helpers.MockHTTP{Fun: func(req *http.Request) (*http.Response, error) {
		close(entered)
		<-req.Context().Done()
		return nil, req.Context().Err()
	}}
	a := testHTTPAdapter(t, config.HTTP{Enable: true, Host: "relay", Port: 80}, mock)
	defer a.Close()

	result := make(chan error, 1)
	go func() { result <- a.Trigger(context.Background(), "t-1") }()
	<-entered
	a.Cancel()

	select {
	case err := <-result:
		require.Error(t, err)
		ne := Classify(Input{Adapter: a.Name(), Op: "trigger", Err: err, Timeout: a.Timeout()})
		assert.Equal(t, ClassTimeout, ne.Class)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not settle after cancel")
	}
}

func TestHTTPTestConnection(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	a := NewHTTPAdapter(config.HTTP{Enable: true, Host: "127.0.0.1", Port: port, TimeoutMs: 500}, log2.NewTest(t, log2.LDebug))
	defer a.Close()
	require.NoError(t, a.TestConnection(context.Background()))

	require.NoError(t, ln.Close())
	err = a.TestConnection(context.Background())
	require.Error(t, err)
	ne := Classify(Input{Adapter: a.Name(), Op: "test", Err: err, Timeout: a.Timeout()})
	assert.Equal(t, ClassNetwork, ne.Class)
}

func TestHTTPUpdateConfig(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	var urls []string
	mock := &helpers.MockHTTP{Fun: func(req *http.Request) (*http.Response, error) {
		mu.Lock()
		urls = append(urls, req.URL.String())
		mu.Unlock()
		return (&helpers.MockHTTP{}).RoundTrip(req)
	}}
	a := testHTTPAdapter(t, config.HTTP{Enable: true, Host: "10.0.0.5", Port: 80}, mock)
	defer a.Close()

	require.NoError(t, a.Trigger(context.Background(), "t-1"))
	require.NoError(t, a.UpdateConfig(config.Config{HTTP: config.HTTP{Enable: true, Host: "10.0.0.9", Port: 8080}}))
	require.NoError(t, a.Trigger(context.Background(), "t-2"))

	mu.Lock()
	assert.Equal(t, []string{"http://10.0.0.5:80/trigger", "http://10.0.0.9:8080/trigger"}, urls)
	mu.Unlock()
	assert.Equal(t, 2, mock.Calls())
}
