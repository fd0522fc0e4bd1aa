package mqtt

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gatekeeper/internal/packet"
	"github.com/temoto/gatekeeper/log2"
)

func TestDialWebSocket(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	up := websocket.Upgrader{Subprotocols: []string{"mqtt"}}
	done := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/mqtt", func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		ws, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		assert.Equal(t, "mqtt", ws.Subprotocol())
		cn := newConn(newWSConn(ws), log, 0, nil)
		p, err := cn.receive(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, packet.TypeConnect, p.Type())
		require.NoError(t, cn.send(&packet.Connack{}, 2*time.Second))
		p, err = cn.receive(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, packet.TypeDisconnect, p.Type())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cli, err := NewClient(Options{
		Log:       log,
		Host:      host,
		Port:      port,
		WebSocket: true,
		KeepAlive: -1,
	})
	require.NoError(t, err)
	require.NoError(t, cli.Connect(context.Background()))
	assert.Equal(t, StateConnected, cli.State())
	require.NoError(t, cli.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ws handler did not finish")
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		opt    Options
		expect string
	}{
		{"empty-host", Options{Port: 1883}, "empty host"},
		{"zero-port", Options{Host: "broker.local"}, "port=0"},
		{"big-port", Options{Host: "broker.local", Port: 70000}, "port=70000"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			_, err := NewClient(c.opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.expect)
			assert.Contains(t, err.Error(), "config")
		})
	}
}

func TestSignificantChange(t *testing.T) {
	t.Parallel()

	base := Options{Host: "broker.local", Port: 8081, Secure: true}
	require.NoError(t, base.normalize())

	same := base
	same.Username = "u2"
	same.Password = "p2"
	assert.False(t, base.significantChange(&same))

	for name, mut := range map[string]func(*Options){
		"host":      func(o *Options) { o.Host = "other.local" },
		"port":      func(o *Options) { o.Port = 1883 },
		"secure":    func(o *Options) { o.Secure = false },
		"websocket": func(o *Options) { o.WebSocket = true },
	} {
		changed := base
		mut(&changed)
		assert.True(t, base.significantChange(&changed), "field=%s", name)
	}
}
