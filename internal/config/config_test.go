package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *config.Config)
		expectErr string
	}
	mkCheck := func(fun func(*config.Config) bool) func(testing.TB, *config.Config) {
		return func(t testing.TB, c *config.Config) {
			if !fun(c) {
				t.Errorf("config check failed\nconfig=%#v", c)
			}
		}
	}
	cases := []Case{
		{name: "empty",
			input: "",
			check: mkCheck(func(c *config.Config) bool {
				return !c.HTTP.Enable && !c.Broker.Enable && !c.Queue.Enable
			})},
		{name: "http",
			input: `http { enable = true host = "10.0.0.7" port = 8080 timeout_ms = 300 }`,
			check: mkCheck(func(c *config.Config) bool {
				return c.HTTP.Enable && c.HTTP.Host == "10.0.0.7" &&
					c.HTTP.Port == 8080 && c.HTTP.Timeout() == 300*time.Millisecond
			})},
		{name: "http-timeout-default",
			input: `http { enable = true host = "relay" port = 80 }`,
			check: mkCheck(func(c *config.Config) bool {
				return c.HTTP.Timeout() == config.DefaultHTTPTimeout
			})},
		{name: "broker",
			input: `broker {
  enable = true
  host = "mq.example.com"
  port = 8883
  secure = true
  username = "gate"
  password = "secret"
  keepalive_sec = 30
}`,
			check: mkCheck(func(c *config.Config) bool {
				return c.Broker.Enable && c.Broker.Secure &&
					c.Broker.Username == "gate" && c.Broker.Password == "secret" &&
					c.Broker.KeepAlive() == 30*time.Second &&
					c.Broker.Topic == config.DefaultTopic
			})},
		{name: "broker-websocket",
			input: `broker { enable = true host = "mq" port = 443 websocket = true ws_path = "/ws" topic = "yard/gate" }`,
			check: mkCheck(func(c *config.Config) bool {
				return c.Broker.WebSocket && c.Broker.WSPath == "/ws" && c.Broker.Topic == "yard/gate"
			})},
		{name: "trigger",
			input: `trigger { timeout_ms = 2500 probe = true probe_timeout_ms = 200 }`,
			check: mkCheck(func(c *config.Config) bool {
				return c.Trigger.Timeout() == 2500*time.Millisecond &&
					c.Trigger.Probe && c.Trigger.ProbeTimeout() == 200*time.Millisecond
			})},
		{name: "trigger-defaults",
			input: "",
			check: mkCheck(func(c *config.Config) bool {
				return c.Trigger.Timeout() == config.DefaultTriggerTimeout &&
					c.Trigger.ProbeTimeout() == config.DefaultProbeTimeout
			})},
		{name: "queue",
			input: `queue { enable = true path = "/var/spool/gatekeeper" max_age_sec = 60 }`,
			check: mkCheck(func(c *config.Config) bool {
				return c.Queue.Enable && c.Queue.Path == "/var/spool/gatekeeper" &&
					c.Queue.MaxAge() == time.Minute
			})},
		{name: "queue-max-age-default",
			input: `queue { enable = true path = "q" }`,
			check: mkCheck(func(c *config.Config) bool {
				return c.Queue.MaxAge() == config.DefaultQueueMaxAge
			})},
		{name: "error-http-no-host",
			input:     `http { enable = true port = 80 }`,
			expectErr: "config: http.host is empty"},
		{name: "error-http-port",
			input:     `http { enable = true host = "relay" port = 7777777 }`,
			expectErr: "config: http.port=7777777"},
		{name: "error-broker-no-host",
			input:     `broker { enable = true port = 1883 }`,
			expectErr: "config: broker.host is empty"},
		{name: "error-broker-port",
			input:     `broker { enable = true host = "mq" }`,
			expectErr: "config: broker.port=0"},
		{name: "error-queue-no-path",
			input:     `queue { enable = true }`,
			expectErr: "config: queue.path is empty"},
		{name: "error-syntax",
			input:     `http { enable = `,
			expectErr: "config: parse"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			cfg, err := config.ReadConfig(strings.NewReader(c.input), log)
			if c.expectErr == "" {
				require.NoError(t, err)
				c.check(t, cfg)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.expectErr)
			}
		})
	}
}

func TestReadConfigFile(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)

	_, err := config.ReadConfigFile("/nonexistent/gatekeeper.hcl", log)
	require.Error(t, err)

	path := t.TempDir() + "/gatekeeper.hcl"
	content := `
http {
  enable = true
  host = "127.0.0.1"
  port = 8080
}
broker {
  enable = true
  host = "127.0.0.1"
  port = 1883
  topic = "gate/trigger"
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	cfg, err := config.ReadConfigFile(path, log)
	require.NoError(t, err)
	assert.True(t, cfg.HTTP.Enable)
	assert.True(t, cfg.Broker.Enable)
}
