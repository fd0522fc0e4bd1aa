// Package config holds the gatekeeper runtime configuration: which
// transports are on, where they point and how long to wait for them.
// One HCL file, supplied wholesale on updates.
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/helpers"
	"github.com/temoto/gatekeeper/log2"
)

const (
	DefaultHTTPTimeout    = 5 * time.Second
	DefaultTriggerTimeout = 10 * time.Second
	DefaultProbeTimeout   = 1500 * time.Millisecond
	DefaultTopic          = "gate/trigger"

	// Queued triggers older than this open the gate for nobody.
	DefaultQueueMaxAge = 10 * time.Minute
)

type Config struct {
	HTTP    HTTP    `hcl:"http"`
	Broker  Broker  `hcl:"broker"`
	Trigger Trigger `hcl:"trigger"`
	Queue   Queue   `hcl:"queue"`
}

// HTTP is the direct command channel, a plain POST to the relay firmware.
type HTTP struct {
	Enable    bool   `hcl:"enable"`
	Host      string `hcl:"host"`
	Port      int    `hcl:"port"`
	TimeoutMs int    `hcl:"timeout_ms"`
}

func (c *HTTP) Timeout() time.Duration {
	return helpers.IntMillisecondDefault(c.TimeoutMs, DefaultHTTPTimeout)
}

type Broker struct {
	Enable           bool   `hcl:"enable"`
	Host             string `hcl:"host"`
	Port             int    `hcl:"port"`
	Secure           bool   `hcl:"secure"`
	WebSocket        bool   `hcl:"websocket"`
	WSPath           string `hcl:"ws_path"`
	Username         string `hcl:"username"`
	Password         string `hcl:"password"` // secret
	Topic            string `hcl:"topic"`
	KeepaliveSec     int    `hcl:"keepalive_sec"`
	ConnectTimeoutMs int    `hcl:"connect_timeout_ms"`
	NetworkTimeoutMs int    `hcl:"network_timeout_ms"`
	ReconnectDelayMs int    `hcl:"reconnect_delay_ms"`
	ReconnectMax     int    `hcl:"reconnect_max"`
}

func (c *Broker) KeepAlive() time.Duration {
	return helpers.IntSecondDefault(c.KeepaliveSec, 0)
}
func (c *Broker) ConnectTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.ConnectTimeoutMs, 0)
}
func (c *Broker) NetworkTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.NetworkTimeoutMs, 0)
}
func (c *Broker) ReconnectDelay() time.Duration {
	return helpers.IntMillisecondDefault(c.ReconnectDelayMs, 0)
}

type Trigger struct {
	TimeoutMs      int  `hcl:"timeout_ms"`
	Probe          bool `hcl:"probe"`
	ProbeTimeoutMs int  `hcl:"probe_timeout_ms"`
}

func (c *Trigger) Timeout() time.Duration {
	return helpers.IntMillisecondDefault(c.TimeoutMs, DefaultTriggerTimeout)
}
func (c *Trigger) ProbeTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.ProbeTimeoutMs, DefaultProbeTimeout)
}

// Queue is the offline spool: triggers fired without connectivity wait
// on disk and replay when the network returns.
type Queue struct {
	Enable    bool   `hcl:"enable"`
	Path      string `hcl:"path"`
	MaxAgeSec int    `hcl:"max_age_sec"`
}

func (c *Queue) MaxAge() time.Duration {
	return helpers.IntSecondDefault(c.MaxAgeSec, DefaultQueueMaxAge)
}

func (c *Config) Normalize() {
	if c.Broker.Topic == "" {
		c.Broker.Topic = DefaultTopic
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Enable {
		if c.HTTP.Host == "" {
			return errors.NotValidf("config: http.host is empty")
		}
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			return errors.NotValidf("config: http.port=%d", c.HTTP.Port)
		}
	}
	if c.Broker.Enable {
		if c.Broker.Host == "" {
			return errors.NotValidf("config: broker.host is empty")
		}
		if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
			return errors.NotValidf("config: broker.port=%d", c.Broker.Port)
		}
	}
	if c.Queue.Enable && c.Queue.Path == "" {
		return errors.NotValidf("config: queue.path is empty")
	}
	return nil
}

func ReadConfig(r io.Reader, log *log2.Log) (*Config, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c := new(Config)
	if err = hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Annotate(err, "config: parse")
	}
	c.Normalize()
	if err = c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	log.Debugf("config: http=%t broker=%t probe=%t queue=%t",
		c.HTTP.Enable, c.Broker.Enable, c.Trigger.Probe, c.Queue.Enable)
	return c, nil
}

func ReadConfigFile(path string, log *log2.Log) (*Config, error) {
	if pathAbs, err := filepath.Abs(path); err != nil {
		log.Errorf("filepath.Abs(%s) error=%v", path, err)
	} else {
		path = pathAbs
	}
	log.Debugf("reading config file %s", path)

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	return ReadConfig(f, log)
}

func MustReadConfig(r io.Reader, log *log2.Log) *Config {
	c, err := ReadConfig(r, log)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func MustReadConfigFile(path string, log *log2.Log) *Config {
	c, err := ReadConfigFile(path, log)
	if err != nil {
		log.Fatal(err)
	}
	return c
}
