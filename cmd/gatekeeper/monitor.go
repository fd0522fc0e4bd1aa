package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/internal/gate"
	"github.com/temoto/gatekeeper/log2"
)

var modMonitor = Mod{Name: "monitor", Main: monitorMain}

// monitorMain stays connected, logs every trigger observed on the broker
// topic and drains the offline queue. Intended to run under systemd.
func monitorMain(ctx context.Context, cfg *config.Config, log *log2.Log) error {
	g, err := gate.New(*cfg, gate.Options{Log: log, Events: logEvents(log)})
	if err != nil {
		return errors.Trace(err)
	}
	defer g.Close()

	if ba := g.Broker(); ba != nil {
		if err := ba.TestConnection(ctx); err != nil {
			// systemd restart policy owns the retry
			return errors.Annotate(err, "monitor broker connect")
		}
		err := ba.Watch(func(topic string, payload []byte) {
			log.Infof("observed trigger topic=%s id=%s", topic, string(payload))
		})
		if err != nil {
			return errors.Annotate(err, "monitor subscribe")
		}
	}

	sdnotify(daemon.SdNotifyReady)
	log.Infof("monitor running target=%s", g.Target())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infof("monitor stop signal=%s", sig.String())
	case <-ctx.Done():
	}
	sdnotify(daemon.SdNotifyStopping)
	if ba := g.Broker(); ba != nil {
		log.Infof("monitor session %s", ba.Stat().String())
	}
	return nil
}
