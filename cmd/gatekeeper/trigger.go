package main

import (
	"context"
	"flag"

	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/internal/gate"
	"github.com/temoto/gatekeeper/log2"
)

var flagID = flag.String("id", "", "trigger correlation id, default random")

var modTrigger = Mod{Name: "trigger", Main: triggerMain}

// Exit codes: 0 delivered, 1 failed, 2 queued for later.
func triggerMain(ctx context.Context, cfg *config.Config, log *log2.Log) error {
	g, err := gate.New(*cfg, gate.Options{Log: log, Events: logEvents(log)})
	if err != nil {
		return errors.Trace(err)
	}
	defer g.Close()

	return g.Trigger(ctx, *flagID)
}
