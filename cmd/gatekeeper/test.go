package main

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/internal/gate"
	"github.com/temoto/gatekeeper/log2"
)

var modTest = Mod{Name: "test", Main: testMain}

func testMain(ctx context.Context, cfg *config.Config, log *log2.Log) error {
	g, err := gate.New(*cfg, gate.Options{Log: log})
	if err != nil {
		return errors.Trace(err)
	}
	defer g.Close()

	rs := g.TestAll(ctx)
	if len(rs) == 0 {
		return errors.NotValidf("config: no transports enabled")
	}
	failed := 0
	for _, r := range rs {
		fmt.Println(r.String())
		if !r.OK() {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("%d/%d transports failed", failed, len(rs))
	}
	return nil
}
