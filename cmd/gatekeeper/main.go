package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/internal/gate"
	"github.com/temoto/gatekeeper/log2"
)

// Mod is one subcommand.
type Mod struct {
	Name string
	Main func(ctx context.Context, cfg *config.Config, log *log2.Log) error
}

var modules = []Mod{
	modTrigger,
	modTest,
	modMonitor,
	modConsole,
}

func main() {
	flagConfig := flag.String("config", "gatekeeper.hcl", "path to config file")
	flagDebug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	log := log2.NewStderr(log2.LInfo)
	if *flagDebug {
		log.SetLevel(log2.LDebug)
	}
	if sdnotify("start") {
		// under systemd the journal stamps lines already
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	mod, err := parse(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: gatekeeper [-config=path] [-debug] command\ncommands: %s\n", names())
		log.Fatal(err)
	}

	cfg := config.MustReadConfigFile(*flagConfig, log)
	err = mod.Main(context.Background(), cfg, log)
	switch {
	case err == nil:
	case errors.Cause(err) == gate.ErrQueued:
		log.Infof("%s", err.Error())
		os.Exit(2)
	default:
		log.Fatal(errors.ErrorStack(err))
	}
}

func parse(command string) (*Mod, error) {
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}
	for i := range modules {
		m := &modules[i]
		if command == m.Name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("unknown command='%s'", command)
}

func names() string {
	ns := make([]string, 0, len(modules))
	for i := range modules {
		ns = append(ns, modules[i].Name)
	}
	return strings.Join(ns, ", ")
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sdnotify: ", errors.ErrorStack(err))
		os.Exit(1)
	}
	return ok
}

func logEvents(log *log2.Log) *gate.Events {
	return &gate.Events{
		TriggerStarted: func(id string) {
			log.Debugf("trigger start id=%s", id)
		},
		TriggerEnded: func(id, adapter string, elapsed time.Duration, err *gate.NetworkError) {
			if err == nil {
				log.Infof("trigger ok id=%s adapter=%s elapsed=%s",
					id, adapter, elapsed.Round(time.Millisecond).String())
				return
			}
			log.Errorf("trigger fail id=%s adapter=%s class=%s message=%s suggestion=%s",
				id, adapter, err.Class.String(), err.Message, err.Suggestion)
		},
		Reachability: func(adapter string, r gate.Reach) {
			log.Infof("reachability adapter=%s %s", adapter, r.String())
		},
		BrokerState: func(state string) {
			log.Infof("broker state=%s", state)
		},
	}
}
