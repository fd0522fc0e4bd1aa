package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/gatekeeper/helpers/cli"
	"github.com/temoto/gatekeeper/internal/config"
	"github.com/temoto/gatekeeper/internal/gate"
	"github.com/temoto/gatekeeper/log2"
)

var modConsole = Mod{Name: "console", Main: consoleMain}

func consoleMain(ctx context.Context, cfg *config.Config, log *log2.Log) error {
	g, err := gate.New(*cfg, gate.Options{Log: log, Events: logEvents(log)})
	if err != nil {
		return errors.Trace(err)
	}
	defer g.Close()

	log.Infof("console target=%s", g.Target())
	cli.MainLoop("gatekeeper", newExecutor(ctx, g), newCompleter())
	return nil
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := []prompt.Suggest{
		{Text: "t", Description: "trigger the gate, optional id argument"},
		{Text: "test", Description: "check all transports without firing"},
		{Text: "status", Description: "busy flag and broker state"},
		{Text: "q", Description: "quit"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(ctx context.Context, g *gate.Gate) func(string) {
	return func(line string) {
		words := strings.Fields(line)
		if len(words) == 0 {
			return
		}
		switch words[0] {
		case "t", "trigger":
			id := ""
			if len(words) > 1 {
				id = words[1]
			}
			err := g.Trigger(ctx, id)
			switch {
			case err == nil:
				fmt.Println("ok")
			case errors.Cause(err) == gate.ErrQueued:
				fmt.Println("queued")
			default:
				fmt.Println(err.Error())
			}
		case "test":
			for _, r := range g.TestAll(ctx) {
				fmt.Println(r.String())
			}
		case "status":
			fmt.Printf("busy=%t target=%s\n", g.Busy(), g.Target())
			if ba := g.Broker(); ba != nil {
				fmt.Printf("broker=%s %s\n", ba.State().String(), ba.Stat().String())
			}
		case "q", "quit", "exit":
			os.Exit(0)
		default:
			fmt.Printf("unknown command %q, try: t [id], test, status, q\n", words[0])
		}
	}
}
