// connectorcli is the control-plane client for connectord's HTTP API,
// the way cmd/lncli is the control-plane client for lnd's RPC: a thin
// urfave/cli wrapper that dials the daemon and renders its responses.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[connectorcli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "connectorcli"
	app.Version = "0.1"
	app.Usage = "control plane for your ILP connector daemon (connectord)"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "rpcserver",
			Value: "localhost:8090",
			Usage: "host:port of the connectord HTTP control API",
		},
		cli.BoolFlag{
			Name:  "insecure",
			Usage: "use http:// instead of https://",
		},
	}
	app.Commands = []cli.Command{
		healthCommand,
		balancesCommand,
		routesCommand,
		channelsCommand,
		settlementsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
