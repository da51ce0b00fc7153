package main

import (
	"fmt"
	"math/big"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"
)

var healthCommand = cli.Command{
	Name:  "health",
	Usage: "report the daemon's aggregate health check",
	Action: func(ctx *cli.Context) error {
		c := clientFromContext(ctx)
		var h healthView
		getErr := c.get("/health", &h)
		// /health answers 503 with the same body shape when unhealthy;
		// getErr only signals a transport failure or a non-JSON body.
		if h.Status == "" && getErr != nil {
			return getErr
		}

		if h.Status == "healthy" {
			fmt.Println("healthy")
			return nil
		}

		fmt.Println("unhealthy")
		for name, reason := range h.Failures {
			fmt.Printf("  %s: %s\n", name, reason)
		}
		return nil
	},
}

var balancesCommand = cli.Command{
	Name:  "balances",
	Usage: "list per-peer, per-asset ledger balances",
	Action: func(ctx *cli.Context) error {
		c := clientFromContext(ctx)
		var accounts []peerAccountView
		if err := c.get("/api/balances", &accounts); err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Peer", "Asset", "Debit", "Credit", "Net", "State"})
		for _, a := range accounts {
			net := netBalance(a.CreditBalance, a.DebitBalance)
			t.AppendRow(table.Row{a.PeerID, a.AssetID, a.DebitBalance, a.CreditBalance, net, a.settlementStateString()})
		}
		t.Render()
		return nil
	},
}

var routesCommand = cli.Command{
	Name:  "routes",
	Usage: "list the routing table's prefix -> next-hop entries",
	Action: func(ctx *cli.Context) error {
		c := clientFromContext(ctx)
		var resp struct {
			Routes []routeView `json:"routes"`
		}
		if err := c.get("/api/routes", &resp); err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Prefix", "Next Hop", "Priority"})
		for _, r := range resp.Routes {
			t.AppendRow(table.Row{r.Prefix, r.NextHop, r.Priority})
		}
		t.Render()
		return nil
	},
}

var channelsCommand = cli.Command{
	Name:  "channels",
	Usage: "list known settlement channels and their cached channel ids",
	Action: func(ctx *cli.Context) error {
		c := clientFromContext(ctx)
		var channels []channelView
		if err := c.get("/api/channels", &channels); err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Peer", "Asset", "Method", "Channel ID"})
		for _, ch := range channels {
			t.AppendRow(table.Row{ch.Peer, ch.Asset, ch.Method, ch.ChannelID})
		}
		t.Render()
		return nil
	},
}

var settlementsCommand = cli.Command{
	Name:  "settlements",
	Usage: "show recent settlement lifecycle events",
	Action: func(ctx *cli.Context) error {
		c := clientFromContext(ctx)
		var events []map[string]any
		if err := c.get("/api/settlements/recent", &events); err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Time", "Type", "Peer", "Asset", "Fields"})
		for _, e := range events {
			rendered := make(map[string]any, len(e))
			for k, v := range e {
				switch k {
				case "type", "nodeId", "timestamp", "peerId", "assetId":
				default:
					rendered[k] = v
				}
			}
			t.AppendRow(table.Row{e["timestamp"], e["type"], e["peerId"], e["assetId"], rendered})
		}
		t.Render()
		return nil
	},
}

// netBalance renders credit - debit; the daemon hands balances over the
// wire as big.Int's decimal text form, so the client parses them back
// into big.Int rather than risk overflowing a machine word.
func netBalance(credit, debit string) string {
	c, cok := new(big.Int).SetString(credit, 10)
	d, dok := new(big.Int).SetString(debit, 10)
	if !cok || !dok {
		return "?"
	}
	return new(big.Int).Sub(c, d).String()
}
