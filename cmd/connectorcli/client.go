package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/urfave/cli"
)

// apiClient is a minimal client for connectord's HTTP control API. It
// carries no auth: the API is meant to be exposed on a private network
// interface, per §6, the way lnd's debug/pprof mux is never meant to
// face the public internet.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func clientFromContext(ctx *cli.Context) *apiClient {
	scheme := "https"
	if ctx.GlobalBool("insecure") {
		scheme = "http"
	}
	return &apiClient{
		baseURL: fmt.Sprintf("%s://%s", scheme, ctx.GlobalString("rpcserver")),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) get(path string, v any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		// Decode the error body too, best effort, so callers such as the
		// health command can read a structured unhealthy response.
		if v != nil {
			_ = json.Unmarshal(body, v)
		}
		return fmt.Errorf("%s: HTTP %d: %s", path, resp.StatusCode, string(body))
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// peerAccountView mirrors ledger.PeerAccount's exported fields; it is
// redeclared here rather than imported so connectorcli stays decoupled
// from the daemon's internal packages and only speaks its wire JSON.
type peerAccountView struct {
	PeerID              string
	AssetID             string
	DebitBalance        string
	CreditBalance       string
	CreditLimit         *string
	SettlementThreshold *string
	SettlementState     int
	LastUpdated         time.Time
}

func (a peerAccountView) settlementStateString() string {
	switch a.SettlementState {
	case 0:
		return "IDLE"
	case 1:
		return "PENDING"
	case 2:
		return "IN_PROGRESS"
	default:
		return "UNKNOWN"
	}
}

type routeView struct {
	Prefix   string
	NextHop  string
	Priority int
}

type channelView struct {
	Peer      string `json:"peer"`
	Asset     string `json:"asset"`
	Method    string `json:"method"`
	ChannelID string `json:"channelId"`
}

type healthView struct {
	Status   string            `json:"status"`
	Failures map[string]string `json:"failures"`
}
