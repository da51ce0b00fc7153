// connectord is the ILP connector daemon: it wires every subsystem in
// §4 together (KeyManager, Ledger, RoutingTable, BTP endpoints, the
// packet pipeline, threshold monitor, settlement engine, telemetry
// broker/store, and fraud detector) into one running node, the way
// lnd.go/server.go compose lnd's subsystems into the lnd daemon.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	rippledata "github.com/rubblelabs/ripple/data"

	"github.com/ilpconnector/connectord/btp"
	"github.com/ilpconnector/connectord/config"
	"github.com/ilpconnector/connectord/fraud"
	"github.com/ilpconnector/connectord/httpapi"
	"github.com/ilpconnector/connectord/keymgr"
	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/logctx"
	"github.com/ilpconnector/connectord/metrics"
	"github.com/ilpconnector/connectord/pipeline"
	"github.com/ilpconnector/connectord/ratelimit"
	"github.com/ilpconnector/connectord/routing"
	"github.com/ilpconnector/connectord/settlement"
	"github.com/ilpconnector/connectord/telemetry"
	"github.com/ilpconnector/connectord/threshold"
)

var log = logctx.Logger("MAIN")

func main() {
	if err := connectordMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// node holds every subsystem with a Start/Stop lifecycle, so shutdown can
// walk them in reverse dependency order, mirroring lnd.go's
// addInterruptHandler / server.Stop() / WaitForShutdown() split.
type node struct {
	endpoints []*btp.Endpoint // every configured peer, for health/API checks
	outbound  []*btp.Endpoint // subset with a dial URL; only these run the reconnect loop
	monitor   *threshold.Monitor
	detector  *fraud.Detector
	store     *telemetry.SQLStore
	cache     *settlement.ChannelCache
	btpSrv    *http.Server
	apiSrv    *http.Server

	retentionQuit chan struct{}
}

func connectordMain() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logctx.SetLevel(cfg.LogLevel)

	km, err := keymgr.New(cfg)
	if err != nil {
		return fmt.Errorf("constructing key manager: %w", err)
	}

	led := ledger.NewInMemory()
	routes := routing.New()
	reg := pipeline.NewRegistry()

	metricsReg := metrics.New(cfg.PrometheusEnabled)
	metricsReg.SetAccountGauge(func() float64 {
		return float64(len(led.AllAccounts(context.Background())))
	})

	store, err := telemetry.OpenSQLStore(cfg.EventStorePath)
	if err != nil {
		return fmt.Errorf("opening event store: %w", err)
	}

	cache, err := settlement.OpenChannelCache(cfg.NodeID + "-channels.db")
	if err != nil {
		store.Close()
		return fmt.Errorf("opening settlement channel cache: %w", err)
	}

	methods, channelKeys, err := buildSettlementMethods(cfg, km)
	if err != nil {
		cache.Close()
		store.Close()
		return fmt.Errorf("building settlement methods: %w", err)
	}

	broker := telemetry.NewBroker(cfg.NodeID, store, hydrateFunc(cache, led, channelKeys))

	limiter := ratelimit.New(defaultPeerRPS, defaultPeerBurst)

	engine := settlement.NewEngine(cfg.NodeID, led, broker, cache, methods...)
	engine.Retry = settlement.RetryConfig{
		Base:       time.Duration(cfg.RetryDelayMs) * time.Millisecond,
		Cap:        30 * time.Second,
		MaxRetries: cfg.RetryAttempts,
	}
	engine.Metrics = metricsReg

	settlementSignal := make(chan threshold.SettlementSignal, 64)
	monitor := threshold.New(cfg.NodeID, led, broker, settlementSignal)
	go runSettlementConsumer(led, engine, settlementSignal, cfg.SettlementPreference)

	detector := fraud.New(cfg.NodeID, led, broker, limiter, fraud.CreditLimitBreachRule{})
	detector.Metrics = metricsReg

	pipe := &pipeline.Pipeline{
		NodeID:       cfg.NodeID,
		Ledger:       led,
		Routes:       routes,
		Limiter:      limiter,
		Endpoints:    reg,
		Events:       broker,
		Metrics:      metricsReg,
		LocalAddress: "",
		Local:        pipeline.NewMapPreimageRegistry(),
	}

	endpoints, outbound := buildEndpoints(cfg, pipe, reg, metricsReg)
	btpSrv := btp.NewServer(func(peerID string) (string, bool) {
		s, ok := cfg.PeerSecrets[peerID]
		return s, ok
	})
	for _, ep := range endpoints {
		btpSrv.Register(ep.PeerID, ep)
	}

	apiSrv := &httpapi.Server{
		Ledger: led,
		Routes: routes,
		Store:  store,
		Cache:  cache,
		Checks: []httpapi.HealthCheck{
			httpapi.LedgerWritableCheck(led),
			httpapi.EventStoreWritableCheck(store, cfg.NodeID),
			httpapi.PeerEndpointsReadyCheck(endpoints),
		},
		Metrics:       metricsReg.Handler(),
		KnownChannels: channelKeys,
	}

	// BTP websocket listens on its own configured port; the HTTP
	// control/observation API and telemetry websocket share the
	// health-check port, per §6's separate BTP_PORT/HEALTH_CHECK_PORT.
	btpMux := http.NewServeMux()
	btpMux.Handle("/", btpSrv)
	btpSrvHTTP := &http.Server{Addr: fmt.Sprintf(":%d", cfg.BTPPort), Handler: btpMux}

	apiMux := apiSrv.Mux()
	apiMux.HandleFunc("/telemetry", telemetryWebsocketHandler(broker))
	apiSrvHTTP := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HealthCheckPort), Handler: apiMux}

	n := &node{
		endpoints:     endpoints,
		outbound:      outbound,
		monitor:       monitor,
		detector:      detector,
		store:         store,
		cache:         cache,
		btpSrv:        btpSrvHTTP,
		apiSrv:        apiSrvHTTP,
		retentionQuit: make(chan struct{}),
	}

	if err := n.start(cfg); err != nil {
		return err
	}

	log.Infow("connectord started", "nodeId", cfg.NodeID, "btpPort", cfg.BTPPort)

	waitForShutdown()

	n.stop()
	log.Infow("connectord shut down cleanly")
	return nil
}

const (
	defaultPeerRPS   = 50
	defaultPeerBurst = 100
)

func (n *node) start(cfg *config.Config) error {
	for _, ep := range n.outbound {
		if err := ep.Start(); err != nil {
			return fmt.Errorf("starting btp endpoint %s: %w", ep.PeerID, err)
		}
	}
	if err := n.monitor.Start(); err != nil {
		return fmt.Errorf("starting threshold monitor: %w", err)
	}
	if err := n.detector.Start(); err != nil {
		return fmt.Errorf("starting fraud detector: %w", err)
	}

	go n.runRetentionLoop(cfg)

	go func() {
		if err := n.btpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("btp http server exited", "err", err)
		}
	}()
	go func() {
		if err := n.apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("api http server exited", "err", err)
		}
	}()

	return nil
}

// stop tears subsystems down in reverse of the order they were started:
// it signals the retention loop to exit, shuts down both HTTP servers,
// stops the fraud detector, threshold monitor and BTP endpoints, and
// closes the channel cache and event store. It does not wait for the
// retention loop or for settlement goroutines started by
// runSettlementConsumer to finish.
func (n *node) stop() {
	close(n.retentionQuit)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.apiSrv.Shutdown(ctx); err != nil {
		log.Warnw("api http server shutdown error", "err", err)
	}
	if err := n.btpSrv.Shutdown(ctx); err != nil {
		log.Warnw("btp http server shutdown error", "err", err)
	}

	if err := n.detector.Stop(); err != nil {
		log.Warnw("fraud detector stop error", "err", err)
	}
	if err := n.monitor.Stop(); err != nil {
		log.Warnw("threshold monitor stop error", "err", err)
	}
	for _, ep := range n.endpoints {
		if err := ep.Stop(); err != nil {
			log.Warnw("btp endpoint stop error", "peerId", ep.PeerID, "err", err)
		}
	}

	if err := n.cache.Close(); err != nil {
		log.Warnw("channel cache close error", "err", err)
	}
	if err := n.store.Close(); err != nil {
		log.Warnw("event store close error", "err", err)
	}
}

func (n *node) runRetentionLoop(cfg *config.Config) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	maxAge := time.Duration(cfg.EventStoreMaxAgeMs) * time.Millisecond
	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			if err := n.store.RunRetentionPolicy(ctx, maxAge, cfg.EventStoreMaxCount); err != nil {
				log.Warnw("event store retention policy failed", "err", err)
			}
		case <-n.retentionQuit:
			return
		}
	}
}

// runSettlementConsumer drains the threshold monitor's SETTLEMENT_REQUIRED
// signals and drives the settlement engine — the engine's own per-(peer,asset,method) in-flight map is what actually
// enforces §8 property 6's at-most-one-in-progress invariant; this loop
// just needs to not block on one slow settlement forever relative to
// unrelated peers, so each signal is handled in its own goroutine.
func runSettlementConsumer(led ledger.Ledger, engine *settlement.Engine, signals <-chan threshold.SettlementSignal, pref config.SettlementPreference) {
	for sig := range signals {
		sig := sig
		go func() {
			ctx := context.Background()
			acct, err := led.Snapshot(ctx, sig.Peer, sig.Asset)
			if err != nil {
				log.Errorw("snapshot failed before settlement", "peerId", sig.Peer, "err", err)
				return
			}

			// The amount owed to the peer is the positive excursion of
			// Net (CreditBalance accrued past DebitBalance); this is the
			// same quantity RecordSettlement subtracts from CreditBalance
			// on success, so the trigger and the reconciliation agree on
			// which side of the ledger settlement moves.
			amount := acct.Net()
			if amount.Sign() <= 0 {
				return
			}

			methodID := defaultMethodFor(pref)
			if err := engine.Settle(ctx, sig.Peer, sig.Asset, methodID, amount); err != nil {
				log.Errorw("settlement attempt failed", "peerId", sig.Peer, "assetId", sig.Asset, "err", err)
			}
		}()
	}
}

func defaultMethodFor(pref config.SettlementPreference) string {
	switch pref {
	case config.SettlementXRP:
		return "xrp"
	default:
		return "evm"
	}
}

// buildSettlementMethods constructs the settlement.Method implementations
// enabled by cfg.SettlementPreference. The EIP-712 domain's chain id is
// not itself a listed §6 config option; BASE_RPC_URL names the intended
// chain (Base), so the domain defaults to Base mainnet's chain id unless
// a future config option overrides it — see DESIGN.md.
func buildSettlementMethods(cfg *config.Config, km keymgr.KeyManager) ([]settlement.Method, []httpapi.ChannelKey, error) {
	var methods []settlement.Method
	var keys []httpapi.ChannelKey

	wantEVM := cfg.SettlementPreference == config.SettlementEVM || cfg.SettlementPreference == config.SettlementBoth
	wantXRP := cfg.SettlementPreference == config.SettlementXRP || cfg.SettlementPreference == config.SettlementBoth

	if wantEVM && cfg.EVMAddress != "" {
		signer := keymgr.NewEvmSigner(km, "evm-settlement")
		chainID := big.NewInt(8453) // Base mainnet
		verifyingContract := common.HexToAddress(cfg.EVMAddress)
		methods = append(methods, settlement.NewEVMMethod(signer, chainID, verifyingContract))
		for peerID := range cfg.PeerSecrets {
			keys = append(keys, httpapi.ChannelKey{Peer: peerID, Asset: "ILP", Method: "evm"})
		}
	}

	if wantXRP && cfg.XRPAddress != "" {
		account, err := rippledata.NewAccountFromAddress(cfg.XRPAddress)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing XRP_ADDRESS: %w", err)
		}
		methods = append(methods, settlement.NewXRPMethod(km, "xrp-settlement", *account))
		for peerID := range cfg.PeerSecrets {
			keys = append(keys, httpapi.ChannelKey{Peer: peerID, Asset: "XRP", Method: "xrp"})
		}
	}

	return methods, keys, nil
}

// buildEndpoints constructs one btp.Endpoint per peer. Peers with a
// configured outbound URL (BTP_PEER_<peerId>_URL) are also returned in
// the second slice and get their reconnect loop started; a peer with
// only a secret and no URL is inbound-only and sits idle until it dials
// in and btp.Server attaches the connection to its Endpoint instead.
func buildEndpoints(cfg *config.Config, pipe *pipeline.Pipeline, reg *pipeline.Registry, metricsReg *metrics.Registry) ([]*btp.Endpoint, []*btp.Endpoint) {
	var endpoints, outbound []*btp.Endpoint

	for peerID := range cfg.PeerSecrets {
		url := cfg.PeerURLs[peerID]
		secret := cfg.PeerSecrets[peerID]

		ep := btp.NewEndpoint(peerID, url, secret, btp.DialWebSocket, pipe.HandleInbound(ledger.PeerID(peerID)))
		ep.OnStateChange = func(s btp.ConnState) { metricsReg.BTPConnState(peerID, int(s)) }
		ep.OnReconnectAttempt = func() { metricsReg.BTPReconnect(peerID) }
		reg.Set(ledger.PeerID(peerID), ep)
		endpoints = append(endpoints, ep)
		if url != "" {
			outbound = append(outbound, ep)
		}
	}

	return endpoints, outbound
}

// hydrateFunc builds the snapshot a freshly-connected telemetry client
// receives before live events start streaming: current balances, then
// any cached settlement channel a peer/asset/method triple has open.
func hydrateFunc(cache *settlement.ChannelCache, led ledger.Ledger, channelKeys []httpapi.ChannelKey) telemetry.HydrationFunc {
	return func() []telemetry.Event {
		ctx := context.Background()
		var events []telemetry.Event

		for _, acct := range led.AllAccounts(ctx) {
			events = append(events, telemetry.NewEvent("", telemetry.EventInitialBalanceState, map[string]any{
				"peerId":  string(acct.PeerID),
				"assetId": string(acct.AssetID),
				"net":     acct.Net().String(),
			}))
		}

		for _, k := range channelKeys {
			channelID := cache.Get(k.Peer, k.Asset, k.Method)
			if channelID == "" {
				continue
			}
			events = append(events, telemetry.NewEvent("", telemetry.EventInitialChannelState, map[string]any{
				"peerId":    k.Peer,
				"assetId":   k.Asset,
				"method":    k.Method,
				"channelId": channelID,
			}))
		}

		return events
	}
}

var telemetryUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func telemetryWebsocketHandler(broker *telemetry.Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := telemetryUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnw("telemetry websocket upgrade failed", "err", err)
			return
		}
		broker.Serve(conn)
	}
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
