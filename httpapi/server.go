// Package httpapi implements §6's HTTP control/observation API: a small
// read-mostly surface over the ledger, routing table, settlement channel
// cache, and event store, served from a single http.ServeMux the way
// lnd.go wires its pprof/profiling mux rather than pulling in a routing
// framework.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ilpconnector/connectord/btp"
	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/logctx"
	"github.com/ilpconnector/connectord/routing"
	"github.com/ilpconnector/connectord/settlement"
	"github.com/ilpconnector/connectord/telemetry"
)

var log = logctx.Logger("HTAP")

// HealthCheck is one named leaf check aggregated into GET /health, per
// the supplemented health-check composition: ledger writable, event
// store writable, at least one peer endpoint READY.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ChannelView is the §3 Channel shape returned by GET /api/channels.
type ChannelView struct {
	Peer      string `json:"peer"`
	Asset     string `json:"asset"`
	Method    string `json:"method"`
	ChannelID string `json:"channelId"`
}

// Server wires the read-only HTTP surface described in §6. Routes is
// nil-able: a node acting purely as a settlement leaf may have no
// routing table, in which case GET /api/routes answers 404 per spec.
type Server struct {
	Ledger  ledger.Ledger
	Routes  *routing.Table
	Store   *telemetry.SQLStore
	Cache   *settlement.ChannelCache
	Checks  []HealthCheck
	Metrics http.Handler // nil when metrics disabled

	// KnownChannels enumerates the (peer, asset, method) triples this
	// node may have opened channels for; Cache only maps key -> id, it
	// does not enumerate keys, so the server is handed the same set the
	// settlement engine was constructed with.
	KnownChannels []ChannelKey
}

// ChannelKey identifies one settlement channel slot.
type ChannelKey struct {
	Peer   string
	Asset  string
	Method string
}

// Mux builds the http.ServeMux exposing every route in §6.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/balances", s.handleBalances)
	mux.HandleFunc("/api/routes", s.handleRoutes)
	mux.HandleFunc("/api/settlements/recent", s.handleSettlementsRecent)
	mux.HandleFunc("/api/accounts/events", s.handleAccountEvents)
	mux.HandleFunc("/api/channels", s.handleChannels)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorw("encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	failures := make(map[string]string)
	for _, c := range s.Checks {
		if err := c.Check(ctx); err != nil {
			failures[c.Name] = err.Error()
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy", "failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	accounts := s.Ledger.AllAccounts(r.Context())
	writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if s.Routes == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "routing not available on this node"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": s.Routes.Snapshot()})
}

// recentSettlementTypes are the event kinds that count as "settlement
// activity" for GET /api/settlements/recent.
var recentSettlementTypes = []telemetry.EventType{
	telemetry.EventSettlementTriggered,
	telemetry.EventSettlementPending,
	telemetry.EventSettlementCompleted,
	telemetry.EventSettlementFailed,
}

func (s *Server) handleSettlementsRecent(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeJSON(w, http.StatusOK, []telemetry.Event{})
		return
	}

	filter := telemetry.NewQueryFilter()
	filter.EventTypes = recentSettlementTypes
	filter.Limit = 100

	rows, err := s.Store.QueryEvents(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	events := make([]telemetry.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.Payload)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}, "total": 0})
		return
	}

	filter := telemetry.NewQueryFilter()
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, t := range strings.Split(typesParam, ",") {
			filter.EventTypes = append(filter.EventTypes, telemetry.EventType(strings.TrimSpace(t)))
		}
	}
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if n, err := strconv.Atoi(limitParam); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if peer := r.URL.Query().Get("peer"); peer != "" {
		filter.PeerID = peer
	}

	rows, err := s.Store.QueryEvents(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	total, err := s.Store.CountEvents(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	type wrapped struct {
		Payload telemetry.Event `json:"payload"`
	}
	events := make([]wrapped, 0, len(rows))
	for _, row := range rows {
		events = append(events, wrapped{Payload: row.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "total": total})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.Cache == nil {
		writeJSON(w, http.StatusOK, []ChannelView{})
		return
	}

	views := make([]ChannelView, 0, len(s.KnownChannels))
	for _, k := range s.KnownChannels {
		id := s.Cache.Get(k.Peer, k.Asset, k.Method)
		if id == "" {
			continue
		}
		views = append(views, ChannelView{Peer: k.Peer, Asset: k.Asset, Method: k.Method, ChannelID: id})
	}
	writeJSON(w, http.StatusOK, views)
}

// LedgerWritableCheck returns a HealthCheck that verifies the ledger
// accepts a throwaway zero-amount prepare/rollback round trip.
func LedgerWritableCheck(l ledger.Ledger) HealthCheck {
	return HealthCheck{
		Name: "ledger",
		Check: func(ctx context.Context) error {
			r, err := l.Prepare(ctx, "__healthcheck__", "__healthcheck__", big.NewInt(0))
			if err != nil {
				return err
			}
			return l.Rollback(ctx, r)
		},
	}
}

// EventStoreWritableCheck returns a HealthCheck that verifies the event
// store accepts a write.
func EventStoreWritableCheck(store *telemetry.SQLStore, nodeID string) HealthCheck {
	return HealthCheck{
		Name: "event_store",
		Check: func(ctx context.Context) error {
			_, err := store.StoreEvent(ctx, telemetry.NewEvent(nodeID, telemetry.EventNodeStatus, map[string]any{"check": "healthcheck"}))
			return err
		},
	}
}

// PeerEndpointsReadyCheck returns a HealthCheck satisfied once at least
// one configured peer's BTP endpoint has reached StateReady, so a node
// with zero live peers reports unhealthy rather than a false positive.
func PeerEndpointsReadyCheck(endpoints []*btp.Endpoint) HealthCheck {
	return HealthCheck{
		Name: "peer_endpoints",
		Check: func(ctx context.Context) error {
			for _, ep := range endpoints {
				if ep.State() == btp.StateReady {
					return nil
				}
			}
			return fmt.Errorf("no peer endpoint is ready (%d configured)", len(endpoints))
		},
	}
}
