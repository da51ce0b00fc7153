package httpapi

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ilpconnector/connectord/ledger"
	"github.com/ilpconnector/connectord/routing"
	"github.com/stretchr/testify/require"
)

func TestHealthOKWithNoChecks(t *testing.T) {
	s := &Server{Ledger: ledger.NewInMemory()}
	rr := httptest.NewRecorder()
	s.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestHealthFailsWhenCheckErrors(t *testing.T) {
	s := &Server{
		Ledger: ledger.NewInMemory(),
		Checks: []HealthCheck{{Name: "always_fails", Check: func(ctx context.Context) error {
			return require.AnError
		}}},
	}
	rr := httptest.NewRecorder()
	s.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestBalancesReturnsAccounts(t *testing.T) {
	l := ledger.NewInMemory()
	l.Configure(context.Background(), "peer-a", "USD", big.NewInt(1000), nil)
	l.Credit(context.Background(), "peer-a", "USD", big.NewInt(50))

	s := &Server{Ledger: l}
	rr := httptest.NewRecorder()
	s.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/balances", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var accounts []ledger.PeerAccount
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accounts))
	require.Len(t, accounts, 1)
	require.Equal(t, "peer-a", string(accounts[0].PeerID))
}

func TestRoutesReturns404WhenNotConfigured(t *testing.T) {
	s := &Server{Ledger: ledger.NewInMemory()}
	rr := httptest.NewRecorder()
	s.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/routes", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutesReturnsSnapshot(t *testing.T) {
	table := routing.New()
	table.Upsert("g.alice", "peer-a", 0)

	s := &Server{Ledger: ledger.NewInMemory(), Routes: table}
	rr := httptest.NewRecorder()
	s.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/routes", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Routes []routing.Route `json:"routes"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Routes, 1)
}

func TestChannelsReturnsEmptyWithoutCache(t *testing.T) {
	s := &Server{Ledger: ledger.NewInMemory()}
	rr := httptest.NewRecorder()
	s.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/channels", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, "[]", rr.Body.String())
}

func TestLedgerWritableCheckRoundTrips(t *testing.T) {
	l := ledger.NewInMemory()
	check := LedgerWritableCheck(l)
	require.NoError(t, check.Check(context.Background()))
}
