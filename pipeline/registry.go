package pipeline

import (
	"sync"

	"github.com/ilpconnector/connectord/btp"
	"github.com/ilpconnector/connectord/ledger"
)

// Registry is the default EndpointRegistry: a concurrency-safe map from
// peer id to its BTP endpoint, populated as peers are configured.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[ledger.PeerID]*btp.Endpoint
}

func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[ledger.PeerID]*btp.Endpoint)}
}

func (r *Registry) Set(peerID ledger.PeerID, ep *btp.Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[peerID] = ep
}

func (r *Registry) Get(peerID ledger.PeerID) (*btp.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[peerID]
	return ep, ok
}
