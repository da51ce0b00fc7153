// Package routing implements §4.C's RoutingTable: longest-prefix match
// from a destination ILP address to a next-hop peer id. Writers build a
// new sorted route list and swap it in (copy-on-write), the same pattern
// the teacher's channeldb/graph.go uses for its in-memory channel-graph
// cache layered over durable storage. Reads are not wait-free: Lookup and
// Snapshot take the same mutex as writers to pick up the current list,
// so they wait while a writer holds it.
package routing

import (
	"sort"
	"strings"
	"sync"

	"github.com/ilpconnector/connectord/ledger"
)

// Route is the (prefix, next-hop, priority) triple described in §3.
type Route struct {
	Prefix   string
	NextHop  ledger.PeerID
	Priority int
}

// Table is a longest-dotted-prefix-match routing table. Matching happens
// on dotted-segment boundaries, not byte-wise: "g.alice" matches
// "g.alice.sub" but not "g.aliceX".
type Table struct {
	mu     sync.Mutex // held by writers for a whole update and by readers to load routes
	routes []Route    // sorted by (segment count desc, priority asc); replaced under mu, never modified in place
}

// New returns an empty routing table.
func New() *Table {
	return &Table{}
}

func segments(addr string) []string {
	return strings.Split(addr, ".")
}

// isPrefix reports whether prefix's segments are a prefix of dest's
// segments on dot boundaries.
func isPrefix(prefix, dest []string) bool {
	if len(prefix) > len(dest) {
		return false
	}
	for i, seg := range prefix {
		if dest[i] != seg {
			return false
		}
	}
	return true
}

func sortRoutes(routes []Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		li, lj := len(segments(routes[i].Prefix)), len(segments(routes[j].Prefix))
		if li != lj {
			return li > lj // longer prefix (more segments) first
		}
		return routes[i].Priority < routes[j].Priority // lower priority value wins ties
	})
}

// Lookup returns the next hop whose route prefix is the longest prefix of
// destination, breaking ties by lowest Priority, per §8 property 7. The
// second return value is false if no route matches.
func (t *Table) Lookup(destination string) (ledger.PeerID, bool) {
	t.mu.Lock()
	routes := t.routes
	t.mu.Unlock()

	destSegs := segments(destination)
	for _, r := range routes {
		if isPrefix(segments(r.Prefix), destSegs) {
			return r.NextHop, true
		}
	}
	return "", false
}

// Upsert adds or replaces the route for (prefix, nextHop), keyed by the
// pair so a peer can hold multiple prefixes and a prefix can be re-pointed
// to a new next hop without creating a duplicate entry.
func (t *Table) Upsert(prefix string, nextHop ledger.PeerID, priority int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]Route, 0, len(t.routes)+1)
	for _, r := range t.routes {
		if r.Prefix == prefix && r.NextHop == nextHop {
			continue
		}
		next = append(next, r)
	}
	next = append(next, Route{Prefix: prefix, NextHop: nextHop, Priority: priority})
	sortRoutes(next)
	t.routes = next
}

// Remove deletes the route for (prefix, nextHop), if present.
func (t *Table) Remove(prefix string, nextHop ledger.PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]Route, 0, len(t.routes))
	for _, r := range t.routes {
		if r.Prefix == prefix && r.NextHop == nextHop {
			continue
		}
		next = append(next, r)
	}
	t.routes = next
}

// Snapshot returns a copy of every configured route, in match order.
func (t *Table) Snapshot() []Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Route(nil), t.routes...)
}
