package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ilpconnector/connectord/logctx"
)

var log = logctx.Logger("BRTK")

// defaultClientQueueSize bounds each subscriber's outgoing queue. A client
// slower than this backlog is disconnected rather than allowed to block
// the broker, per §4.H step 2 and the Design Notes' "no global publish
// lock" requirement.
const defaultClientQueueSize = 256

// Store is the subset of EventStore the broker needs to persist events
// best-effort on emission.
type Store interface {
	StoreEvent(ctx context.Context, e Event) (int64, error)
}

// HydrationFunc produces the INITIAL_*_STATE snapshot events sent to a
// newly connected client before any live events, per §4.H step 3 and
// scenario S6.
type HydrationFunc func() []Event

type subscriber struct {
	id     string
	queue  chan Event
	conn   *websocket.Conn
	closed chan struct{}
	once   sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Broker is the in-process event bus plus WebSocket fan-out described in
// §4.H. It owns one bounded queue per subscriber; there is no broker-wide
// publish lock beyond the brief critical section needed to copy the
// current subscriber list.
type Broker struct {
	nodeID string
	store  Store
	hydrate HydrationFunc

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// NewBroker constructs a Broker. store may be nil to disable persistence
// (still valid: persistence failures never block emission per §4.H step 1).
func NewBroker(nodeID string, store Store, hydrate HydrationFunc) *Broker {
	return &Broker{
		nodeID:      nodeID,
		store:       store,
		hydrate:     hydrate,
		subscribers: make(map[string]*subscriber),
	}
}

// Emit persists e best-effort and fans it out to every connected
// subscriber. Emit never blocks on a slow client: a client whose queue is
// full is disconnected instead.
func (b *Broker) Emit(ctx context.Context, e Event) {
	if b.store != nil {
		if _, err := b.store.StoreEvent(ctx, e); err != nil {
			log.Warnw("event persistence failed, continuing fan-out", "type", e.Type, "err", err)
		}
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s.queue <- e:
		default:
			log.Warnw("subscriber queue full, disconnecting slow client", "clientId", s.id)
			b.removeSubscriber(s.id)
			s.close()
		}
	}
}

func (b *Broker) removeSubscriber(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Serve registers conn as a new subscriber and blocks until the
// connection closes, driving the per-client write pump and a minimal read
// loop that recognizes the CLIENT_CONNECT control message.
func (b *Broker) Serve(conn *websocket.Conn) {
	sub := &subscriber{
		id:     uuid.NewString(),
		queue:  make(chan Event, defaultClientQueueSize),
		conn:   conn,
		closed: make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	defer b.removeSubscriber(sub.id)
	defer sub.close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.writePump(sub)
	}()

	b.readPump(sub)
	wg.Wait()
}

type clientControlMessage struct {
	Type string `json:"type"`
}

func (b *Broker) readPump(sub *subscriber) {
	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		var ctrl clientControlMessage
		if err := json.Unmarshal(data, &ctrl); err != nil {
			continue
		}
		if ctrl.Type == string(EventClientConnect) && b.hydrate != nil {
			for _, e := range b.hydrate() {
				select {
				case sub.queue <- e:
				case <-sub.closed:
					return
				}
			}
		}
	}
}

func (b *Broker) writePump(sub *subscriber) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-sub.queue:
			if !ok {
				return
			}
			if err := sub.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.closed:
			return
		}
	}
}
