package btp

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ilpconnector/connectord/logctx"
)

var log = logctx.Logger("BTPE")

const (
	sendQueueSize  = 256
	authAckTimeout = 10 * time.Second
)

// wsConn is the narrow slice of *websocket.Conn this package depends on,
// so dialer.go's real implementation and tests' in-memory fakes can both
// satisfy it.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a transport-level connection to a peer's BTP URL.
type Dialer func(ctx context.Context, url string) (wsConn, error)

// PrepareHandler processes an inbound PREPARE and returns either a
// fulfillment or a rejection, per §4.E's pipeline.
type PrepareHandler func(ctx context.Context, p PrepareData) (*FulfillData, *RejectData)

type pendingReply struct {
	fulfill *FulfillData
	reject  *RejectData
}

type queuedFrame struct {
	frame Frame
}

// Endpoint is one peer's persistent BTP connection: auth, reconnect with
// backoff, and Prepare/Fulfill/Reject correlation, structured the way the
// teacher's peer.go splits reading, writing, and queueing across
// dedicated goroutines coordinated by a quit channel.
type Endpoint struct {
	PeerID string

	url     string
	secret  string
	dial    Dialer
	handler PrepareHandler
	backoff Backoff

	state int32 // ConnState

	connMu sync.RWMutex
	conn   wsConn

	sendQueue chan queuedFrame

	pendingMu sync.Mutex
	pending   map[string]chan pendingReply

	authAck chan struct{}

	started int32
	quit    chan struct{}
	wg      sync.WaitGroup

	// OnStateChange and OnReconnectAttempt, when set, let a caller
	// observe connection lifecycle without this package depending on
	// metrics — the same Emitter-interface decoupling pipeline.go and
	// fraud/detector.go use for telemetry.
	OnStateChange      func(ConnState)
	OnReconnectAttempt func()
}

// NewEndpoint constructs an Endpoint for peerID. dial is typically
// DialWebSocket; tests substitute an in-memory fake.
func NewEndpoint(peerID, url, secret string, dial Dialer, handler PrepareHandler) *Endpoint {
	return &Endpoint{
		PeerID:    peerID,
		url:       url,
		secret:    secret,
		dial:      dial,
		handler:   handler,
		backoff:   DefaultBackoff(),
		sendQueue: make(chan queuedFrame, sendQueueSize),
		pending:   make(map[string]chan pendingReply),
		quit:      make(chan struct{}),
	}
}

// State returns the endpoint's current connection state.
func (e *Endpoint) State() ConnState {
	return ConnState(atomic.LoadInt32(&e.state))
}

func (e *Endpoint) setState(s ConnState) {
	atomic.StoreInt32(&e.state, int32(s))
	if e.OnStateChange != nil {
		e.OnStateChange(s)
	}
}

// Start launches the reconnect loop. Idempotent.
func (e *Endpoint) Start() error {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		return nil
	}

	e.wg.Add(1)
	go e.connectLoop()
	return nil
}

// Stop tears down the endpoint and waits for its goroutines to exit.
// Idempotent.
func (e *Endpoint) Stop() error {
	if !atomic.CompareAndSwapInt32(&e.started, 1, 2) {
		return nil
	}

	close(e.quit)
	e.connMu.RLock()
	conn := e.conn
	e.connMu.RUnlock()
	if conn != nil {
		conn.Close()
	}
	e.wg.Wait()
	e.setState(StateDisconnected)
	return nil
}

func (e *Endpoint) connectLoop() {
	defer e.wg.Done()

	attempt := 0
	for {
		select {
		case <-e.quit:
			return
		default:
		}

		if err := e.connectOnce(); err != nil {
			log.Warnw("btp connection failed, backing off", "peerId", e.PeerID, "attempt", attempt, "err", err)
			e.setState(StateDisconnected)

			if e.backoff.Exhausted(attempt) {
				log.Errorw("btp reconnect attempts exhausted, giving up", "peerId", e.PeerID)
				return
			}

			delay := e.backoff.Delay(attempt)
			attempt++
			if e.OnReconnectAttempt != nil {
				e.OnReconnectAttempt()
			}

			select {
			case <-time.After(delay):
				continue
			case <-e.quit:
				return
			}
		}

		// connectOnce blocks for the life of the connection; once it
		// returns normally the connection dropped and we reconnect
		// from scratch.
		attempt = 0
	}
}

func (e *Endpoint) connectOnce() error {
	e.setState(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := e.dial(ctx, e.url)
	if err != nil {
		return err
	}

	e.connMu.Lock()
	e.conn = conn
	e.connMu.Unlock()

	e.setState(StateAuthenticating)
	e.authAck = make(chan struct{})

	var innerWG sync.WaitGroup
	innerWG.Add(2)
	readerDone := make(chan struct{})
	go func() {
		defer innerWG.Done()
		defer close(readerDone)
		e.readPump(conn)
	}()
	go func() {
		defer innerWG.Done()
		e.writePump(conn)
	}()

	authFrame, err := NewAuthFrame(uuid.NewString(), AuthData{PeerID: e.PeerID, Secret: e.secret})
	if err != nil {
		conn.Close()
		innerWG.Wait()
		return err
	}
	if err := e.writeFrame(conn, authFrame); err != nil {
		conn.Close()
		innerWG.Wait()
		return err
	}

	select {
	case <-e.authAck:
		e.setState(StateReady)
	case <-time.After(authAckTimeout):
		conn.Close()
		innerWG.Wait()
		return ErrAuthRejected
	case <-readerDone:
		innerWG.Wait()
		return ErrAuthRejected
	case <-e.quit:
		conn.Close()
		innerWG.Wait()
		return ErrClosed
	}

	innerWG.Wait()
	return nil
}

// Attach takes over an already-authenticated inbound connection
// (accepted by Server) and runs it until it drops, per §4.B's server
// side of the handshake. It blocks the caller.
func (e *Endpoint) Attach(conn wsConn) {
	if !atomic.CompareAndSwapInt32(&e.started, 0, 1) {
		// Endpoint already has an active outbound connection; replace it.
		e.connMu.RLock()
		old := e.conn
		e.connMu.RUnlock()
		if old != nil {
			old.Close()
		}
	}

	e.connMu.Lock()
	e.conn = conn
	e.connMu.Unlock()
	e.setState(StateReady)
	e.authAck = make(chan struct{})
	close(e.authAck)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.readPump(conn)
	}()
	go func() {
		defer wg.Done()
		e.writePump(conn)
	}()
	wg.Wait()

	e.setState(StateDisconnected)
}

func (e *Endpoint) writeFrame(conn wsConn, f Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	const textMessage = 1
	return conn.WriteMessage(textMessage, raw)
}

func (e *Endpoint) readPump(conn wsConn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.failAllPending()
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warnw("dropping malformed btp frame", "peerId", e.PeerID, "err", err)
			continue
		}

		e.dispatch(conn, f)
	}
}

func (e *Endpoint) dispatch(conn wsConn, f Frame) {
	switch f.Type {
	case FrameAuth:
		select {
		case <-e.authAck:
		default:
			close(e.authAck)
		}

	case FramePrepare:
		var d PrepareData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			log.Warnw("dropping malformed prepare frame", "peerId", e.PeerID, "err", err)
			return
		}
		go e.handleInboundPrepare(conn, f.RequestID, d)

	case FrameFulfill:
		var d FulfillData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return
		}
		e.resolvePending(f.RequestID, pendingReply{fulfill: &d})

	case FrameReject:
		var d RejectData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return
		}
		e.resolvePending(f.RequestID, pendingReply{reject: &d})

	case FramePing:
		e.enqueueBlocking(Frame{Type: FramePong, RequestID: f.RequestID})

	case FramePong:
		// no-op: liveness only.
	}
}

func (e *Endpoint) handleInboundPrepare(conn wsConn, requestID string, d PrepareData) {
	if e.handler == nil {
		return
	}

	deadline := time.UnixMilli(d.ExpiresAt)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	fulfill, reject := e.handler(ctx, d)

	var reply Frame
	var err error
	switch {
	case fulfill != nil:
		reply, err = NewFulfillFrame(requestID, *fulfill)
	case reject != nil:
		reply, err = NewRejectFrame(requestID, *reject)
	default:
		reply, err = NewRejectFrame(requestID, RejectData{PacketID: d.PacketID, Code: "F00", Message: "no reply produced"})
	}
	if err != nil {
		log.Errorw("encoding inbound prepare reply", "peerId", e.PeerID, "err", err)
		return
	}

	e.enqueueBlocking(reply)
}

// resolvePending delivers a reply to a waiting SendPrepare caller. A
// reply whose request id is no longer registered (the caller already
// timed out) is dropped and logged rather than causing a panic on a
// closed channel.
func (e *Endpoint) resolvePending(requestID string, reply pendingReply) {
	e.pendingMu.Lock()
	ch, ok := e.pending[requestID]
	if ok {
		delete(e.pending, requestID)
	}
	e.pendingMu.Unlock()

	if !ok {
		log.Warnw("dropping late reply for unknown/expired request", "peerId", e.PeerID, "requestId", requestID)
		return
	}
	ch <- reply
}

func (e *Endpoint) failAllPending() {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for id, ch := range e.pending {
		close(ch)
		delete(e.pending, id)
	}
}

func (e *Endpoint) writePump(conn wsConn) {
	for {
		select {
		case qf := <-e.sendQueue:
			if err := e.writeFrame(conn, qf.frame); err != nil {
				return
			}
		case <-e.quit:
			return
		}
	}
}

// enqueueBlocking queues a frame for sending, blocking until space is
// available or the endpoint stops. Used for in-process-originated
// traffic (our own replies, pings) per §4.B.
func (e *Endpoint) enqueueBlocking(f Frame) {
	select {
	case e.sendQueue <- queuedFrame{frame: f}:
	case <-e.quit:
	}
}

// SendPrepare sends a PREPARE frame and blocks the caller until a
// FULFILL/REJECT arrives or ctx's deadline elapses, implementing the
// blocking, in-process send path from §4.B.
func (e *Endpoint) SendPrepare(ctx context.Context, d PrepareData) (*FulfillData, *RejectData, error) {
	return e.sendPrepare(ctx, d, true)
}

// ForwardPrepare sends a PREPARE frame on behalf of a packet being
// forwarded through this node. Unlike SendPrepare it never blocks the
// caller on a full queue: it returns ErrCongested (T04) immediately so
// the pipeline can reject the packet instead of stalling, per §4.B.
func (e *Endpoint) ForwardPrepare(ctx context.Context, d PrepareData) (*FulfillData, *RejectData, error) {
	return e.sendPrepare(ctx, d, false)
}

func (e *Endpoint) sendPrepare(ctx context.Context, d PrepareData, block bool) (*FulfillData, *RejectData, error) {
	if e.State() != StateReady {
		return nil, nil, ErrNotReady
	}

	requestID := uuid.NewString()
	replyCh := make(chan pendingReply, 1)

	e.pendingMu.Lock()
	e.pending[requestID] = replyCh
	e.pendingMu.Unlock()

	cleanup := func() {
		e.pendingMu.Lock()
		delete(e.pending, requestID)
		e.pendingMu.Unlock()
	}

	frame, err := NewPrepareFrame(requestID, d)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if block {
		select {
		case e.sendQueue <- queuedFrame{frame: frame}:
		case <-e.quit:
			cleanup()
			return nil, nil, ErrClosed
		case <-ctx.Done():
			cleanup()
			return nil, nil, ctx.Err()
		}
	} else {
		select {
		case e.sendQueue <- queuedFrame{frame: frame}:
		default:
			cleanup()
			return nil, nil, ErrCongested
		}
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return nil, nil, ErrClosed
		}
		return reply.fulfill, reply.reject, nil
	case <-ctx.Done():
		cleanup()
		return nil, nil, ErrReplyTimeout
	case <-e.quit:
		cleanup()
		return nil, nil, ErrClosed
	}
}
