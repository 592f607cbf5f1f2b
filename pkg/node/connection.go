package node

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/Snider/NodeCore/pkg/logging"
	"github.com/Snider/NodeCore/pkg/ratelimit"
	"github.com/Snider/NodeCore/pkg/wire"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Direction records which side of a connection dialed.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// State is the connection's lifecycle state machine (§4.2). Only
// StateEstablished accepts or emits application messages.
type State int

const (
	StateAwaitingHandshake State = iota
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// errOutboundQueueFull is returned by Send/Request when the writer's bounded
// channel is saturated — a slow peer must not be allowed to back up the
// whole process, so enqueue is non-blocking.
var errOutboundQueueFull = fmt.Errorf("node: outbound queue full")

// ErrClosed is returned by Send/Request on a connection that has already
// been torn down.
var ErrClosed = fmt.Errorf("node: connection closed")

// ErrTimeout is returned by Request when no reply arrives in time.
var ErrTimeout = fmt.Errorf("node: request timed out")

// Config configures a Connection's local identity, handshake parameters,
// and resource limits.
type Config struct {
	NetworkID             string
	ProtocolVersion       string // this process's advertised version, e.g. "0.0.32"
	ProtocolVersionRange  string // semver constraint peers must satisfy, e.g. ">=0.0.30"
	SoftwareVersion       string
	ServerPort            uint16
	LocalNodeType         wire.NodeType
	LocalCapabilities     []wire.CapabilityEntry
	HandshakeTimeout      time.Duration
	RequestTimeout        time.Duration
	OutboundQueueSize     int
	OutboundPercentOfLimit int // percentage_of_limit for the outbound limiter (self-governor)

	InvalidProtocolBanDuration time.Duration
	RateLimitBanDuration       time.Duration
}

// DefaultConfig returns sensible defaults, mirroring the teacher's
// DefaultTransportConfig constructor shape.
func DefaultConfig() Config {
	return Config{
		ProtocolVersion:            "0.0.32",
		ProtocolVersionRange:       ">=0.0.1",
		SoftwareVersion:            "0.1.0",
		LocalCapabilities:          []wire.CapabilityEntry{{ID: wire.CapBase, Value: "1"}},
		HandshakeTimeout:           30 * time.Second,
		RequestTimeout:             30 * time.Second,
		OutboundQueueSize:          256,
		OutboundPercentOfLimit:     90,
		InvalidProtocolBanDuration: 10 * time.Second,
		RateLimitBanDuration:       600 * time.Second,
	}
}

// Dispatcher is the interface a Connection hands unsolicited inbound
// messages (no pending reply match) to.
type Dispatcher interface {
	Dispatch(c *Connection, msg *wire.Message)
}

// BanFunc is invoked when a peer's behavior warrants a host ban (§7).
type BanFunc func(host string, reason string, duration time.Duration)

// Connection wraps one accepted or dialed TLS WebSocket to a single peer.
// It owns inbound/outbound rate limiters, the pending-reply table, a
// single writer task, and a single reader task.
type Connection struct {
	TraceID   string
	ws        *websocket.Conn
	cfg       Config
	direction Direction
	peerHost  string

	mu           sync.RWMutex
	state        State
	peerNodeID   string
	peerNodeType wire.NodeType
	peerCaps     []wire.CapabilityEntry

	inboundLimiter  *ratelimit.Limiter
	outboundLimiter *ratelimit.Limiter

	pendingMu   sync.Mutex
	pending     map[uint16]chan *wire.Message
	sentType    map[uint16]wire.MessageType
	nextID      uint16

	outbound chan *wire.Message
	dispatch Dispatcher
	ban      BanFunc

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	pingMu      sync.Mutex
	pingSentAt  time.Time
	pongCh      chan time.Duration
}

// New wraps an already-upgraded WebSocket connection. peerHost is the
// remote address as presented at accept/dial time, used for ban lookups.
func New(ws *websocket.Conn, direction Direction, peerHost string, cfg Config, dispatch Dispatcher, ban BanFunc) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		TraceID:   uuid.NewString(),
		ws:        ws,
		cfg:       cfg,
		direction: direction,
		peerHost:  peerHost,
		state:     StateAwaitingHandshake,
		pending:   make(map[uint16]chan *wire.Message),
		sentType:  make(map[uint16]wire.MessageType),
		outbound:  make(chan *wire.Message, cfg.OutboundQueueSize),
		dispatch:  dispatch,
		ban:       ban,
		ctx:       ctx,
		cancel:    cancel,
	}
	tables := ratelimit.Tables{Tx: ratelimit.RateLimitsTxV1, Other: ratelimit.RateLimitsOtherV1}
	c.inboundLimiter = ratelimit.New(true, tables, 100)
	c.outboundLimiter = ratelimit.New(false, tables, cfg.OutboundPercentOfLimit)
	return c
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// StateNow returns the connection's current lifecycle state.
func (c *Connection) StateNow() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// PeerNodeID returns the peer's node id, populated once the handshake
// completes.
func (c *Connection) PeerNodeID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerNodeID
}

// PeerNodeType returns the peer's declared NodeType.
func (c *Connection) PeerNodeType() wire.NodeType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerNodeType
}

// PeerHost returns the remote host as presented at connection time.
func (c *Connection) PeerHost() string {
	return c.peerHost
}

// Direction reports whether this connection was dialed or accepted.
func (c *Connection) Direction() Direction {
	return c.direction
}

// Run performs the handshake and, on success, starts the steady-state
// reader and writer tasks. It blocks until the handshake completes or
// fails; the caller should register the connection (keyed by peer node
// id) only after Run returns nil.
func (c *Connection) Run() error {
	if err := c.handshake(); err != nil {
		c.closeHandshakeFailure(err)
		return err
	}
	c.setState(StateEstablished)

	c.ws.SetPongHandler(func(string) error {
		c.pingMu.Lock()
		sentAt := c.pingSentAt
		ch := c.pongCh
		c.pingMu.Unlock()
		if ch != nil && !sentAt.IsZero() {
			select {
			case ch <- time.Since(sentAt):
			default:
			}
		}
		return nil
	})

	c.wg.Add(2)
	go c.writerLoop()
	go c.readerLoop()
	return nil
}

// Ping sends a WebSocket-level ping control frame (distinct from any
// application message type) and measures the round trip to the matching
// pong. It is the basis for the control socket's latency check, not part
// of the application protocol's message flow.
func (c *Connection) Ping(timeout time.Duration) (time.Duration, error) {
	if c.StateNow() != StateEstablished {
		return 0, ErrClosed
	}

	c.pingMu.Lock()
	c.pingSentAt = time.Now()
	ch := make(chan time.Duration, 1)
	c.pongCh = ch
	c.pingMu.Unlock()

	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
		return 0, fmt.Errorf("node: ping write failed: %w", err)
	}

	select {
	case rtt := <-ch:
		return rtt, nil
	case <-time.After(timeout):
		return 0, ErrTimeout
	case <-c.ctx.Done():
		return 0, ErrClosed
	}
}

func (c *Connection) localHandshakeMessage() *wire.Message {
	h := &wire.Handshake{
		NetworkID:       c.cfg.NetworkID,
		ProtocolVersion: c.cfg.ProtocolVersion,
		SoftwareVersion: c.cfg.SoftwareVersion,
		ServerPort:      c.cfg.ServerPort,
		NodeType:        c.cfg.LocalNodeType,
		Capabilities:    c.cfg.LocalCapabilities,
	}
	return wire.NewMessage(wire.MsgHandshake, h.EncodePayload())
}

// handshake implements §4.2's handshake sub-state-machine: the first
// message on the wire must be a MsgHandshake, validated for network id,
// protocol-version compatibility, and a recognized NodeType, within
// HandshakeTimeout.
func (c *Connection) handshake() error {
	deadline := time.Now().Add(c.cfg.HandshakeTimeout)
	c.ws.SetWriteDeadline(deadline)
	c.ws.SetReadDeadline(deadline)
	defer func() {
		c.ws.SetWriteDeadline(time.Time{})
		c.ws.SetReadDeadline(time.Time{})
	}()

	local := c.localHandshakeMessage()
	localEnc, err := local.Encode()
	if err != nil {
		return fmt.Errorf("encode local handshake: %w", err)
	}

	if c.direction == DirectionOutbound {
		if err := c.ws.WriteMessage(websocket.BinaryMessage, localEnc); err != nil {
			return fmt.Errorf("send handshake: %w", err)
		}
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	if c.direction == DirectionInbound {
		if err := c.ws.WriteMessage(websocket.BinaryMessage, localEnc); err != nil {
			return fmt.Errorf("send handshake: %w", err)
		}
	}

	msg, err := wire.Decode(data)
	if err != nil {
		return &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidHandshake}
	}
	if msg.Type != wire.MsgHandshake {
		return &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidHandshake}
	}

	peerHandshake, err := wire.DecodeHandshake(msg.Payload)
	if err != nil {
		return &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidHandshake}
	}
	if peerHandshake.NetworkID != c.cfg.NetworkID {
		return &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidHandshake}
	}
	if !peerHandshake.NodeType.Known() {
		return &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidHandshake}
	}
	if err := checkProtocolVersion(c.cfg.ProtocolVersionRange, peerHandshake.ProtocolVersion); err != nil {
		return &ProtocolError{Code: CloseProtocolError, Reason: ReasonInvalidHandshake}
	}

	c.mu.Lock()
	c.peerNodeType = peerHandshake.NodeType
	c.peerCaps = peerHandshake.Capabilities
	c.peerNodeID = c.derivePeerNodeID()
	c.mu.Unlock()

	tables := ratelimit.SelectRateLimits(c.cfg.LocalCapabilities, peerHandshake.Capabilities)
	c.inboundLimiter = ratelimit.New(true, tables, 100)
	c.outboundLimiter = ratelimit.New(false, tables, c.cfg.OutboundPercentOfLimit)

	return nil
}

// derivePeerNodeID identifies the peer independently of anything it claims
// in the handshake payload: it is the sha256 of the peer's TLS leaf
// certificate, mirroring mutual-TLS node identity (§6) so a peer cannot
// spoof another's node id by replaying its handshake bytes. Connections
// with no TLS layer underneath (plain-websocket test harnesses) fall back
// to a locally-unique id so registry keying and duplicate-connection
// suppression still function in tests.
func (c *Connection) derivePeerNodeID() string {
	if tlsConn, ok := c.ws.UnderlyingConn().(*tls.Conn); ok {
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) > 0 {
			sum := sha256.Sum256(state.PeerCertificates[0].Raw)
			return hex.EncodeToString(sum[:])
		}
	}
	sum := sha256.Sum256([]byte(c.peerHost + "|" + c.TraceID))
	return hex.EncodeToString(sum[:])
}

// checkProtocolVersion validates peerVersion against a semver constraint
// range, replacing the teacher's exact-string IsProtocolVersionSupported
// check with a real constraint match (SPEC_FULL §4.2/§6).
func checkProtocolVersion(rangeConstraint, peerVersion string) error {
	if rangeConstraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(rangeConstraint)
	if err != nil {
		return fmt.Errorf("invalid local version constraint: %w", err)
	}
	v, err := semver.NewVersion(peerVersion)
	if err != nil {
		return fmt.Errorf("invalid peer version %q: %w", peerVersion, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("peer protocol version %s does not satisfy %s", peerVersion, rangeConstraint)
	}
	return nil
}

// Send enqueues msg for the writer task after an outbound rate-limit
// check. On reject, the message is silently dropped and errOutboundQueueFull-
// or-Rejected is returned — the caller never blocks.
func (c *Connection) Send(msg *wire.Message) error {
	if c.StateNow() != StateEstablished {
		return ErrClosed
	}
	encoded, err := msg.Encode()
	if err != nil {
		return err
	}
	if !c.outboundLimiter.CheckAndAccount(msg.Type, len(encoded)) {
		return fmt.Errorf("node: outbound message rejected by rate limiter")
	}
	select {
	case c.outbound <- msg:
		return nil
	default:
		return errOutboundQueueFull
	}
}

// Request allocates a fresh id, registers it in the pending-reply table,
// and sends msg. It resolves when a permitted reply (per VALID_REPLY_MAP)
// arrives, the timeout elapses, or the connection closes. Only message
// types with a VALID_REPLY_MAP entry may be used as requests.
func (c *Connection) Request(ctx context.Context, t wire.MessageType, payload []byte, timeout time.Duration) (*wire.Message, error) {
	if !wire.MessageRequiresReply(t) {
		return nil, fmt.Errorf("node: message type %v does not expect a reply", t)
	}
	if timeout <= 0 {
		timeout = c.cfg.RequestTimeout
	}

	id, ch := c.registerPending(t)
	defer c.clearPending(id)

	msg := wire.NewRequest(t, id, payload)
	if err := c.Send(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-ch:
		if reply == nil {
			return nil, ErrClosed
		}
		return reply, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
}

func (c *Connection) registerPending(sent wire.MessageType) (uint16, chan *wire.Message) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for {
		id := c.nextID
		c.nextID++
		if _, taken := c.pending[id]; !taken {
			ch := make(chan *wire.Message, 1)
			c.pending[id] = ch
			c.sentType[id] = sent
			return id, ch
		}
	}
}

func (c *Connection) clearPending(id uint16) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, id)
	delete(c.sentType, id)
}

// resolveReply delivers an inbound message to its pending request if its
// id matches and the reply type is permitted. A message with no id or an
// unknown id returns handled=false so the caller treats it as unsolicited;
// a matching id with a reply type outside VALID_REPLY_MAP returns
// handled=true and violatesReplyType=true and is not delivered.
func (c *Connection) resolveReply(msg *wire.Message) (handled bool, violatesReplyType bool) {
	if msg.ID == nil {
		return false, false
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[*msg.ID]
	sent, sentOK := c.sentType[*msg.ID]
	c.pendingMu.Unlock()
	if !ok {
		return false, false
	}
	if sentOK && !wire.MessageResponseOK(sent, msg.Type) {
		return true, true
	}
	c.clearPending(*msg.ID)
	select {
	case ch <- msg:
	default:
	}
	return true, false
}

func (c *Connection) writerLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.outbound:
			encoded, err := msg.Encode()
			if err != nil {
				continue
			}
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.BinaryMessage, encoded); err != nil {
				c.closeLocked(CloseAbnormal, err)
				return
			}
		}
	}
}

func (c *Connection) readerLoop() {
	defer c.wg.Done()
	defer func() { go c.Close(CloseNormal, "", false) }()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.closeLocked(CloseAbnormal, err)
			return
		}

		if len(data) > wire.MaxMessageSize {
			logging.Warn("oversize frame, banning host", logging.Fields{"peer_host": c.peerHost, "size": len(data)})
			c.closeAndBan(CloseMessageTooBig, "message too big", c.cfg.InvalidProtocolBanDuration)
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			logging.Warn("decode failure, banning host", logging.Fields{"peer_host": c.peerHost, "error": err.Error()})
			c.closeAndBan(CloseProtocolError, "decode error", c.cfg.InvalidProtocolBanDuration)
			return
		}

		if !c.inboundLimiter.CheckAndAccount(msg.Type, len(data)) {
			logging.Warn("inbound rate limit exceeded, banning host", logging.Fields{"peer_host": c.peerHost, "type": msg.Type.String()})
			c.closeAndBan(CloseProtocolError, "rate limit exceeded", c.cfg.RateLimitBanDuration)
			return
		}

		handled, violates := c.resolveReply(msg)
		if violates {
			logging.Warn("invalid reply type, banning host", logging.Fields{"peer_host": c.peerHost, "type": msg.Type.String()})
			c.closeAndBan(CloseProtocolError, "invalid reply type", c.cfg.InvalidProtocolBanDuration)
			return
		}
		if handled {
			continue
		}

		if c.dispatch != nil {
			c.dispatch.Dispatch(c, msg)
		}
	}
}

func (c *Connection) closeAndBan(code CloseCode, reason string, duration time.Duration) {
	c.Close(code, reason, true)
	if c.ban != nil {
		host, _, err := net.SplitHostPort(c.peerHost)
		if err != nil {
			host = c.peerHost
		}
		c.ban(host, reason, duration)
	}
}

func (c *Connection) closeLocked(code CloseCode, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	c.Close(code, reason, false)
}

// closeHandshakeFailure routes a handshake error to the right close/ban
// outcome per §4.2/§7: a protocol violation (bad first message, network-id
// mismatch, unknown node_type, version mismatch) or a handshake timeout
// bans the host for InvalidProtocolBanDuration; any other transport-level
// failure (peer hung up mid-handshake) closes without banning.
func (c *Connection) closeHandshakeFailure(err error) {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		logging.Warn("invalid handshake, banning host", logging.Fields{"peer_host": c.peerHost, "reason": protoErr.Reason})
		c.closeAndBan(protoErr.Code, string(protoErr.Reason), c.cfg.InvalidProtocolBanDuration)
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		logging.Warn("handshake timeout, banning host", logging.Fields{"peer_host": c.peerHost})
		c.closeAndBan(CloseProtocolError, "handshake timeout", c.cfg.InvalidProtocolBanDuration)
		return
	}

	c.closeLocked(CloseAbnormal, err)
}

// Close is idempotent: it transitions to closing, cancels the reader and
// writer tasks, fails every pending reply with ErrClosed, and closes the
// underlying socket. The ban flag is only recorded in the close log line;
// Close does not ban the host itself — closeAndBan does that through the
// BanFunc.
func (c *Connection) Close(code CloseCode, reason string, ban bool) error {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		c.cancel()

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
			delete(c.sentType, id)
		}
		c.pendingMu.Unlock()

		c.closeErr = c.ws.Close()
		c.setState(StateClosed)
		logging.Debug("connection closed", logging.Fields{"peer_host": c.peerHost, "code": int(code), "reason": reason, "ban": ban})
	})
	return c.closeErr
}

// Wait blocks until both the reader and writer tasks have returned.
func (c *Connection) Wait() {
	c.wg.Wait()
}
