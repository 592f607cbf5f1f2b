package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Snider/NodeCore/pkg/logging"
	"github.com/Snider/NodeCore/pkg/node"
	"github.com/Snider/NodeCore/pkg/wire"
	"github.com/gorilla/websocket"
)

// Server owns the TLS accept loop, the established-connection registry,
// the ban list, and outbound dialing (§4.5). It is the single coarse-lock
// owner for connection-set mutation, per the spec's concurrency model.
type Server struct {
	cfg        Config
	nodeCfg    node.Config
	tlsConfig  *tls.Config
	dispatcher node.Dispatcher

	mu       sync.RWMutex
	registry map[string]*node.Connection // keyed by peer node id

	pending atomic.Int64 // connections mid-handshake, not yet registered

	bans *BanList

	listener   *pausableListener
	httpServer *http.Server
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server. tlsConfig must already be configured for mutual
// TLS (client cert required, CA pool set) per §6.
func New(cfg Config, tlsConfig *tls.Config, nodeCfg node.Config, dispatcher node.Dispatcher) *Server {
	nodeCfg.NetworkID = cfg.NetworkID
	nodeCfg.HandshakeTimeout = cfg.SSLHandshakeTimeout
	nodeCfg.InvalidProtocolBanDuration = time.Duration(cfg.InvalidProtocolBanSeconds) * time.Second
	nodeCfg.RateLimitBanDuration = time.Duration(cfg.RateLimitBanSeconds) * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		nodeCfg:    nodeCfg,
		tlsConfig:  tlsConfig,
		dispatcher: dispatcher,
		registry:   make(map[string]*node.Connection),
		bans:       NewBanList(cfg.TestingMode),
		ctx:        ctx,
		cancel:     cancel,
		upgrader:   websocket.Upgrader{HandshakeTimeout: cfg.SSLHandshakeTimeout},
	}
	return s
}

// BanList exposes the server's ban table, e.g. for a diagnostics surface
// or the control CLI.
func (s *Server) BanList() *BanList { return s.bans }

// ActiveCount returns the number of established connections.
func (s *Server) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.registry)
}

// Start begins listening on cfg.ListenAddr and serving the WebSocket
// upgrade endpoint over TLS.
func (s *Server) Start() error {
	raw, err := tls.Listen("tcp", s.cfg.ListenAddr, s.tlsConfig)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = newPausableListener(raw)

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			logging.Error("accept loop exited", logging.Fields{"error": err.Error()})
		}
	}()

	logging.Info("server listening", logging.Fields{"addr": s.cfg.ListenAddr})
	return nil
}

// Stop cancels the accept loop, closes every registered connection in
// parallel, and waits up to timeout before returning.
func (s *Server) Stop(timeout time.Duration) error {
	s.cancel()
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}

	s.mu.RLock()
	conns := make([]*node.Connection, 0, len(s.registry))
	for _, c := range s.registry {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, c := range conns {
			wg.Add(1)
			go func(c *node.Connection) {
				defer wg.Done()
				c.Close(node.CloseNormal, "server shutdown", false)
				c.Wait()
			}(c)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logging.Warn("shutdown timeout exceeded, dropping remaining connections", logging.Fields{"count": len(conns)})
	}

	s.wg.Wait()
	return nil
}

func (s *Server) admitted() bool {
	return int64(s.ActiveCount())+s.pending.Load() < int64(s.cfg.admissionCeiling())
}

func (s *Server) updatePauseState() {
	active := s.ActiveCount()
	if active >= s.cfg.ConnectionLimit {
		s.listener.pause()
	} else if active <= s.cfg.resumeThreshold() {
		s.listener.resume()
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	host := hostOf(r.RemoteAddr)

	if s.bans.IsBanned(host) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.admitted() {
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", logging.Fields{"peer_host": host, "error": err.Error()})
		return
	}

	s.pending.Add(1)
	defer s.pending.Add(-1)

	s.runConnection(ws, node.DirectionInbound, r.RemoteAddr)
}

// DialPeer establishes an outbound TLS WebSocket connection to addr,
// performs the handshake, and — on success — registers it. Duplicate-
// target suppression closes the new connection with DuplicateConnection
// if a connection to the same node_id already exists (§4.5).
func (s *Server) DialPeer(ctx context.Context, addr string) (*node.Connection, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  s.tlsConfig,
		HandshakeTimeout: s.cfg.SSLHandshakeTimeout,
	}
	url := "wss://" + addr + "/"
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("server: dial %s: %w", addr, err)
	}

	return s.runConnection(ws, node.DirectionOutbound, addr)
}

func (s *Server) runConnection(ws *websocket.Conn, direction node.Direction, peerHost string) (*node.Connection, error) {
	host := hostOf(peerHost)
	conn := node.New(ws, direction, host, s.nodeCfg, s.dispatcher, s.banHost)

	if err := conn.Run(); err != nil {
		ws.Close()
		return nil, err
	}

	nodeID := conn.PeerNodeID()

	s.mu.Lock()
	if existing, dup := s.registry[nodeID]; dup && existing != nil {
		s.mu.Unlock()
		conn.Close(node.CloseDuplicateConnection, "duplicate connection", false)
		return nil, fmt.Errorf("server: duplicate connection to node %s", nodeID)
	}
	s.registry[nodeID] = conn
	s.mu.Unlock()
	s.updatePauseState()

	go func() {
		conn.Wait()
		s.mu.Lock()
		if s.registry[nodeID] == conn {
			delete(s.registry, nodeID)
		}
		s.mu.Unlock()
		s.updatePauseState()
	}()

	return conn, nil
}

func (s *Server) banHost(host, reason string, duration time.Duration) {
	s.bans.Ban(host, duration)
	logging.Warn("host banned", logging.Fields{"host": host, "reason": reason, "duration": duration.String()})
}

// ClearBan satisfies node.BanClearer for the local control socket: it
// lifts a ban on host before its expiry, for the `noded ban clear` CLI.
func (s *Server) ClearBan(host string) error {
	s.bans.Clear(host)
	return nil
}

// PingPeer satisfies node.PeerPinger for the local control socket: it
// looks up the connection by node id and round-trips a WebSocket ping.
func (s *Server) PingPeer(nodeID string) (float64, error) {
	s.mu.RLock()
	conn, ok := s.registry[nodeID]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("server: no connection to node %s", nodeID)
	}
	rtt, err := conn.Ping(5 * time.Second)
	if err != nil {
		return 0, err
	}
	return float64(rtt.Microseconds()) / 1000.0, nil
}

// ConnectionByNodeID returns the registered connection for nodeID, if any.
func (s *Server) ConnectionByNodeID(nodeID string) (*node.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.registry[nodeID]
	return c, ok
}

// Connections returns a snapshot of all established connections, for
// diagnostics.
func (s *Server) Connections() []*node.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*node.Connection, 0, len(s.registry))
	for _, c := range s.registry {
		out = append(out, c)
	}
	return out
}

// ConnectionsOfType returns a snapshot of established connections whose
// peer declared nodeType, for BroadcastRouter (§4.6).
func (s *Server) ConnectionsOfType(nodeType wire.NodeType) []*node.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*node.Connection, 0, len(s.registry))
	for _, c := range s.registry {
		if c.PeerNodeType() == nodeType {
			out = append(out, c)
		}
	}
	return out
}

func hostOf(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

// pausableListener wraps a net.Listener so admission control can stop
// accepting without closing the socket — the Go equivalent of removing
// the listener from a reactor's readable set (§4.5).
type pausableListener struct {
	net.Listener
	mu     sync.Mutex
	cond   *sync.Cond
	paused bool
	closed bool
}

func newPausableListener(l net.Listener) *pausableListener {
	pl := &pausableListener{Listener: l}
	pl.cond = sync.NewCond(&pl.mu)
	return pl
}

func (l *pausableListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	for l.paused && !l.closed {
		l.cond.Wait()
	}
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, net.ErrClosed
	}
	return l.Listener.Accept()
}

func (l *pausableListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	return l.Listener.Close()
}

func (l *pausableListener) pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

func (l *pausableListener) resume() {
	l.mu.Lock()
	l.paused = false
	l.cond.Broadcast()
	l.mu.Unlock()
}
