package node

import (
	"fmt"
	"net"
	"net/rpc"
	"os"
	"path/filepath"
	"time"

	"github.com/Snider/NodeCore/pkg/logging"
	"github.com/adrg/xdg"
)

// PeerPinger is the narrow capability ControlService needs from whatever
// owns the live connection set — implemented by pkg/server.Server. Keeping
// this as a local interface lets pkg/node stay free of an import on
// pkg/server, which itself depends on pkg/node.
type PeerPinger interface {
	PingPeer(nodeID string) (float64, error)
}

// BanClearer lifts a host ban early, for the `noded ban clear` CLI command.
type BanClearer interface {
	ClearBan(host string) error
}

// ControlService exposes node commands via RPC over the local control
// socket — an operator loopback surface, not the network-facing protocol.
type ControlService struct {
	pinger  PeerPinger
	clearer BanClearer
}

// UnbanArgs names the host to lift a ban from.
type UnbanArgs struct {
	Host string
}

// UnbanReply is empty; a nil error from Unban means success.
type UnbanReply struct{}

// Unban lifts a ban on the given host, if one is active.
func (s *ControlService) Unban(args *UnbanArgs, reply *UnbanReply) error {
	if s.clearer == nil {
		return fmt.Errorf("control service not attached to a running server")
	}
	return s.clearer.ClearBan(args.Host)
}

// PingArgs represents arguments for the Ping command.
type PingArgs struct {
	PeerID string
}

// PingReply represents the response from the Ping command.
type PingReply struct {
	LatencyMS float64
}

// Ping sends a ping to the specified peer.
func (s *ControlService) Ping(args *PingArgs, reply *PingReply) error {
	if s.pinger == nil {
		return fmt.Errorf("control service not attached to a running server")
	}

	latency, err := s.pinger.PingPeer(args.PeerID)
	if err != nil {
		return err
	}

	reply.LatencyMS = latency
	return nil
}

// StartControlServer starts the RPC server on a Unix socket.
// Returns the listener, which should be closed by the caller.
func StartControlServer(pinger PeerPinger, clearer BanClearer) (net.Listener, error) {
	service := &ControlService{pinger: pinger, clearer: clearer}
	server := rpc.NewServer()
	if err := server.Register(service); err != nil {
		return nil, fmt.Errorf("failed to register control service: %w", err)
	}

	sockPath, err := getControlSocketPath()
	if err != nil {
		return nil, err
	}

	// Remove stale socket file if it exists
	if _, err := os.Stat(sockPath); err == nil {
		// Try to connect to see if it's active
		if conn, err := net.DialTimeout("unix", sockPath, 100*time.Millisecond); err == nil {
			conn.Close()
			return nil, fmt.Errorf("control socket already in use: %s", sockPath)
		}
		// Not active, remove it
		if err := os.Remove(sockPath); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(sockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket %s: %w", sockPath, err)
	}

	// Set permissions so only user can access
	if err := os.Chmod(sockPath, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	logging.Info("control server started", logging.Fields{"address": sockPath})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				// Check if listener was closed (ErrNetClosing is not exported, check string or type)
				// Simply returning on error is usually fine for this use case
				return
			}
			go server.ServeConn(conn)
		}
	}()

	return listener, nil
}

// NewControlClient creates a new RPC client connected to the control server.
func NewControlClient() (*rpc.Client, error) {
	sockPath, err := getControlSocketPath()
	if err != nil {
		return nil, err
	}

	// Use DialTimeout to fail fast if server is not running
	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control socket (is 'noded serve' running?): %w", err)
	}

	return rpc.NewClient(conn), nil
}

// getControlSocketPath returns the path to the control socket.
func getControlSocketPath() (string, error) {
	return xdg.RuntimeFile("nodecore/node.sock")
}
