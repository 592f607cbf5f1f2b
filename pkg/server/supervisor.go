package server

import (
	"context"
	"time"

	"github.com/Snider/NodeCore/pkg/logging"
	"github.com/Snider/NodeCore/pkg/node"
)

// ShutdownTimeout bounds how long Supervisor.Stop waits for in-flight
// connections to close gracefully before forcibly dropping them,
// mirroring the teacher's Transport.Stop 5s ceiling.
const ShutdownTimeout = 5 * time.Second

// Supervisor owns a Server's full lifecycle plus the background
// reconnection loop that keeps outbound peer count topped up from the
// peer registry's nearest-peer selection.
type Supervisor struct {
	srv      *Server
	registry *node.PeerRegistry

	minOutbound int
	dialTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor builds a Supervisor around an already-constructed Server
// and peer registry. minOutbound is the target number of outbound
// connections the reconnect loop tries to maintain.
func NewSupervisor(srv *Server, registry *node.PeerRegistry, minOutbound int) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		srv:         srv,
		registry:    registry,
		minOutbound: minOutbound,
		dialTimeout: 10 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start starts the Server's accept loop and the reconnect loop.
func (sv *Supervisor) Start() error {
	if err := sv.srv.Start(); err != nil {
		return err
	}
	go sv.reconnectLoop()
	return nil
}

// Stop drains the reconnect loop and shuts down the Server, giving
// in-flight connections ShutdownTimeout to close before forcing.
func (sv *Supervisor) Stop() error {
	sv.cancel()
	<-sv.done
	return sv.srv.Stop(ShutdownTimeout)
}

func (sv *Supervisor) reconnectLoop() {
	defer close(sv.done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sv.ctx.Done():
			return
		case <-ticker.C:
			sv.topUpOutbound()
		}
	}
}

func (sv *Supervisor) topUpOutbound() {
	if sv.registry == nil {
		return
	}
	outbound := 0
	for _, c := range sv.srv.Connections() {
		if c.Direction() == node.DirectionOutbound {
			outbound++
		}
	}
	deficit := sv.minOutbound - outbound
	if deficit <= 0 {
		return
	}

	candidates := sv.registry.SelectNearestPeers(deficit)
	for _, p := range candidates {
		if p.Connected || p.Address == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(sv.ctx, sv.dialTimeout)
		_, err := sv.srv.DialPeer(ctx, p.Address)
		cancel()
		if err != nil {
			logging.Warn("reconnect attempt failed", logging.Fields{"peer": p.ID, "address": p.Address, "error": err.Error()})
			continue
		}
		sv.registry.SetConnected(p.ID, true)
	}
}
