package server

import "github.com/Snider/NodeCore/pkg/wire"

// BroadcastRouter fans a message out to every established connection of a
// given NodeType, skipping an optional excluded peer (§4.6). Sends are
// best-effort: a rejection or a closed peer is silently skipped, and the
// set of peer node ids the message actually reached is returned.
type BroadcastRouter struct {
	srv *Server
}

// NewBroadcastRouter wraps srv.
func NewBroadcastRouter(srv *Server) *BroadcastRouter {
	return &BroadcastRouter{srv: srv}
}

// Broadcast sends msg to every established connection of nodeType except
// exclude (if non-empty), returning the node ids that accepted it.
func (r *BroadcastRouter) Broadcast(nodeType wire.NodeType, msg *wire.Message, exclude string) map[string]struct{} {
	sentTo := make(map[string]struct{})
	for _, c := range r.srv.ConnectionsOfType(nodeType) {
		id := c.PeerNodeID()
		if id == exclude {
			continue
		}
		if err := c.Send(msg); err == nil {
			sentTo[id] = struct{}{}
		}
	}
	return sentTo
}
