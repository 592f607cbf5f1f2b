package node

import (
	"fmt"
	"sync"

	"github.com/Snider/NodeCore/pkg/logging"
	"github.com/Snider/NodeCore/pkg/wire"
)

// Handler processes one inbound message that did not resolve a pending
// request. Handlers run on the connection's reader goroutine: the reader
// does not dequeue the next frame until the handler returns, so a handler that
// blocks applies back-pressure to its own connection only.
type Handler func(c *Connection, msg *wire.Message)

// Registry maps (NodeType, MessageType) to the Handler that processes it,
// selecting the handler table by the peer's declared NodeType so a
// connection from a harvester and one from a wallet route through
// different tables even for message types both protocols share.
type Registry struct {
	mu       sync.RWMutex
	handlers map[wire.NodeType]map[wire.MessageType]Handler
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[wire.NodeType]map[wire.MessageType]Handler)}
}

// Register binds h to (nodeType, t). Registering the same pair twice is a
// startup configuration error, not a runtime condition, so it panics —
// mirroring wire's staticCheckSentMessageResponse.
func (r *Registry) Register(nodeType wire.NodeType, t wire.MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.handlers[nodeType]
	if !ok {
		table = make(map[wire.MessageType]Handler)
		r.handlers[nodeType] = table
	}
	if _, exists := table[t]; exists {
		panic(fmt.Sprintf("node: duplicate handler registration for %s/%s", nodeType, t))
	}
	table[t] = h
}

// Lookup returns the handler bound to (nodeType, t), if any.
func (r *Registry) Lookup(nodeType wire.NodeType, t wire.MessageType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.handlers[nodeType]
	if !ok {
		return nil, false
	}
	h, ok := table[t]
	return h, ok
}

// Router routes unsolicited inbound messages to the handler registered
// for the peer's NodeType and the message's type. A message type unknown
// to the registry for that NodeType is logged and dropped — forward
// compatibility requires tolerating message types this build doesn't yet
// handle, without closing the connection.
type Router struct {
	registry *Registry
}

// NewRouter wraps registry as a Dispatcher.
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Dispatch implements the Dispatcher interface consumed by Connection.
func (d *Router) Dispatch(c *Connection, msg *wire.Message) {
	nodeType := c.PeerNodeType()
	handler, ok := d.registry.Lookup(nodeType, msg.Type)
	if !ok {
		logging.Debug("no handler for message type, ignoring", logging.Fields{
			"peer_host": c.PeerHost(),
			"node_type": nodeType.String(),
			"type":      msg.Type.String(),
		})
		return
	}
	handler(c, msg)
}
