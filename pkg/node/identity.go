// Package node provides the peer registry, node identity, and
// per-connection protocol machinery for the p2p server core.
package node

import (
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Snider/Borg/pkg/stmf"
	"github.com/Snider/NodeCore/pkg/wire"
	"github.com/adrg/xdg"
)

// NodeIdentity represents the public identity of a node: its node id
// (derived from its X25519 public key, independent of whatever TLS
// certificate secures the transport), its declared NodeType, and its
// advertised capability set.
type NodeIdentity struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	PublicKey    string                 `json:"publicKey"`
	NodeType     wire.NodeType          `json:"nodeType"`
	Capabilities []wire.CapabilityEntry `json:"capabilities"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// NodeManager owns the node's long-lived X25519 identity keypair and
// persists it to disk. The keypair identifies the node across
// reconnects and TLS-cert rotations, separate from the TLS session
// identity, which secures the transport itself. Neither the key nor the
// node id is sent in the handshake; the handshake carries only the
// NodeType and capability set stored with the identity.
type NodeManager struct {
	identity   *NodeIdentity
	privateKey []byte // never serialized
	keyPair    *stmf.KeyPair
	keyPath    string
	configPath string
	mu         sync.RWMutex
}

// NewNodeManager creates a NodeManager backed by the platform's standard
// XDG data/config directories, loading an existing identity if present.
func NewNodeManager() (*NodeManager, error) {
	keyPath, err := xdg.DataFile("nodecore/identity/private.key")
	if err != nil {
		return nil, fmt.Errorf("failed to get key path: %w", err)
	}
	configPath, err := xdg.ConfigFile("nodecore/identity.json")
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return NewNodeManagerWithPaths(keyPath, configPath)
}

// NewNodeManagerWithPaths creates a NodeManager with explicit paths,
// primarily so tests can avoid XDG path caching.
func NewNodeManagerWithPaths(keyPath, configPath string) (*NodeManager, error) {
	nm := &NodeManager{keyPath: keyPath, configPath: configPath}
	if err := nm.loadIdentity(); err != nil {
		return nm, nil
	}
	return nm, nil
}

// HasIdentity reports whether a node identity has been initialized.
func (n *NodeManager) HasIdentity() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.identity != nil
}

// GetIdentity returns a copy of the node's public identity, or nil if
// none has been generated yet.
func (n *NodeManager) GetIdentity() *NodeIdentity {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.identity == nil {
		return nil
	}
	identity := *n.identity
	return &identity
}

// GenerateIdentity creates a new node identity for the given NodeType and
// capability set, persisting the keypair and identity to disk.
func (n *NodeManager) GenerateIdentity(name string, nodeType wire.NodeType, caps []wire.CapabilityEntry) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	keyPair, err := stmf.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate keypair: %w", err)
	}

	pubKeyBytes := keyPair.PublicKey()
	hash := sha256.Sum256(pubKeyBytes)
	nodeID := hex.EncodeToString(hash[:16])

	n.identity = &NodeIdentity{
		ID:           nodeID,
		Name:         name,
		PublicKey:    keyPair.PublicKeyBase64(),
		NodeType:     nodeType,
		Capabilities: caps,
		CreatedAt:    time.Now(),
	}
	n.keyPair = keyPair
	n.privateKey = keyPair.PrivateKey()

	if err := n.savePrivateKey(); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	if err := n.saveIdentity(); err != nil {
		return fmt.Errorf("failed to save identity: %w", err)
	}
	return nil
}

// DeriveSharedSecret derives a shared secret with a peer's advertised
// public key via X25519 ECDH, hashed with SHA-256. This is not used to
// build a transport cipher — mutual TLS owns transport confidentiality —
// but is available for identity-binding protocols layered above it (e.g.
// proving control of the node id out of band).
func (n *NodeManager) DeriveSharedSecret(peerPubKeyBase64 string) ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.privateKey == nil {
		return nil, fmt.Errorf("node identity not initialized")
	}

	peerPubKey, err := stmf.LoadPublicKeyBase64(peerPubKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to load peer public key: %w", err)
	}
	privateKey, err := ecdh.X25519().NewPrivateKey(n.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	sharedSecret, err := privateKey.ECDH(peerPubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	hash := sha256.Sum256(sharedSecret)
	return hash[:], nil
}

// GetPublicKey returns the node's public key in base64, or "" if the
// identity hasn't been generated yet.
func (n *NodeManager) GetPublicKey() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.identity == nil {
		return ""
	}
	return n.identity.PublicKey
}

func (n *NodeManager) savePrivateKey() error {
	dir := filepath.Dir(n.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(n.keyPath, n.privateKey, 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

func (n *NodeManager) saveIdentity() error {
	dir := filepath.Dir(n.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(n.identity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	if err := os.WriteFile(n.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write identity: %w", err)
	}
	return nil
}

func (n *NodeManager) loadIdentity() error {
	data, err := os.ReadFile(n.configPath)
	if err != nil {
		return fmt.Errorf("failed to read identity: %w", err)
	}
	var identity NodeIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	privateKey, err := os.ReadFile(n.keyPath)
	if err != nil {
		return fmt.Errorf("failed to read private key: %w", err)
	}
	keyPair, err := stmf.LoadKeyPair(privateKey)
	if err != nil {
		return fmt.Errorf("failed to load keypair: %w", err)
	}
	n.identity = &identity
	n.privateKey = privateKey
	n.keyPair = keyPair
	return nil
}

// UpdateName updates the node's display name and persists it.
func (n *NodeManager) UpdateName(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.identity == nil {
		return fmt.Errorf("node identity not initialized")
	}
	n.identity.Name = name
	return n.saveIdentity()
}

// Delete removes the node identity and keys from disk.
func (n *NodeManager) Delete() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := os.Remove(n.keyPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove private key: %w", err)
	}
	if err := os.Remove(n.configPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove identity: %w", err)
	}
	n.identity = nil
	n.privateKey = nil
	n.keyPair = nil
	return nil
}
