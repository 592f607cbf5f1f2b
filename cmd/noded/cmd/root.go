// Package cmd implements the noded CLI: identity and peer-registry
// management, CA/node certificate bootstrap, and the `serve` subcommand
// that runs the p2p server core itself.
package cmd

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Snider/NodeCore/pkg/node"
	"github.com/Snider/NodeCore/pkg/wire"
	"github.com/spf13/cobra"
)

const nodeCoreVersion = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "noded",
	Short:   "NodeCore — peer-to-peer server core for a Chia-like blockchain node",
	Long:    `noded runs and inspects the authenticated, rate-limited TLS WebSocket peer core shared by full node, wallet, farmer, harvester, timelord, and introducer roles.`,
	Version: nodeCoreVersion,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

var (
	nodeManager     *node.NodeManager
	nodeManagerOnce sync.Once
	nodeManagerErr  error

	peerRegistry     *node.PeerRegistry
	peerRegistryOnce sync.Once
	peerRegistryErr  error
)

func getNodeManager() (*node.NodeManager, error) {
	nodeManagerOnce.Do(func() {
		nodeManager, nodeManagerErr = node.NewNodeManager()
	})
	return nodeManager, nodeManagerErr
}

func getPeerRegistry() (*node.PeerRegistry, error) {
	peerRegistryOnce.Do(func() {
		peerRegistry, peerRegistryErr = node.NewPeerRegistry()
	})
	return peerRegistry, peerRegistryErr
}

func findPeerByPartialID(pr *node.PeerRegistry, partial string) *node.Peer {
	for _, p := range pr.ListPeers() {
		if p.ID == partial || len(p.ID) >= len(partial) && p.ID[:len(partial)] == partial {
			return p
		}
	}
	return nil
}

var nodeTypeByName = map[string]wire.NodeType{
	"full_node":  wire.NodeFullNode,
	"wallet":     wire.NodeWallet,
	"farmer":     wire.NodeFarmer,
	"harvester":  wire.NodeHarvester,
	"timelord":   wire.NodeTimelord,
	"introducer": wire.NodeIntroducer,
}

func nodeTypeFromFlag(s string) (wire.NodeType, error) {
	nt, ok := nodeTypeByName[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("invalid node type %q (use full_node, wallet, farmer, harvester, timelord, or introducer)", s)
	}
	return nt, nil
}
