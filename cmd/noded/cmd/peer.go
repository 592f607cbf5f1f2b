package cmd

import (
	"fmt"
	"time"

	"github.com/Snider/NodeCore/pkg/node"
	"github.com/spf13/cobra"
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage known dial-target peers",
	Long:  `Add, list, remove, and rank the peers this node may dial outbound (§4.5's DialPeer reads from this registry).`,
}

var peerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a peer dial target",
	RunE: func(cmd *cobra.Command, args []string) error {
		address, _ := cmd.Flags().GetString("address")
		name, _ := cmd.Flags().GetString("name")
		nodeTypeFlag, _ := cmd.Flags().GetString("node-type")

		if address == "" {
			return fmt.Errorf("--address is required")
		}
		nodeType, err := nodeTypeFromFlag(nodeTypeFlag)
		if err != nil {
			return err
		}

		pr, err := getPeerRegistry()
		if err != nil {
			return fmt.Errorf("failed to open peer registry: %w", err)
		}

		peer := &node.Peer{
			ID:       fmt.Sprintf("pending-%d", time.Now().UnixNano()),
			Name:     name,
			Address:  address,
			NodeType: nodeType,
			AddedAt:  time.Now(),
			Score:    50,
		}
		if err := pr.AddPeer(peer); err != nil {
			return fmt.Errorf("failed to add peer: %w", err)
		}

		fmt.Printf("Peer added: %s at %s\n", name, address)
		fmt.Println("The real node id replaces this placeholder once 'noded serve' completes a handshake with it.")
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		pr, err := getPeerRegistry()
		if err != nil {
			return fmt.Errorf("failed to open peer registry: %w", err)
		}

		peers := pr.ListPeers()
		if len(peers) == 0 {
			fmt.Println("No peers registered. Use 'noded peer add --address <host:port> --name <name>'.")
			return nil
		}

		fmt.Printf("Registered peers (%d):\n\n", len(peers))
		for _, p := range peers {
			status := "offline"
			if p.Connected {
				status = "online"
			}
			fmt.Printf("  %s (%s)\n", p.Name, shortID(p.ID))
			fmt.Printf("    Address:   %s\n", p.Address)
			fmt.Printf("    Node Type: %s\n", p.NodeType)
			fmt.Printf("    Status:    %s\n", status)
			fmt.Printf("    Ping:      %.1f ms   Score: %.1f\n", p.PingMS, p.Score)
		}
		return nil
	},
}

var peerRemoveCmd = &cobra.Command{
	Use:   "remove <peer-id>",
	Short: "Remove a registered peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pr, err := getPeerRegistry()
		if err != nil {
			return fmt.Errorf("failed to open peer registry: %w", err)
		}
		p := findPeerByPartialID(pr, args[0])
		if p == nil {
			return fmt.Errorf("peer not found: %s", args[0])
		}
		if err := pr.RemovePeer(p.ID); err != nil {
			return fmt.Errorf("failed to remove peer: %w", err)
		}
		fmt.Printf("Peer removed: %s (%s)\n", p.Name, shortID(p.ID))
		return nil
	},
}

var peerNearestCmd = &cobra.Command{
	Use:   "nearest",
	Short: "Show the best peers by Poindexter's multi-factor ranking",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")

		pr, err := getPeerRegistry()
		if err != nil {
			return fmt.Errorf("failed to open peer registry: %w", err)
		}
		if pr.Count() == 0 {
			fmt.Println("No peers registered.")
			return nil
		}

		peers := pr.SelectNearestPeers(count)
		if len(peers) == 0 {
			fmt.Println("No peers found.")
			return nil
		}
		fmt.Printf("Top %d peers:\n\n", len(peers))
		for i, p := range peers {
			fmt.Printf("  %d. %s (%s)\n", i+1, p.Name, shortID(p.ID))
			fmt.Printf("     Ping: %.1f ms | Hops: %d | Geo: %.1f km | Score: %.1f\n", p.PingMS, p.Hops, p.GeoKM, p.Score)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16]
}

func init() {
	rootCmd.AddCommand(peerCmd)

	peerCmd.AddCommand(peerAddCmd)
	peerAddCmd.Flags().StringP("address", "a", "", "Peer dial address (host:port)")
	peerAddCmd.Flags().StringP("name", "n", "", "Peer display name")
	peerAddCmd.Flags().String("node-type", "full_node", "Expected node type")

	peerCmd.AddCommand(peerListCmd)
	peerCmd.AddCommand(peerRemoveCmd)

	peerCmd.AddCommand(peerNearestCmd)
	peerNearestCmd.Flags().IntP("count", "c", 5, "Number of peers to show")
}
