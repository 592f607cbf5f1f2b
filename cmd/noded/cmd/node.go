package cmd

import (
	"fmt"

	"github.com/Snider/NodeCore/pkg/wire"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage this process's node identity",
	Long:  `Initialize, inspect, or reset the node identity advertised in the handshake.`,
}

var nodeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize node identity",
	Long:  `Generate a new X25519 node identity, stored with the node type and capability set advertised in the handshake.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		nodeTypeFlag, _ := cmd.Flags().GetString("node-type")

		if name == "" {
			return fmt.Errorf("--name is required")
		}
		nodeType, err := nodeTypeFromFlag(nodeTypeFlag)
		if err != nil {
			return err
		}

		nm, err := getNodeManager()
		if err != nil {
			return fmt.Errorf("failed to create node manager: %w", err)
		}
		if nm.HasIdentity() {
			return fmt.Errorf("node identity already exists; use 'node reset --force' first")
		}

		caps := []wire.CapabilityEntry{
			{ID: wire.CapBase, Value: "1"},
			{ID: wire.CapRateLimitsV2, Value: "1"},
		}
		if err := nm.GenerateIdentity(name, nodeType, caps); err != nil {
			return fmt.Errorf("failed to generate identity: %w", err)
		}

		identity := nm.GetIdentity()
		fmt.Println("Node identity created successfully!")
		fmt.Printf("  ID:         %s\n", identity.ID)
		fmt.Printf("  Name:       %s\n", identity.Name)
		fmt.Printf("  Node Type:  %s\n", identity.NodeType)
		fmt.Printf("  Public Key: %s\n", identity.PublicKey)
		return nil
	},
}

var nodeInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show node identity and registry summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		nm, err := getNodeManager()
		if err != nil {
			return fmt.Errorf("failed to create node manager: %w", err)
		}
		if !nm.HasIdentity() {
			fmt.Println("No node identity found. Run 'noded node init --name <name>' first.")
			return nil
		}

		identity := nm.GetIdentity()
		fmt.Println("Node Identity:")
		fmt.Printf("  ID:         %s\n", identity.ID)
		fmt.Printf("  Name:       %s\n", identity.Name)
		fmt.Printf("  Node Type:  %s\n", identity.NodeType)
		fmt.Printf("  Public Key: %s\n", identity.PublicKey)
		fmt.Printf("  Created:    %s\n", identity.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))

		pr, err := getPeerRegistry()
		if err == nil {
			fmt.Printf("  Registered Peers: %d\n", pr.Count())
			fmt.Printf("  Connected Peers:  %d\n", len(pr.GetConnectedPeers()))
		}
		return nil
	},
}

var nodeResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the node identity and keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		nm, err := getNodeManager()
		if err != nil {
			return fmt.Errorf("failed to create node manager: %w", err)
		}
		if !nm.HasIdentity() {
			fmt.Println("No node identity to reset.")
			return nil
		}
		if !force {
			fmt.Println("This permanently deletes the node identity and keys. Run with --force to confirm.")
			return nil
		}
		if err := nm.Delete(); err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		fmt.Println("Node identity deleted.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)

	nodeCmd.AddCommand(nodeInitCmd)
	nodeInitCmd.Flags().StringP("name", "n", "", "Node display name (required)")
	nodeInitCmd.Flags().String("node-type", "full_node", "Node type: full_node, wallet, farmer, harvester, timelord, introducer")

	nodeCmd.AddCommand(nodeInfoCmd)

	nodeCmd.AddCommand(nodeResetCmd)
	nodeResetCmd.Flags().BoolP("force", "f", false, "Confirm deletion without prompting")
}
