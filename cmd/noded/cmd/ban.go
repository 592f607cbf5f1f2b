package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Snider/NodeCore/pkg/node"
	"github.com/spf13/cobra"
)

var banCmd = &cobra.Command{
	Use:   "ban",
	Short: "Inspect and lift host bans on a running node",
}

var banListCmd = &cobra.Command{
	Use:   "list",
	Short: "List currently banned hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		diagAddr, _ := cmd.Flags().GetString("diag-addr")

		resp, err := http.Get(fmt.Sprintf("http://%s/diag/bans", diagAddr))
		if err != nil {
			return fmt.Errorf("failed to reach diagnostics service at %s (is 'noded serve' running?): %w", diagAddr, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("diagnostics service returned %s: %s", resp.Status, string(body))
		}

		var bans map[string]string
		if err := json.Unmarshal(body, &bans); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if len(bans) == 0 {
			fmt.Println("No hosts are currently banned.")
			return nil
		}
		fmt.Printf("Banned hosts (%d):\n", len(bans))
		for host, until := range bans {
			fmt.Printf("  %s until %s\n", host, until)
		}
		return nil
	},
}

var banClearCmd = &cobra.Command{
	Use:   "clear <host>",
	Short: "Lift a ban on a host before it expires",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := node.NewControlClient()
		if err != nil {
			return err
		}
		defer client.Close()

		var reply node.UnbanReply
		call := client.Go("ControlService.Unban", &node.UnbanArgs{Host: args[0]}, &reply, nil)
		select {
		case res := <-call.Done:
			if res.Error != nil {
				return fmt.Errorf("unban failed: %w", res.Error)
			}
		case <-time.After(5 * time.Second):
			return fmt.Errorf("unban request timed out")
		}

		fmt.Printf("Ban lifted for %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(banCmd)

	banCmd.AddCommand(banListCmd)
	banListCmd.Flags().String("diag-addr", "127.0.0.1:8080", "Diagnostics HTTP address")

	banCmd.AddCommand(banClearCmd)
}
