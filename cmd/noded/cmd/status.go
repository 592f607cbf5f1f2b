package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type healthStatus struct {
	Timestamp         time.Time `json:"timestamp"`
	OS                string    `json:"os"`
	Architecture      string    `json:"architecture"`
	GoVersion         string    `json:"goVersion"`
	CPUCores          int       `json:"cpuCores"`
	CPUPercent        float64   `json:"cpuPercent"`
	TotalRAMGB        float64   `json:"totalRamGb"`
	UsedRAMPercent    float64   `json:"usedRamPercent"`
	ActiveConnections int       `json:"activeConnections"`
	BannedHosts       int       `json:"bannedHosts"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the live status of a running node",
	Long:  `Query a running 'noded serve' process's diagnostics endpoint for connection counts and host resource usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		diagAddr, _ := cmd.Flags().GetString("diag-addr")

		resp, err := http.Get(fmt.Sprintf("http://%s/diag/healthz", diagAddr))
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

		var status healthStatus
		if err := json.Unmarshal(body, &status); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		fmt.Println("Node Status:")
		fmt.Printf("  Active Connections: %d\n", status.ActiveConnections)
		fmt.Printf("  Banned Hosts:       %d\n", status.BannedHosts)
		fmt.Printf("  CPU:                %.1f%% (%d cores)\n", status.CPUPercent, status.CPUCores)
		fmt.Printf("  Memory:             %.1f%% used of %.1f GB\n", status.UsedRAMPercent, status.TotalRAMGB)
		fmt.Printf("  Host:               %s/%s, %s\n", status.OS, status.Architecture, status.GoVersion)
		fmt.Printf("  As of:              %s\n", status.Timestamp.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("diag-addr", "127.0.0.1:8080", "Diagnostics HTTP address")
}
