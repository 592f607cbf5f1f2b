package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Snider/NodeCore/pkg/server"
	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Bootstrap the mutual-TLS certificates the server requires",
	Long:  `Generate the application CA and per-node leaf certificate that 'noded serve' uses for mutual TLS (§6). Every participating node must trust the same CA.`,
}

var certsInitCACmd = &cobra.Command{
	Use:   "init-ca",
	Short: "Generate a new application CA certificate and key",
	RunE: func(cmd *cobra.Command, args []string) error {
		validDays, _ := cmd.Flags().GetInt("valid-days")
		certPath, _ := cmd.Flags().GetString("ca-cert")
		keyPath, _ := cmd.Flags().GetString("ca-key")

		if err := server.GenerateCA(certPath, keyPath, time.Duration(validDays)*24*time.Hour); err != nil {
			return fmt.Errorf("failed to generate CA: %w", err)
		}
		fmt.Printf("CA certificate written to %s\n", certPath)
		fmt.Printf("CA key written to %s\n", keyPath)
		fmt.Println("Copy the CA cert (never the key) to every peer that should trust this network.")
		return nil
	},
}

var certsInitNodeCmd = &cobra.Command{
	Use:   "init-node",
	Short: "Generate this process's TLS leaf certificate, signed by the CA",
	RunE: func(cmd *cobra.Command, args []string) error {
		validDays, _ := cmd.Flags().GetInt("valid-days")
		caCert, _ := cmd.Flags().GetString("ca-cert")
		caKey, _ := cmd.Flags().GetString("ca-key")
		nodeCert, _ := cmd.Flags().GetString("node-cert")
		nodeKey, _ := cmd.Flags().GetString("node-key")
		sans, _ := cmd.Flags().GetStringSlice("san")

		if err := server.GenerateNodeCert(caCert, caKey, nodeCert, nodeKey, sans, time.Duration(validDays)*24*time.Hour); err != nil {
			return fmt.Errorf("failed to generate node certificate: %w", err)
		}
		fmt.Printf("Node certificate written to %s\n", nodeCert)
		fmt.Printf("Node key written to %s\n", nodeKey)
		return nil
	},
}

func defaultCertPath(name string) string {
	path, err := xdg.DataFile(filepath.Join("nodecore/certs", name))
	if err != nil {
		return filepath.Join("certs", name)
	}
	return path
}

func init() {
	rootCmd.AddCommand(certsCmd)

	certsCmd.AddCommand(certsInitCACmd)
	certsInitCACmd.Flags().Int("valid-days", 3650, "Certificate validity in days")
	certsInitCACmd.Flags().String("ca-cert", defaultCertPath("ca.crt"), "Output path for the CA certificate")
	certsInitCACmd.Flags().String("ca-key", defaultCertPath("ca.key"), "Output path for the CA key")

	certsCmd.AddCommand(certsInitNodeCmd)
	certsInitNodeCmd.Flags().Int("valid-days", 825, "Certificate validity in days")
	certsInitNodeCmd.Flags().String("ca-cert", defaultCertPath("ca.crt"), "Path to the CA certificate")
	certsInitNodeCmd.Flags().String("ca-key", defaultCertPath("ca.key"), "Path to the CA key")
	certsInitNodeCmd.Flags().String("node-cert", defaultCertPath("node.crt"), "Output path for the node certificate")
	certsInitNodeCmd.Flags().String("node-key", defaultCertPath("node.key"), "Output path for the node key")
	certsInitNodeCmd.Flags().StringSlice("san", nil, "Additional DNS names or IP addresses to advertise (e.g. a public hostname)")
}
