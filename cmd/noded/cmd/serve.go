package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Snider/NodeCore/pkg/diag"
	"github.com/Snider/NodeCore/pkg/node"
	"github.com/Snider/NodeCore/pkg/server"
	"github.com/spf13/cobra"
)

var (
	listenHost    string
	listenPort    int
	diagPort      int
	minOutbound   int
	connLimit     int
	testingMode   bool
	caCertPath    string
	caKeyPath     string
	nodeCertPath  string
	nodeKeyPath   string
	networkID     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the peer-to-peer server core",
	Long:  `Accept and dial mutually-authenticated TLS WebSocket connections, enforce rate limits and admission control, and dispatch messages to registered handlers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nm, err := getNodeManager()
		if err != nil {
			return fmt.Errorf("failed to open node manager: %w", err)
		}
		if !nm.HasIdentity() {
			return fmt.Errorf("no node identity found; run 'noded node init --name <name>' first")
		}
		identity := nm.GetIdentity()

		pr, err := getPeerRegistry()
		if err != nil {
			return fmt.Errorf("failed to open peer registry: %w", err)
		}

		tlsCfg := server.Config{
			ConnectionLimit: connLimit,
			AdmissionMargin: 100,
			HysteresisGap:   10,
			SSLHandshakeTimeout: 30 * time.Second,
			NetworkID:           networkID,
			TestingMode:         testingMode,
			CACertPath:          caCertPath,
			CAKeyPath:           caKeyPath,
			NodeCertPath:        nodeCertPath,
			NodeKeyPath:         nodeKeyPath,
			ListenAddr:          fmt.Sprintf("%s:%d", listenHost, listenPort),
		}
		def := server.DefaultConfig()
		tlsCfg.InvalidProtocolBanSeconds = def.InvalidProtocolBanSeconds
		tlsCfg.RateLimitBanSeconds = def.RateLimitBanSeconds

		tlsConfig, err := server.LoadMutualTLSConfig(tlsCfg)
		if err != nil {
			return fmt.Errorf("failed to load TLS config (run 'noded certs init-ca' and 'noded certs init-node' first): %w", err)
		}

		nodeCfg := node.DefaultConfig()
		nodeCfg.LocalNodeType = identity.NodeType
		nodeCfg.LocalCapabilities = identity.Capabilities
		nodeCfg.ServerPort = uint16(listenPort)

		registry := node.NewRegistry()
		router := node.NewRouter(registry)

		srv := server.New(tlsCfg, tlsConfig, nodeCfg, router)
		supervisor := server.NewSupervisor(srv, pr, minOutbound)

		if err := supervisor.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		ctrlListener, err := node.StartControlServer(srv, srv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: control socket unavailable: %v\n", err)
		} else {
			defer ctrlListener.Close()
		}

		displayHost := listenHost
		if displayHost == "0.0.0.0" {
			if ip, err := getLocalIP(); err == nil {
				displayHost = ip
			} else {
				displayHost = "localhost"
			}
		}
		diagListenAddr := fmt.Sprintf("%s:%d", listenHost, diagPort)
		diagDisplayAddr := fmt.Sprintf("%s:%d", displayHost, diagPort)
		diagService := diag.NewService(srv, pr, diagListenAddr, diagDisplayAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := diagService.ServiceStartup(ctx); err != nil && ctx.Err() == nil {
				fmt.Fprintf(os.Stderr, "diagnostics service error: %v\n", err)
			}
		}()

		fmt.Printf("Node %q (%s) listening on wss://%s:%d\n", identity.Name, identity.NodeType, displayHost, listenPort)
		fmt.Printf("Diagnostics available at http://%s/diag/healthz\n", diagDisplayAddr)

		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
		<-signalChan

		fmt.Println("\nReceived shutdown signal, stopping node...")
		cancel()
		diagService.Stop()
		if err := supervisor.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		fmt.Println("Node stopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&listenHost, "host", "0.0.0.0", "Host to listen on")
	serveCmd.Flags().IntVarP(&listenPort, "port", "p", 8444, "Port to listen on")
	serveCmd.Flags().IntVar(&diagPort, "diag-port", 8080, "Diagnostics HTTP port")
	serveCmd.Flags().IntVar(&minOutbound, "min-outbound", 8, "Target outbound connection count")
	serveCmd.Flags().IntVar(&connLimit, "connection-limit", 250, "Maximum concurrent established connections")
	serveCmd.Flags().BoolVar(&testingMode, "testing-mode", false, "Exempt localhost from ban enforcement")
	serveCmd.Flags().StringVar(&networkID, "network-id", "mainnet", "Network identifier exchanged during handshake")
	serveCmd.Flags().StringVar(&caCertPath, "ca-cert", defaultCertPath("ca.crt"), "Path to the application CA certificate")
	serveCmd.Flags().StringVar(&caKeyPath, "ca-key", defaultCertPath("ca.key"), "Path to the application CA key")
	serveCmd.Flags().StringVar(&nodeCertPath, "node-cert", defaultCertPath("node.crt"), "Path to this node's TLS certificate")
	serveCmd.Flags().StringVar(&nodeKeyPath, "node-key", defaultCertPath("node.key"), "Path to this node's TLS key")
}

func getLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	return "localhost", nil
}
