package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// LoadMutualTLSConfig builds a tls.Config for a node's listener or dialer
// per §6: the process's own cert (signed by the application CA) is
// presented, and any peer cert is validated against that same CA's pool —
// a self-signed certificate outside the CA is rejected at the TLS layer.
// The same *tls.Config serves both directions since every connection in
// this protocol is mutually authenticated, whichever side dialed.
func LoadMutualTLSConfig(cfg Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.NodeCertPath, cfg.NodeKeyPath)
	if err != nil {
		return nil, fmt.Errorf("server: load node cert/key: %w", err)
	}

	caPEM, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("server: read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("server: CA cert at %s contained no usable certificates", cfg.CACertPath)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
