// Command strata-proxy runs the S3 data-plane auth shim: it hands out
// deterministic per-access-key secrets derived from an X25519 session with
// one core node's identity kernel, without itself holding any store or Raft
// state. Grounded on cmd/warren/main.go's flag-driven single-binary layout,
// scaled down to the one subsystem this process owns.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/strata/internal/config"
	"github.com/cuemby/strata/internal/dataproxy"
	"github.com/cuemby/strata/internal/identity"
	"github.com/cuemby/strata/internal/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "strata-proxy",
	Short:   "Strata S3 data-plane proxy auth shim",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("strata-proxy version %s\ncommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().String("listen-addr", "127.0.0.1:8090", "Address this proxy listens on")
	rootCmd.Flags().String("proxy-private-key-pem", "", "Path to this proxy's Ed25519 PKCS8 PEM private key (required)")
	rootCmd.Flags().String("node-pubkey-pem", "", "Path to the core node's Ed25519 PKIX PEM public key (required)")
	_ = rootCmd.MarkFlagRequired("proxy-private-key-pem")
	_ = rootCmd.MarkFlagRequired("node-pubkey-pem")
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.ProxyListenAddr, _ = cmd.Flags().GetString("listen-addr")

	privPath, _ := cmd.Flags().GetString("proxy-private-key-pem")
	pubPath, _ := cmd.Flags().GetString("node-pubkey-pem")
	privRaw, err := os.ReadFile(privPath)
	if err != nil {
		return fmt.Errorf("read proxy-private-key-pem: %w", err)
	}
	pubRaw, err := os.ReadFile(pubPath)
	if err != nil {
		return fmt.Errorf("read node-pubkey-pem: %w", err)
	}
	cfg.ProxyPrivateKeyPEM, cfg.ProxyServerPubKeyPEM = string(privRaw), string(pubRaw)

	if err := cfg.ValidateProxy(); err != nil {
		return err
	}

	proxyPriv, err := identity.LoadEd25519PrivateKeyPEM(privRaw)
	if err != nil {
		return fmt.Errorf("decode proxy private key: %w", err)
	}
	nodePub, err := identity.LoadEd25519PublicKeyPEM(pubRaw)
	if err != nil {
		return fmt.Errorf("decode node public key: %w", err)
	}

	resolver, err := dataproxy.NewSecretResolver(proxyPriv, nodePub)
	if err != nil {
		return fmt.Errorf("build secret resolver: %w", err)
	}
	server := dataproxy.NewServer(resolver)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.ProxyListenAddr); err != nil {
			errCh <- err
		}
	}()
	log.WithComponent("cmd/strata-proxy").Info().Str("addr", cfg.ProxyListenAddr).Msg("proxy listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.WithComponent("cmd/strata-proxy").Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("proxy server: %w", err)
	}
	return nil
}
