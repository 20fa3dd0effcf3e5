// Command strata runs one node of the resource registry: the consensus
// transport, the graph/search/identity/authz/rules kernel, and the gRPC
// command surface, wired together the way cuemby-warren's cmd/warren/main.go
// wires its manager node — a single cobra binary with "cluster init" to
// bootstrap the first node of a cluster and "cluster join" to add another.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/strata/internal/config"
	"github.com/cuemby/strata/internal/consensus"
	"github.com/cuemby/strata/internal/dispatch"
	"github.com/cuemby/strata/internal/eventlog"
	"github.com/cuemby/strata/internal/graph"
	"github.com/cuemby/strata/internal/grpcapi"
	"github.com/cuemby/strata/internal/identity"
	"github.com/cuemby/strata/internal/log"
	"github.com/cuemby/strata/internal/metrics"
	"github.com/cuemby/strata/internal/rules"
	"github.com/cuemby/strata/internal/search"
	"github.com/cuemby/strata/internal/store"
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
	Use:     "strata",
	Short:   "Strata - distributed content-addressed resource registry",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("strata version %s\ncommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(clusterCmd)
	clusterCmd.AddCommand(clusterInitCmd)
	clusterCmd.AddCommand(clusterJoinCmd)

	for _, c := range []*cobra.Command{clusterInitCmd, clusterJoinCmd} {
		c.Flags().String("node-id", "", "Unique node ID (required)")
		c.Flags().String("bind-addr", "127.0.0.1:7950", "Raft transport address")
		c.Flags().String("api-addr", "127.0.0.1:8080", "gRPC command-surface address")
		c.Flags().String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics address")
		c.Flags().String("data-dir", "./strata-data", "Data directory")
		c.Flags().String("key-id", "", "Identity kernel signing key ID (defaults to node-id)")
		c.Flags().String("ed-private-key-pem", "", "Path to an Ed25519 PKCS8 PEM private key; generated if empty")
		c.Flags().String("ed-public-key-pem", "", "Path to the matching Ed25519 PKIX PEM public key")
		c.Flags().String("join-token", "", "Shared token this node accepts for JoinCluster (generated if empty)")
		_ = c.MarkFlagRequired("node-id")
	}
	clusterJoinCmd.Flags().String("leader", "", "Leader node's gRPC address")
	clusterJoinCmd.Flags().String("token", "", "Join token issued by the leader")
	_ = clusterJoinCmd.MarkFlagRequired("leader")
	_ = clusterJoinCmd.MarkFlagRequired("token")
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage a strata cluster node",
}

var clusterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new single-node strata cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		if cfg.JoinToken == "" {
			cfg.JoinToken = uuid.New().String()
		}
		return runNode(cfg, true)
	},
}

var clusterJoinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join this node to an existing strata cluster",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromFlags(cmd)
		if err != nil {
			return err
		}
		leader, _ := cmd.Flags().GetString("leader")
		token, _ := cmd.Flags().GetString("token")
		cfg.JoinAddr = leader
		cfg.JoinToken = token
		return runNode(cfg, false)
	},
}

func configFromFlags(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	cfg.NodeID, _ = cmd.Flags().GetString("node-id")
	cfg.BindAddr, _ = cmd.Flags().GetString("bind-addr")
	cfg.APIAddr, _ = cmd.Flags().GetString("api-addr")
	cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	cfg.KeyID, _ = cmd.Flags().GetString("key-id")
	if cfg.KeyID == "" {
		cfg.KeyID = cfg.NodeID
	}
	cfg.JoinToken, _ = cmd.Flags().GetString("join-token")

	privPath, _ := cmd.Flags().GetString("ed-private-key-pem")
	pubPath, _ := cmd.Flags().GetString("ed-public-key-pem")
	if privPath != "" {
		raw, err := os.ReadFile(privPath)
		if err != nil {
			return nil, fmt.Errorf("read ed-private-key-pem: %w", err)
		}
		cfg.EdPrivateKeyPEM = string(raw)
	}
	if pubPath != "" {
		raw, err := os.ReadFile(pubPath)
		if err != nil {
			return nil, fmt.Errorf("read ed-public-key-pem: %w", err)
		}
		cfg.EdPublicKeyPEM = string(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runNode wires every core component (E/F/G/C/D/H/I/J, per SPEC_FULL.md's
// package map) into a running process and blocks until SIGINT/SIGTERM,
// mirroring clusterInitCmd/managerJoinCmd's Bootstrap-vs-Join split in
// cmd/warren/main.go.
func runNode(cfg *config.Config, bootstrap bool) error {
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	env, err := store.Open(cfg.DataDir, append(graph.Buckets(), eventlog.Buckets()...)...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer env.Close()

	searchIdx, err := search.OpenDir(cfg.DataDir + "/search")
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}
	defer searchIdx.Close()

	issuer, err := buildIssuer(cfg)
	if err != nil {
		return fmt.Errorf("build identity issuer: %w", err)
	}

	rulesEngine := rules.NewEngine()
	broker := eventlog.NewBroker()
	registry := dispatch.NewRegistry(env, rulesEngine, searchIdx, issuer, broker)
	fsm := consensus.NewFSM(registry, env)

	transport, err := consensus.New(consensus.Config{
		NodeID:           cfg.NodeID,
		BindAddr:         cfg.BindAddr,
		DataDir:          cfg.DataDir,
		HeartbeatTimeout: cfg.RaftHeartbeatTimeout,
		ElectionTimeout:  cfg.RaftElectionTimeout,
	}, fsm)
	if err != nil {
		return fmt.Errorf("create consensus transport: %w", err)
	}

	if bootstrap {
		if err := transport.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		log.WithComponent("cmd/strata").Info().Str("join_token", cfg.JoinToken).Msg("cluster bootstrapped")
	} else {
		if err := transport.Join(); err != nil {
			return fmt.Errorf("start joining transport: %w", err)
		}
	}

	service := dispatch.NewService(transport, env, searchIdx, issuer, broker)
	grpcServer := grpcapi.NewServer(service, transport, cfg.JoinToken, nil)

	errCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Start(cfg.APIAddr); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)

	if !bootstrap {
		joinCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := grpcapi.JoinCluster(joinCtx, cfg.JoinAddr, grpcapi.JoinClusterRequest{
			NodeID: cfg.NodeID,
			Addr:   cfg.BindAddr,
			Token:  cfg.JoinToken,
		})
		cancel()
		if err != nil {
			grpcServer.Stop()
			transport.Shutdown()
			return fmt.Errorf("join cluster: %w", err)
		}
		log.WithComponent("cmd/strata").Info().Str("leader", cfg.JoinAddr).Msg("joined cluster")
	}

	go serveMetrics(cfg)
	go reportLeadership(transport)

	log.WithComponent("cmd/strata").Info().Str("api_addr", cfg.APIAddr).Msg("node running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.WithComponent("cmd/strata").Info().Msg("shutting down")
	case err := <-errCh:
		log.WithComponent("cmd/strata").Error().Err(err).Msg("server error")
	}

	grpcServer.Stop()
	return transport.Shutdown()
}

// buildIssuer loads the node's signing keypair from cfg, generating a fresh
// one if none was supplied — convenient for local development, never
// silent: a warning names the flags that persist a keypair across restarts.
// The generated key material itself is not logged.
func buildIssuer(cfg *config.Config) (*identity.Issuer, error) {
	if cfg.EdPrivateKeyPEM == "" || cfg.EdPublicKeyPEM == "" {
		privPEM, pubPEM, err := identity.GenerateKeyPairPEM()
		if err != nil {
			return nil, err
		}
		cfg.EdPrivateKeyPEM, cfg.EdPublicKeyPEM = string(privPEM), string(pubPEM)
		log.WithComponent("cmd/strata").Warn().Msg("generated an ephemeral identity keypair; pass --ed-private-key-pem/--ed-public-key-pem to persist one across restarts")
	}

	priv, err := identity.LoadEd25519PrivateKeyPEM([]byte(cfg.EdPrivateKeyPEM))
	if err != nil {
		return nil, err
	}
	pub, err := identity.LoadEd25519PublicKeyPEM([]byte(cfg.EdPublicKeyPEM))
	if err != nil {
		return nil, err
	}
	return identity.NewIssuer(cfg.KeyID, priv, pub), nil
}

func serveMetrics(cfg *config.Config) {
	if cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithComponent("cmd/strata").Error().Err(err).Msg("metrics server error")
	}
}

// reportLeadership mirrors warren's metrics.Collector: a background
// goroutine keeping gauges fresh without requiring every read path to
// update them inline.
func reportLeadership(transport *consensus.Transport) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if transport.IsLeader() {
			metrics.RaftIsLeader.Set(1)
		} else {
			metrics.RaftIsLeader.Set(0)
		}
		metrics.RaftPeersTotal.Set(float64(len(transport.Stats())))
	}
}
