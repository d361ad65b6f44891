package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"Meshflow/internal/config"
	"Meshflow/internal/core/network"
	"Meshflow/internal/logging"
	"Meshflow/internal/mesh"
	"Meshflow/internal/meshapi"
	"Meshflow/internal/node"
	"Meshflow/internal/reactors"
	"Meshflow/internal/wireup"
)

func main() {
	configPath := flag.String("config", "", "config file (.yaml, .yml or .hcl)")
	addr := flag.String("addr", "", "http listen address, overrides node.http_addr")
	flag.Parse()

	cfg, err := config.NewLoader().WithConfigPath(*configPath).WithEnvPrefix("MESH").Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshnode:", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Node.HTTPAddr = *addr
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Outputs)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("meshnode stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	transport, err := newTransport(ctx, cfg.Transport, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("transport close failed", zap.Error(err))
		}
	}()

	n, reg, err := newNode(cfg, transport, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if err := n.Start(gctx); err != nil {
		return err
	}
	g.Go(n.Wait)

	mux := http.NewServeMux()
	meshapi.NewServer(n, reg, logger.Named("api")).Register(mux)
	srv := &http.Server{Addr: cfg.Node.HTTPAddr, Handler: mux}
	g.Go(func() error {
		logger.Info("meshnode listening",
			zap.String("addr", cfg.Node.HTTPAddr),
			zap.String("node_id", n.ID()),
			zap.String("transport", cfg.Transport.Kind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Node.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newTransport(ctx context.Context, cfg config.TransportConfig, logger *zap.Logger) (network.Transport, error) {
	switch cfg.Kind {
	case network.KindMemory:
		return network.NewMemoryPubSub(logger.Named("memory")), nil
	case network.KindLibp2p:
		return network.NewLibp2pPubSub(ctx, network.Libp2pOptions{
			ListenAddrs:     cfg.Libp2p.ListenAddrs,
			Bootstrap:       cfg.Libp2p.Bootstrap,
			Rendezvous:      cfg.Libp2p.Rendezvous,
			EnableMDNS:      cfg.Libp2p.EnableMDNS,
			IdentityKeyFile: cfg.Libp2p.IdentityKeyFile,
		}, logger.Named("libp2p"))
	case network.KindNATS:
		return network.NewNATSPubSub(network.NATSOptions{
			URL:           cfg.NATS.URL,
			ClientName:    cfg.NATS.ClientName,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
			Timeout:       cfg.NATS.Timeout,
		}, logger.Named("nats"))
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// newNode builds the node and attaches every configured service.
func newNode(cfg *config.Config, transport network.Transport, logger *zap.Logger) (*node.Node, *prometheus.Registry, error) {
	id := cfg.Node.ID
	if id == "" {
		id = transport.ID()
	}
	if id == "" {
		id = uuid.NewString()
	}
	xids, err := mesh.NewXIDSource(cfg.Mesh.XIDSource, id)
	if err != nil {
		return nil, nil, err
	}
	policy, err := wireup.ParsePolicy(cfg.Mesh.FiringPolicy)
	if err != nil {
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	n := node.New(transport, node.Config{
		ID:               id,
		TopicPrefix:      cfg.Mesh.TopicPrefix,
		DiscoveryTopic:   cfg.Mesh.DiscoveryTopic,
		AnnounceInterval: cfg.Mesh.AnnounceInterval,
		PeerTTL:          cfg.Mesh.PeerTTL,
		Compress:         cfg.Mesh.Compress,
	},
		node.WithLogger(logger),
		node.WithRegisterer(reg),
		node.WithXIDSource(xids))

	deps := reactors.Deps{
		Logger:  logger,
		Metrics: mesh.NewMetrics("meshflow", reg),
		XIDs:    xids,
		Types:   mesh.NewTypeRegistry(),
		Policy:  policy,
	}
	for _, name := range cfg.Services {
		r, err := reactors.New(name, deps)
		if err != nil {
			return nil, nil, err
		}
		if err := n.Attach(r); err != nil {
			return nil, nil, fmt.Errorf("attach %s: %w", name, err)
		}
		logger.Info("service attached", zap.String("service", name))
	}
	return n, reg, nil
}
