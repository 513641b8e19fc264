// Command kadnet runs a single Kademlia DHT peer: it loads or generates a
// persistent identity, binds the RPC transport and control HTTP surface,
// optionally bootstraps into an existing network, and serves until
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/kutluhann/kadnet/internal/config"
	"github.com/kutluhann/kadnet/internal/dht"
	"github.com/kutluhann/kadnet/internal/httpapi"
	"github.com/kutluhann/kadnet/internal/identity"
	"github.com/kutluhann/kadnet/internal/routing"
	"github.com/kutluhann/kadnet/internal/storage"
	"github.com/kutluhann/kadnet/internal/transport"
	"github.com/sirupsen/logrus"
)

func main() {
	port := flag.Int("port", 0, "TCP port to listen on (0 picks a free port)")
	httpPort := flag.Int("http", 8000, "HTTP API port for client requests")
	bootstrapAddr := flag.String("bootstrap", "", "bootstrap peer address, host:port")
	dataDir := flag.String("data-dir", "data", "directory for identity and persisted storage")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	opts := []config.Option{config.WithDataDir(*dataDir), config.WithHTTPPort(*httpPort)}
	if *port != 0 {
		opts = append(opts, config.WithPort(*port))
	}
	if *bootstrapAddr != "" {
		opts = append(opts, config.WithBootstrapAddr(*bootstrapAddr))
	}
	if *verbose {
		opts = append(opts, config.WithVerbose(true))
	}
	cfg := config.Load(opts...)

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	if err := run(cfg, entry); err != nil {
		entry.WithError(err).Fatal("kadnet: fatal error")
	}
}

func run(cfg config.Config, log *logrus.Entry) error {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	keyPath := filepath.Join(cfg.DataDir, identity.DefaultKeyFile)
	ident, err := identity.Load(keyPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !ident.SelfVerify() {
		return fmt.Errorf("identity self-verification failed for %s", keyPath)
	}
	log.WithField("node_id", ident.ID.String()).Info("kadnet: identity ready")

	listenPort := 0
	if cfg.Port != nil {
		listenPort = *cfg.Port
	}
	tcp, err := transport.NewTCP("0.0.0.0", listenPort, log)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}

	store, err := storage.NewDurable(filepath.Join(cfg.DataDir, "store"))
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}

	node := dht.New(ident, tcp, store, dht.DefaultConstants(), log)

	snapshotPath := filepath.Join(cfg.DataDir, "snapshot.json")
	if _, err := os.Stat(snapshotPath); err == nil {
		if err := node.Load(snapshotPath); err != nil {
			log.WithError(err).Warn("kadnet: failed to restore snapshot")
		} else {
			log.Info("kadnet: restored snapshot")
		}
	}

	serveErrs := make(chan error, 2)
	go func() { serveErrs <- node.Serve() }()

	node.StartTimers()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpapi.New(node, log).Handler(),
	}
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("kadnet: http api listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrs <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.BootstrapAddr != "" {
		if err := bootstrap(node, cfg.BootstrapAddr, log); err != nil {
			log.WithError(err).Warn("kadnet: bootstrap failed, running as a seed node")
		}
	} else {
		log.Info("kadnet: no bootstrap address given, running as a seed node")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrs:
		return err
	case <-sigCh:
		log.Info("kadnet: shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	if err := node.Save(snapshotPath); err != nil {
		log.WithError(err).Warn("kadnet: failed to save snapshot")
	}
	return node.Close()
}

func bootstrap(node *dht.Node, addr string, log *logrus.Entry) error {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return err
	}
	known := routing.Contact{Endpoint: routing.Endpoint{Scheme: "tcp", Host: host, Port: port}}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.WithField("bootstrap", addr).Info("kadnet: bootstrapping")
	return node.Bootstrap(ctx, known)
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("parse bootstrap address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parse bootstrap port %q: %w", addr, err)
	}
	return host, port, nil
}
