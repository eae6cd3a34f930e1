package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	quoradb "github.com/quoradb/quoradb"
	"github.com/quoradb/quoradb/internal/backupstore"
	"github.com/quoradb/quoradb/internal/cachestore"
	"github.com/quoradb/quoradb/internal/clientbuf"
	"github.com/quoradb/quoradb/internal/config"
	"github.com/quoradb/quoradb/internal/dispatch"
	"github.com/quoradb/quoradb/internal/health"
	"github.com/quoradb/quoradb/internal/lockstore"
	"github.com/quoradb/quoradb/internal/logging"
	"github.com/quoradb/quoradb/internal/pki"
	"github.com/quoradb/quoradb/internal/raftnode"
	"github.com/quoradb/quoradb/internal/sqlstore"
	"github.com/quoradb/quoradb/internal/streamclient"
	"github.com/quoradb/quoradb/internal/streamserver"
)

func main() {
	configPath := flag.String("config", "/etc/quoradb/node.yaml", "path to node config file")
	flag.Parse()

	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Node.ID, cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("node exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.NodeConfig, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	var dialerTLS, listenerTLS *tls.Config
	if cfg.TLS.Enabled() {
		var err error
		dialerTLS, err = pki.NewDialerTLSConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("building dialer tls config: %w", err)
		}
		listenerTLS, err = pki.NewListenerTLSConfig(cfg.TLS.CACert, cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("building listener tls config: %w", err)
		}
	}

	sqlPath := filepath.Join(cfg.Node.DataDir, "node.db")
	sql, err := sqlstore.Open(sqlPath)
	if err != nil {
		return fmt.Errorf("opening sql store: %w", err)
	}
	defer sql.Close()

	cache, err := cachestore.New(8192)
	if err != nil {
		return fmt.Errorf("building cache store: %w", err)
	}
	go cache.Start(ctx)

	locks := lockstore.New()
	go locks.Start(ctx)

	backups := backupstore.NewManager(sql, cfg.Storages, logger.With("component", "backupstore"))

	raftBindAddr, err := raftAddrForSelf(cfg)
	if err != nil {
		return err
	}

	fsm := raftnode.NewFSM(sql, cache, backups)
	node, err := raftnode.New(cfg, fsm, raftBindAddr, listenerTLS)
	if err != nil {
		return fmt.Errorf("starting raft node: %w", err)
	}
	defer node.Shutdown()

	dispatcher := &dispatch.Dispatcher{
		Raft:   node,
		Reads:  sql,
		Cache:  cache,
		Locks:  locks,
		Logger: logger.With("component", "dispatch"),
	}
	buffers := &clientbuf.Registry{}
	streamSrv := streamserver.NewServer(cfg.Secret, buffers, dispatcher, logger.With("component", "streamserver"))

	var listener net.Listener
	if listenerTLS != nil {
		listener, err = tls.Listen("tcp", cfg.Node.Listen, listenerTLS)
	} else {
		listener, err = net.Listen("tcp", cfg.Node.Listen)
	}
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Node.Listen, err)
	}

	httpSrv := &http.Server{Handler: streamSrv}
	go func() {
		logger.Info("client stream listening", "address", cfg.Node.Listen)
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("client stream server error", "error", err)
		}
	}()

	healthSrv := health.NewServer(cfg.Health, node, streamSrv.Tracker, buffers, logger.With("component", "health"))
	healthSrv.Start()

	client := quoradb.New(node, node, sql, cache, locks, dialerFor(), cfg.Secret, dialerTLS, logger.With("component", "client"))
	defer client.Close()

	scheduler, err := backupstore.NewScheduler(cfg.Backup, client, logger.With("component", "backup-scheduler"))
	if err != nil {
		return fmt.Errorf("building backup scheduler: %w", err)
	}
	scheduler.Start()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	scheduler.Stop(shutdownCtx)
	healthSrv.Shutdown(shutdownCtx)
	httpSrv.Shutdown(shutdownCtx)

	return nil
}

// raftAddrForSelf finds this node's own entry in cfg.Cluster, whose
// APIAddr is the address hashicorp/raft binds its network transport to.
func raftAddrForSelf(cfg *config.NodeConfig) (string, error) {
	for _, m := range cfg.Cluster {
		if m.ID == cfg.Node.ID {
			return m.APIAddr, nil
		}
	}
	return "", fmt.Errorf("node.id %q has no matching entry in cluster", cfg.Node.ID)
}

// dialerFor builds a quoradb.Dialer that opens a websocket connection to a
// leader's client-stream listener at the given address, used by the
// retry shim (client.go) whenever this node is not itself the leader.
func dialerFor() quoradb.Dialer {
	return func(ctx context.Context, addr string, dialTLS *tls.Config) (streamclient.Dialer, error) {
		url := "ws://" + addr + "/"
		dialer := websocket.DefaultDialer
		if dialTLS != nil {
			url = "wss://" + addr + "/"
			d := *websocket.DefaultDialer
			d.TLSClientConfig = dialTLS
			dialer = &d
		}
		return func(ctx context.Context) (*websocket.Conn, error) {
			conn, _, err := dialer.DialContext(ctx, url, nil)
			return conn, err
		}, nil
	}
}
