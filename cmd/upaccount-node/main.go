package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nmxmxh/upaccount/internal/config"
	"github.com/nmxmxh/upaccount/internal/keymanager"
	"github.com/nmxmxh/upaccount/internal/logging"
	"github.com/nmxmxh/upaccount/internal/network"
	"github.com/nmxmxh/upaccount/internal/signer"
	"github.com/nmxmxh/upaccount/internal/storage/sqlite"
	"github.com/nmxmxh/upaccount/internal/vm"
	"github.com/nmxmxh/upaccount/wasm"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("node stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	listen, err := cfg.Multiaddrs()
	if err != nil {
		return err
	}

	store, err := sqlite.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer store.Close()

	dump, err := store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	h := vm.New(
		vm.WithCommitter(store),
		vm.WithRuntime(wasm.NewRuntime(log)),
		vm.WithLogger(log),
		vm.WithMaxDepth(cfg.MaxCallDepth),
	)
	cfg.Identity().Register(h)
	keymanager.Controller{}.Register(h)
	h.Load(dump)
	log.Info("state restored", zap.Int("accounts", len(dump.Accounts)), zap.String("path", cfg.StatePath))

	nodeKey, created, err := signer.LoadOrCreate(cfg.NodeKeyPath)
	if err != nil {
		return fmt.Errorf("node key: %w", err)
	}
	if created {
		log.Info("generated node key", zap.String("path", cfg.NodeKeyPath))
	}
	ownerKey, created, err := signer.LoadOrCreate(cfg.OwnerKeyPath)
	if err != nil {
		return fmt.Errorf("owner key: %w", err)
	}
	if created {
		log.Info("generated owner key", zap.String("path", cfg.OwnerKeyPath))
	}

	accounts, err := bootstrap(ctx, h, store, ownerKey.Address(), cfg, log)
	if err != nil {
		return err
	}
	log.Info("identity ready",
		zap.Stringer("identity", accounts.Identity),
		zap.Stringer("controller", accounts.Controller),
		zap.Stringer("owner", ownerKey.Address()))

	p2p, err := network.NewHost(nodeKey, listen)
	if err != nil {
		return err
	}
	defer p2p.Close()

	srv := network.NewServer(p2p, h, log)
	srv.Start()
	defer srv.Stop()
	for _, addr := range network.Addrs(p2p) {
		log.Info("listening", zap.String("addr", addr))
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
