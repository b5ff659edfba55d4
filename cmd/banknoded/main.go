package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"bcrnode/banknode"
	"bcrnode/cmd/internal/passphrase"
	"bcrnode/config"
	"bcrnode/crypto"
	"bcrnode/core/types"
	"bcrnode/directory"
	"bcrnode/network"
	"bcrnode/observability/logging"
	"bcrnode/p2p"
	"bcrnode/rpc"
	"bcrnode/wallet"
)

const (
	localMemberID        = "local"
	timeOffsetInterval   = 10 * time.Minute
	staleHoldAge         = 7 * 24 * time.Hour
	walletDialTimeout    = 30 * time.Second
	releaseHoldsTimeout  = 30 * time.Second
	defaultConfigPath    = "./config.toml"
	directoryStoreSubdir = "banknodes"
	holdLedgerFile       = "holds.db"
)

func main() {
	configFile := flag.String("config", defaultConfigPath, "Path to the configuration file")
	genKey := flag.Bool("genkey", false, "Generate a new operator key into the configured keystore and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if *genKey {
		if err := generateOperatorKey(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "generate operator key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	level, _ := cfg.LogLevel()
	logger, logCloser := logging.SetupWithOptions("banknoded", cfg.Environment, logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("banknoded exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("banknoded stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}

	store, err := directory.OpenStore(filepath.Join(cfg.DataDir, directoryStoreSubdir))
	if err != nil {
		return fmt.Errorf("open banknode directory: %w", err)
	}
	defer store.Close()

	hub := p2p.NewHub(logger)
	dir := directory.New(store, nil, directory.WithLogger(logger))

	if !cfg.Banknode.Enabled {
		logger.Info("Banknode disabled; serving directory only")
		handler := directory.NewHandler(dir, directory.ClockFunc(func() int64 { return time.Now().Unix() }), handlerConfig(cfg))
		if err := joinHub(hub, dir, handler); err != nil {
			return err
		}
		return rpc.NewServer(nil, dir, logger).Serve(ctx, cfg.StatusAddress)
	}

	ledger, err := wallet.OpenHoldLedger(filepath.Join(cfg.DataDir, holdLedgerFile), nil)
	if err != nil {
		return fmt.Errorf("open hold ledger: %w", err)
	}
	defer ledger.Close()

	logger.Info("Connecting to wallet daemon",
		slog.String("url", cfg.Wallet.RPCURL),
		logging.MaskField("rpc_user", cfg.Wallet.RPCUser))
	dialCtx, cancel := context.WithTimeout(ctx, walletDialTimeout)
	client, err := wallet.Dial(dialCtx, wallet.Config{
		URL:      cfg.Wallet.RPCURL,
		User:     cfg.Wallet.RPCUser,
		Password: cfg.WalletPassword(),
		Timeout:  cfg.WalletTimeout(),
	}, ledger, wallet.WithLogger(logger))
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	releaseLeftoverHolds(ctx, client, ledger, logger)
	refreshTimeOffset(ctx, client, logger)

	handler := directory.NewHandler(dir, client, handlerConfig(cfg))
	if err := joinHub(hub, dir, handler); err != nil {
		return err
	}

	keys, err := operatorKeySource(cfg, passphrase.NewSource(cfg.Banknode.PassphraseEnv))
	if err != nil {
		return err
	}
	controller, err := newController(cfg, client, dir, keys, logger)
	if err != nil {
		return err
	}

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	errCh := make(chan error, 2)
	go func() {
		errCh <- controller.Run(ctx, cfg.TickInterval())
	}()
	go func() {
		errCh <- rpc.NewServer(controller, dir, logger, rpc.WithOperatorKeys(keys)).Serve(ctx, cfg.StatusAddress)
	}()
	go keepTimeOffset(ctx, client, logger)

	var errs []error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
			cancelRun()
		}
	}
	return errors.Join(errs...)
}

func handlerConfig(cfg *config.Config) directory.HandlerConfig {
	return directory.HandlerConfig{
		MinProtocolVersion: cfg.Directory.MinProtocolVersion,
		RateLimit:          cfg.Directory.RateLimit,
		RateBurst:          cfg.Directory.RateBurst,
	}
}

func joinHub(hub *p2p.Hub, dir *directory.Directory, handler *directory.Handler) error {
	relay, err := hub.Join(localMemberID, handler)
	if err != nil {
		return fmt.Errorf("join gossip hub: %w", err)
	}
	dir.SetRelay(relay)
	return nil
}

func newController(cfg *config.Config, client *wallet.Client, dir *directory.Directory, keys banknode.OperatorKeySource, logger *slog.Logger) (*banknode.Controller, error) {
	service, err := cfg.ServiceAddress()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.CollateralPolicy()
	if err != nil {
		return nil, err
	}
	port := types.DefaultPort
	if service.IsValid() {
		port = service.AddrPort().Port()
	}
	return banknode.NewController(banknode.Config{
		Service:          service,
		MinConfirmations: cfg.Banknode.MinConfirmations,
		ProtocolVersion:  cfg.Banknode.ProtocolVersion,
		Policy:           policy,
	}, banknode.Deps{
		Chain:     client,
		Wallet:    client,
		Prober:    network.NewProber(cfg.ProbeTimeout(), logger),
		Resolver:  network.NewResolver(port, network.AllowPrivate(cfg.Banknode.AllowPrivateAddress)),
		Clock:     client,
		Directory: dir,
	}, keys, banknode.WithLogger(logger))
}

// operatorKeySource returns the key source shared by the controller and the
// status server. An inline key is parsed once up front; a keystore is
// decrypted on first use.
func operatorKeySource(cfg *config.Config, pass *passphrase.Source) (banknode.OperatorKeySource, error) {
	if inline := strings.TrimSpace(cfg.Banknode.OperatorKey); inline != "" {
		key, err := crypto.ParseOperatorKey(inline)
		if err != nil {
			return nil, fmt.Errorf("banknode: operator key: %w", err)
		}
		return func() (crypto.OperatorKey, error) { return key, nil }, nil
	}
	path := cfg.Banknode.OperatorKeystorePath
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("banknode: operator key or keystore path required")
	}
	var (
		mu     sync.Mutex
		cached crypto.OperatorKey
		loaded bool
	)
	return func() (crypto.OperatorKey, error) {
		mu.Lock()
		defer mu.Unlock()
		if loaded {
			return cached, nil
		}
		secret, err := pass.Get()
		if err != nil {
			return crypto.OperatorKey{}, err
		}
		key, err := crypto.LoadOperatorKeystore(path, secret)
		if err != nil {
			return crypto.OperatorKey{}, err
		}
		cached, loaded = key, true
		return key, nil
	}, nil
}

func generateOperatorKey(cfg *config.Config) error {
	path := cfg.Banknode.OperatorKeystorePath
	if strings.TrimSpace(path) == "" {
		return errors.New("OperatorKeystorePath is not configured")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("keystore %s already exists", path)
	}
	secret, err := passphrase.NewConfirmingSource(cfg.Banknode.PassphraseEnv).Get()
	if err != nil {
		return err
	}
	priv, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveOperatorKeystore(path, crypto.OperatorKey{PrivateKey: priv}, secret); err != nil {
		return err
	}
	fmt.Printf("operator key written to %s\noperator address %s\n", path, priv.PubKey().KeyID().Address())
	return nil
}

// releaseLeftoverHolds frees collateral held by a previous run that did not
// shut down cleanly. It must run before the controller starts ticking.
func releaseLeftoverHolds(ctx context.Context, client *wallet.Client, ledger *wallet.HoldLedger, logger *slog.Logger) {
	stale, err := ledger.Stale(time.Now().Add(-staleHoldAge))
	if err != nil {
		logger.Warn("Failed to read hold ledger", slog.Any("error", err))
	}
	for _, rec := range stale {
		logger.Warn("Collateral hold is older than a week",
			slog.String("vin", rec.OutPoint),
			slog.Time("held_at", rec.HeldAt))
	}
	releaseCtx, cancel := context.WithTimeout(ctx, releaseHoldsTimeout)
	defer cancel()
	released, err := client.ReleaseHolds(releaseCtx)
	if err != nil {
		logger.Warn("Failed to release some leftover collateral holds", slog.Any("error", err))
	}
	if released > 0 {
		logger.Info("Released collateral holds left by a previous run", slog.Int("count", released))
	}
}

func refreshTimeOffset(ctx context.Context, client *wallet.Client, logger *slog.Logger) {
	if err := client.RefreshTimeOffset(ctx); err != nil {
		logger.Warn("Failed to refresh network time offset", slog.Any("error", err))
	}
}

func keepTimeOffset(ctx context.Context, client *wallet.Client, logger *slog.Logger) {
	ticker := time.NewTicker(timeOffsetInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshTimeOffset(ctx, client, logger)
		}
	}
}
