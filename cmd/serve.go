package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omnibus_custody/chain"
	"github.com/omnibus_custody/config"
	"github.com/omnibus_custody/handler"
	"github.com/omnibus_custody/hub"
	"github.com/omnibus_custody/ingest"
	"github.com/omnibus_custody/keys"
	"github.com/omnibus_custody/repository"
	"github.com/omnibus_custody/router"
	"github.com/omnibus_custody/service"
)

func serveCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API, event ingestion and WebSocket hub",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	threshold, err := chain.ParseEther(cfg.Policy.SmallTxThresholdEth)
	if err != nil {
		return fmt.Errorf("small tx threshold: %w", err)
	}

	// === Step 1: 数据库 ===
	db, err := openDB(cfg, log)
	if err != nil {
		return err
	}
	users := repository.NewUserRepository(db)
	ledger := repository.NewLedgerRepository(db)
	events := repository.NewEventRepository(db)
	whitelist := repository.NewWhitelistRepository(db)
	checkpoints := repository.NewCheckpointRepository(db)

	// === Step 2: 签名者与链客户端 ===
	signers, err := loadSigners(cfg.Chain)
	if err != nil {
		return err
	}
	client, err := chain.Dial(ctx, chain.Config{
		RPCURL:         cfg.Chain.RPCURL,
		ChainID:        cfg.Chain.ChainID,
		Omnibus:        common.HexToAddress(cfg.Chain.OmnibusContract),
		ColdVault:      optionalAddress(cfg.Chain.ColdContract),
		Guard:          optionalAddress(cfg.Chain.GuardContract),
		ReceiptTimeout: cfg.Chain.ReceiptTimeout,
	}, signers, log)
	if err != nil {
		return err
	}
	defer client.Close()
	log.Info().
		Str("owner", signers[chain.SeatOwner].Address().Hex()).
		Str("tss", signers[chain.SeatTSS].Address().Hex()).
		Str("omnibus", cfg.Chain.OmnibusContract).
		Msg("chain client ready")

	contracts := service.Contracts{Omnibus: client.Omnibus(), Reader: client}
	if cold := client.ColdVault(); cold != nil {
		contracts.Cold = cold
	}
	if guard := client.Guard(); guard != nil {
		contracts.Guard = guard
	}

	// === Step 3: 业务服务 ===
	withdrawals := service.NewWithdrawalService(contracts, users, ledger, threshold, log)
	deposits := service.NewDepositService(contracts, users, ledger, log)
	coldVault := service.NewColdVaultService(contracts, log)
	admin := service.NewAdminService(contracts, users, ledger, events, threshold, cfg.Ingest.PendingLookback, log)
	settings := service.NewSettingService(contracts, users, whitelist, log)
	history := service.NewHistoryService(users, ledger, log)

	// === Step 4: 事件摄取 ===
	wsHub := hub.New(cfg.WebSocket, log)
	keyCache := ingest.NewKeyCache(users, log)
	if err := keyCache.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial key cache refresh failed")
	}
	processor := ingest.NewProcessor(events, keyCache, client, wsHub, log)
	listener := ingest.NewListener(client.Omnibus(), processor, checkpoints, client, ingest.ListenerConfig{
		StartBlock: cfg.Ingest.StartBlock,
		Scan: chain.ScanOptions{
			Confirmations: cfg.Ingest.Confirmations,
			PollInterval:  cfg.Ingest.PollInterval,
		},
		ReconnectBase: cfg.Ingest.ReconnectBase,
		ReconnectMax:  cfg.Ingest.ReconnectMax,
	}, log)

	// === Step 5: HTTP ===
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	engine := router.SetupRouter(router.Handlers{
		Auth:      handler.NewAuthenticator(cfg.JWT.Secret, users, log),
		Tx:        handler.NewTxHandler(withdrawals, deposits, history),
		Setting:   handler.NewSettingHandler(settings),
		Admin:     handler.NewAdminHandler(admin, coldVault),
		Health:    handler.NewHealthHandler(db, listener, wsHub),
		WebSocket: wsHub.ServeWS,
	}, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		keyCache.Run(ctx, cfg.Ingest.KeyRefresh)
		return nil
	})
	g.Go(func() error {
		if err := listener.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		listener.Stop()
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadSigners resolves the owner and TSS seats. Explicit keys win over the
// mnemonic, which derives the owner at index 0 and the TSS seat at index 1.
func loadSigners(cfg config.ChainConfig) (map[chain.Seat]keys.Signer, error) {
	var owner, tss keys.Signer
	var err error

	switch {
	case cfg.SignerPrivateKey != "":
		owner, err = keys.FromHex(cfg.SignerPrivateKey)
	case cfg.Mnemonic != "":
		owner, err = keys.FromMnemonic(cfg.Mnemonic, 0)
	default:
		err = errors.New("no owner key configured")
	}
	if err != nil {
		return nil, fmt.Errorf("owner signer: %w", err)
	}

	switch {
	case cfg.TSSSignerURL != "":
		tss = keys.NewRemoteSigner(cfg.TSSSignerURL, common.HexToAddress(cfg.TSSSignerAddress), &http.Client{Timeout: 30 * time.Second})
	case cfg.TSSPrivateKey != "":
		tss, err = keys.FromHex(cfg.TSSPrivateKey)
	case cfg.Mnemonic != "":
		tss, err = keys.FromMnemonic(cfg.Mnemonic, 1)
	default:
		err = errors.New("no tss key configured")
	}
	if err != nil {
		return nil, fmt.Errorf("tss signer: %w", err)
	}

	if owner.Address() == tss.Address() {
		return nil, errors.New("owner and tss seats must use different keys")
	}
	return map[chain.Seat]keys.Signer{chain.SeatOwner: owner, chain.SeatTSS: tss}, nil
}

func optionalAddress(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
