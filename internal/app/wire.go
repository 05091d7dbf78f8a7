package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	s3blob "github.com/alanyoungcy/bnbmarket/internal/blob/s3"
	"github.com/alanyoungcy/bnbmarket/internal/cache/redis"
	"github.com/alanyoungcy/bnbmarket/internal/config"
	"github.com/alanyoungcy/bnbmarket/internal/contract"
	"github.com/alanyoungcy/bnbmarket/internal/crypto"
	"github.com/alanyoungcy/bnbmarket/internal/domain"
	"github.com/alanyoungcy/bnbmarket/internal/executor"
	"github.com/alanyoungcy/bnbmarket/internal/market"
	"github.com/alanyoungcy/bnbmarket/internal/network"
	"github.com/alanyoungcy/bnbmarket/internal/notify"
	"github.com/alanyoungcy/bnbmarket/internal/platform/backend"
	"github.com/alanyoungcy/bnbmarket/internal/prefs"
	"github.com/alanyoungcy/bnbmarket/internal/service"
	"github.com/alanyoungcy/bnbmarket/internal/session"
	"github.com/alanyoungcy/bnbmarket/internal/store/postgres"
	"github.com/alanyoungcy/bnbmarket/internal/wallet"
)

// dedupTTL bounds how long an in-flight action key is held.
const dedupTTL = 5 * time.Minute

// Dependencies bundles the storage, backend and market state shared by every
// mode. Storage fields stay nil when the corresponding section is disabled.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Clients, kept for health checks.
	Redis    *redis.Client
	Postgres *postgres.Client
	S3       *s3blob.Client

	// Caches
	MarketCache domain.MarketCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Stores
	TxStore    domain.TxStore
	Unsynced   service.UnsyncedLister
	AuditStore domain.AuditStore

	// Blob storage
	ImageUploader domain.ImageUploader
	Archiver      *s3blob.HistoryArchiver

	// Notifications
	Notifier *notify.Notifier

	Target  network.Metadata
	Backend *backend.Client
	Book    *market.Book
	Markets *service.MarketService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	target, err := network.Target(cfg.Network.ChainID, cfg.Network.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Target = target

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "migrations applied", slog.Any("versions", applied))
			}
		}

		pool := pgClient.Pool()
		txs := postgres.NewTxStore(pool)
		deps.Postgres = pgClient
		deps.TxStore = txs
		deps.Unsynced = txs
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.MarketCache = redis.NewMarketCache(redisClient, domain.CacheTTL)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			PublicBaseURL:  cfg.S3.PublicBaseURL,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		writer := s3blob.NewWriter(s3Client)
		deps.S3 = s3Client
		deps.ImageUploader = s3blob.NewImageUploader(writer, s3Client.ObjectURL)
		if deps.TxStore != nil {
			deps.Archiver = s3blob.NewHistoryArchiver(writer, deps.TxStore, deps.AuditStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Backend and market book ---
	deps.Backend = backend.NewClient(cfg.Backend.APIBaseURL, cfg.Backend.Timeout.Duration)
	deps.Book = market.NewBook()
	deps.Markets = service.NewMarketService(deps.Backend, deps.Book, deps.MarketCache, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("chain", target.Name),
		slog.Bool("redis", deps.Redis != nil),
		slog.Bool("postgres", deps.Postgres != nil),
		slog.Bool("s3", deps.S3 != nil),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}

// Wallet bundles the signing side: the keystore provider, the session it
// backs and the services that submit through it.
type Wallet struct {
	Keystore  *wallet.Keystore
	Sessions  *session.Manager
	Guard     *network.Guard
	Submitter *executor.Submitter
	Betting   *service.BettingService
	Dedup     *service.Dedup
	Preferred domain.WalletType
}

// WalletOptions are the process-level hooks the wallet needs.
type WalletOptions struct {
	// Prompt asks for the key password when the key file needs one.
	Prompt func() (string, error)
	// Approver decides wallet prompts when auto-approve is off.
	Approver wallet.Approver
}

// WireWallet loads the private key and builds the keystore wallet, the
// session manager, the chain guard and the betting service on top of deps.
func WireWallet(ctx context.Context, cfg *config.Config, deps *Dependencies, opts WalletOptions, logger *slog.Logger) (*Wallet, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
		Prompt:           opts.Prompt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
	}

	identity, ok := domain.ParseWalletType(cfg.Wallet.Identity)
	if !ok {
		return nil, nil, fmt.Errorf("wire: unknown wallet identity %q", cfg.Wallet.Identity)
	}

	var approver wallet.Approver = wallet.AutoApprove{}
	if !cfg.Wallet.AutoApprove {
		approver = opts.Approver
		if approver == nil {
			approver = wallet.NewPromptApprover(os.Stdin, os.Stderr)
		}
	}

	ks, err := wallet.NewKeystore(wallet.KeystoreConfig{
		Key:              key,
		Chains:           []wallet.AddChainParams{deps.Target.AddChainParams()},
		ChainID:          deps.Target.ChainID,
		Approver:         approver,
		Flags:            identityFlags(identity),
		GasBufferPercent: cfg.Executor.GasBufferPercent,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: keystore: %w", err)
	}
	closers = append(closers, ks.Close)

	reader, err := wallet.DialRPC(ctx, deps.Target.RPCURLs[0])
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: rpc: %w", err)
	}
	closers = append(closers, reader.Close)

	var store domain.PreferenceStore = prefs.Noop{}
	switch {
	case deps.Redis != nil:
		store = redis.NewPreferenceStore(deps.Redis, ks.Address())
	case cfg.Wallet.PreferencePath != "":
		store = prefs.NewFileStore(cfg.Wallet.PreferencePath)
	}

	sessions := session.NewManager(session.Config{
		Resolver: wallet.NewRegistry(environmentFor(identity, ks)),
		Prefs:    store,
		Platform: session.StaticPlatform{
			Agent:  cfg.Wallet.UserAgent,
			URL:    cfg.Wallet.DappURL,
			Logger: logger,
		},
		Logger: logger,
	})
	closers = append(closers, sessions.Close)

	guard := network.NewGuard(deps.Target, sessions, sessions, logger)

	pm, err := contract.New(cfg.Contract.Address)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: contract: %w", err)
	}
	submitter := executor.New(pm, deps.Target, sessions, reader, executor.Config{
		PollInterval:   cfg.Executor.ReceiptPollInterval.Duration,
		ReceiptTimeout: cfg.Executor.ReceiptTimeout.Duration,
	}, logger)

	dedup := service.NewDedup(dedupTTL)
	betting := service.NewBettingService(service.Deps{
		Sessions: sessions,
		Guard:    guard,
		Chain:    submitter,
		Recorder: deps.Backend,
		Markets:  deps.Markets,
		Txs:      deps.TxStore,
		Audit:    deps.AuditStore,
		Bus:      deps.SignalBus,
		Limiter:  deps.RateLimiter,
		Notifier: deps.Notifier,
		Dedup:    dedup,
		Logger:   logger,
		PageSize: cfg.Backend.PageSize,
	})

	preferred, _ := domain.ParseWalletType(cfg.Wallet.Preferred)

	logger.InfoContext(ctx, "wallet wired",
		slog.String("address", ks.Address()),
		slog.String("identity", string(identity)),
		slog.Bool("auto_approve", cfg.Wallet.AutoApprove),
	)
	return &Wallet{
		Keystore:  ks,
		Sessions:  sessions,
		Guard:     guard,
		Submitter: submitter,
		Betting:   betting,
		Dedup:     dedup,
		Preferred: preferred,
	}, cleanup, nil
}

// resyncService builds a BettingService that only replays backend records.
// Watch mode runs it without a wallet.
func resyncService(deps *Dependencies, logger *slog.Logger) *service.BettingService {
	return service.NewBettingService(service.Deps{
		Recorder: deps.Backend,
		Markets:  deps.Markets,
		Txs:      deps.TxStore,
		Audit:    deps.AuditStore,
		Notifier: deps.Notifier,
		Logger:   logger,
	})
}

// identityFlags returns the vendor markers the keystore announces.
func identityFlags(wt domain.WalletType) wallet.Flags {
	if wt == domain.WalletTrustWallet {
		return wallet.Flags{IsTrust: true, IsTrustWallet: true}
	}
	return wallet.Flags{IsMetaMask: true}
}

// environmentFor exposes p the way its vendor injects itself: Trust
// Wallet through its dedicated handle, everything else as the main one.
func environmentFor(wt domain.WalletType, p wallet.Provider) wallet.Environment {
	if wt == domain.WalletTrustWallet {
		return wallet.Environment{TrustWallet: p}
	}
	return wallet.Environment{Ethereum: p}
}

