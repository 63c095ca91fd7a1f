package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentVault/internal/agent"
	"AgentVault/internal/api"
	"AgentVault/internal/auth"
	"AgentVault/internal/chain/provider"
	"AgentVault/internal/config"
	"AgentVault/internal/custody"
	"AgentVault/internal/envelope"
	"AgentVault/internal/events"
	"AgentVault/internal/lock"
	"AgentVault/internal/observability/alerting"
	"AgentVault/internal/observability/metrics"
	"AgentVault/internal/storage/mysql"
	"AgentVault/internal/storage/redis"
	"AgentVault/internal/wallet"
	"AgentVault/pkg/logger"
)

// main 是 AgentVault 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentvaultd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("agentvaultd")

	// 主密钥缺失或格式错误时直接退出。
	masterKey, err := custody.LoadMasterKey(custody.MasterKeySource{
		Env:  cfg.Custody.MasterKeyEnv,
		File: cfg.Custody.MasterKeyFile,
	})
	if err != nil {
		return err
	}
	defer masterKey.Close()

	algorithm, err := envelope.ParseAlgorithm(cfg.Custody.Algorithm)
	if err != nil {
		return err
	}
	cipher, err := envelope.New(envelope.WithAlgorithm(algorithm))
	if err != nil {
		return err
	}
	master := custody.NewMasterWrapper(cipher, masterKey)

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o700); err != nil {
		return err
	}

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()

	networks, err := provider.NewRegistry(ctx, cfg.Chains.Definitions, cfg.Chains.Default)
	if err != nil {
		return err
	}
	defer networks.Close()

	locker, closeLocker, err := openLocker(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	defer closeLocker()

	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("关闭事件发布器失败", slog.Any("error", err))
		}
	}()

	alerts := alerting.NewFanout(
		&alerting.LogNotifier{},
		&alerting.EventNotifier{Publisher: publisher},
	)

	svc, err := wallet.NewService(wallet.Dependencies{
		Repository: repo,
		Networks:   networks,
		Issuer:     custody.NewIssuer(cipher, master),
		Custodian:  custody.NewCustodian(repo, cipher, master),
		Locker:     locker,
		Publisher:  publisher,
		Alerts:     alerts,
	})
	if err != nil {
		return err
	}

	authSvc, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return err
	}

	opts := []api.Option{
		api.WithAuth(authSvc),
		api.WithRateLimit(api.RateLimit{
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		}),
	}
	if cfg.Metrics.Expose {
		opts = append(opts, api.WithMetricsEndpoint())
	}

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	log.Info("AgentVault 启动",
		slog.String("address", cfg.Server.Address),
		slog.String("master_key_id", masterKey.ID()),
		slog.String("algorithm", string(cipher.Algorithm())),
		slog.String("default_chain", networks.DefaultName()),
		slog.Any("chains", networks.Names()),
		slog.String("agent_store", cfg.Storage.AgentStore.Driver),
		slog.String("lock", cfg.Lock.Driver),
		slog.String("events", cfg.Events.Driver),
		slog.String("auth", string(authSvc.Mode())),
	)

	server := api.NewServer(cfg.Server.Address, svc, opts...)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("AgentVault 已停止")
	return nil
}

func openRepository(ctx context.Context, cfg *config.Config) (agent.Repository, func(), error) {
	store := cfg.Storage.AgentStore
	switch store.Driver {
	case "memory":
		repo, err := agent.NewMemoryRepository(agent.WithSnapshot(filepath.Join(cfg.Runtime.DataDir, "agents.json")))
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case "mysql":
		repo, err := mysql.NewAgentRepository(ctx, mysql.Config{
			DSN:             store.DSN,
			MaxOpenConns:    store.MaxOpenConns,
			MaxIdleConns:    store.MaxIdleConns,
			ConnMaxLifetime: store.ConnMaxLifetime(),
			ConnMaxIdleTime: store.ConnMaxIdleTime(),
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", store.Driver)
	}
}

func openLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func(), error) {
	switch cfg.Driver {
	case "memory":
		return lock.NewMemory(), func() {}, nil
	case "redis":
		locker, err := redis.NewLocker(ctx, redis.LockerConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			TTL:          time.Duration(cfg.Redis.TTLSeconds) * time.Second,
			PollInterval: time.Duration(cfg.Redis.PollIntervalMS) * time.Millisecond,
		})
		if err != nil {
			return nil, nil, err
		}
		return locker, func() { _ = locker.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("未知的锁驱动: %s", cfg.Driver)
	}
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "none":
		return events.Noop{}, nil
	case "memory":
		return events.NewMemory(1024), nil
	case "rabbitmq":
		return events.NewRabbitMQ(events.RabbitMQConfig{URL: cfg.URL, Exchange: cfg.Exchange})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}
