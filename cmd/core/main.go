package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/http"
	kafka_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/auth"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
	"github.com/JoeShih716/go-bank-ledger/pkg/redis"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("ledger exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化儲存層
	store, closeStore, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. 初始化 UseCase
	opts := []usecase.Option{
		usecase.WithRetryPolicy(cfg.Ledger.Retry.Policy()),
		usecase.WithLogger(zl),
	}
	if cfg.Kafka.Enabled {
		publisher := kafka_adapter.NewPublisher(cfg.Kafka.Config, zl)
		defer func() {
			if err := publisher.Close(); err != nil {
				zl.Warn("kafka publisher close failed", zap.Error(err))
			}
		}()
		opts = append(opts, usecase.WithPublisher(publisher))
		zl.Info("publishing committed transactions",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	core := usecase.NewLedgerCore(store, opts...)

	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)

	// 4. gRPC Adapter
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.AuthInterceptor(verifier)))
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(core, cfg.Ledger.HistoryLimit, zl))
	if cfg.Server.Reflection {
		reflection.Register(grpcServer)
	}
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	// 5. HTTP Adapter
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: http_adapter.NewRouter(http_adapter.NewHandler(core, cfg.Ledger.HistoryLimit, zl), verifier, zl),
	}

	errCh := make(chan error, 2)
	go func() {
		zl.Info("starting gRPC server", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		zl.Info("starting HTTP server", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	// Graceful Shutdown
	select {
	case <-ctx.Done():
		zl.Info("shutting down server...")
	case err := <-errCh:
		zl.Error("server failed, shutting down", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	zl.Info("server exited")
	return nil
}

// openStore 依設定建立 AtomicLedgerStore，回傳的 close 會釋放底層連線
func openStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (usecase.AtomicLedgerStore, func(), error) {
	closer := func(c io.Closer, name string) func() {
		return func() {
			if err := c.Close(); err != nil {
				zl.Warn("close failed", zap.String("resource", name), zap.Error(err))
			}
		}
	}

	switch cfg.Store.Driver {
	case config.StoreMySQL:
		dbClient, err := mysql.NewClient(cfg.MySQL, zl)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mysql: %w", err)
		}
		store := mysql_adapter.NewMySQLLedgerStore(dbClient)
		if cfg.Store.AutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				_ = dbClient.Close()
				return nil, nil, fmt.Errorf("migrate mysql: %w", err)
			}
		}
		zl.Info("connected to MySQL", zap.String("host", cfg.MySQL.Host))
		return store, closer(dbClient, "mysql"), nil

	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres, zl)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := postgres_adapter.NewPostgresLedgerStore(pool)
		if cfg.Store.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		zl.Info("connected to PostgreSQL")
		return store, pool.Close, nil

	case config.StoreRedis:
		rdb, err := redis.NewClient(ctx, cfg.Redis.Config)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		zl.Info("connected to Redis", zap.Strings("addrs", cfg.Redis.Addrs))
		return redis_adapter.NewRedisLedgerStore(rdb, cfg.Redis.KeyPrefix), closer(rdb, "redis"), nil

	default:
		var opts []memory_adapter.Option
		cleanup := func() {}
		if cfg.Store.WALPath != "" {
			walFile, err := wal.NewWAL(cfg.Store.WALPath)
			if err != nil {
				return nil, nil, fmt.Errorf("init WAL: %w", err)
			}
			opts = append(opts, memory_adapter.WithWAL(walFile))
			cleanup = closer(walFile, "wal")
		}
		store, err := memory_adapter.NewStore(opts...)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init memory store: %w", err)
		}
		zl.Info("using in-memory store", zap.String("wal", cfg.Store.WALPath))
		return store, cleanup, nil
	}
}
