package main

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mark3labs/x402-proxy/facilitator"
	"github.com/mark3labs/x402-proxy/internal/challenge"
	"github.com/mark3labs/x402-proxy/internal/config"
	"github.com/mark3labs/x402-proxy/internal/credit"
	"github.com/mark3labs/x402-proxy/internal/forward"
	"github.com/mark3labs/x402-proxy/internal/replay"
	"github.com/mark3labs/x402-proxy/internal/server"
	"github.com/mark3labs/x402-proxy/internal/settle"
	"github.com/mark3labs/x402-proxy/internal/store"
	"github.com/mark3labs/x402-proxy/internal/verify"
)

func main() {
	app := fx.New(
		config.Module,
		fx.Provide(
			newLogger,
			newSnowflakeNode,
			newStores,
			newFacilitator,
			newResolver,
			newNonceStore,
			newForwarder,
			credit.NewLedger,
			challenge.NewBuilder,
			verify.NewVerifier,
			settle.NewCoordinator,
			server.NewProxyHandler,
			server.NewServer,
		),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDev() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// newStores selects the relational store when a database is configured and
// the in-memory store otherwise (local development).
func newStores(cfg *config.Config, node *snowflake.Node, logger *zap.Logger) (store.EndpointStore, store.CreditStore, store.AuditStore, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no DATABASE_URL configured, using in-memory store")
		mem := store.NewMemoryStore(node)
		return mem, mem, mem, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	gs := store.NewGormStore(db, node)
	if err := gs.AutoMigrate(); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return gs, gs, gs, nil
}

func newFacilitator(cfg *config.Config, logger *zap.Logger) facilitator.Interface {
	var opts []facilitator.Option
	if cfg.FacilitatorAuth != "" {
		opts = append(opts, facilitator.WithAuthorization(cfg.FacilitatorAuth))
	}
	return facilitator.NewClient(cfg.FacilitatorURL, logger, opts...)
}

func newResolver(f facilitator.Interface) challenge.NameResolver {
	return f
}

func newNonceStore(cfg *config.Config, logger *zap.Logger) replay.NonceStore {
	if cfg.RedisAddr == "" {
		logger.Warn("no REDIS_ADDR configured, using in-process nonce guard")
		return replay.NewMemoryStore()
	}
	return replay.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
}

func newForwarder(logger *zap.Logger) forward.Forwarder {
	return forward.NewHTTPForwarder(logger)
}
