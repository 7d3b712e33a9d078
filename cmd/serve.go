package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/storefront/internal/audit"
	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/events"
	grpcserver "github.com/fjod/go_cart/storefront/internal/grpc"
	h "github.com/fjod/go_cart/storefront/internal/http"
	"github.com/fjod/go_cart/storefront/internal/merge"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	"github.com/fjod/go_cart/storefront/internal/remote"
	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func serveAction(c *cli.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	taxRate, err := cfg.Tax()
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			log.Warn("mongo disconnect failed", zap.Error(err))
		}
	}()
	cartRepo := repository.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		log.Warn("failed to create cart indexes", zap.Error(err))
	}
	log.Info("connected to mongodb", zap.String("database", cfg.MongoDBName))

	cred := auditCredentials(cfg)
	auditRepo, err := audit.NewRepository(cred)
	if err != nil {
		return err
	}
	defer auditRepo.Close()
	if err := auditRepo.RunMigrations(cred); err != nil {
		return err
	}

	publisher := events.NewPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...)
	defer publisher.Close()

	client := remote.NewClient(cfg.RemoteAPIURL, cfg.RemoteTimeout, cfg.RemoteRateLimit, cfg.RemoteRateBurst)
	cartCache := cache.NewRedisCache(rdb, cfg.CacheKeyPrefix)
	reconciler := pricing.NewReconciler(taxRate, auditRepo, log)

	sessionStore := session.NewRedisStore(rdb, cfg.GuestTokenTTL, cfg.StagingTTL)
	guests := session.NewManager(sessionStore, client, cartCache, log)
	carts := cart.NewRegistry(cartRepo, cartCache, client, reconciler, log, cfg.CartSyncTimeout)
	coordinator := merge.NewCoordinator(sessionStore, guests, carts, client, log)
	checkouts := checkout.NewSessions(client, reconciler, publisher, cfg.ReservationDuration, log)
	bearers := session.NewVerifier(sessionStore, client, cfg.BearerVerifiedTTL, log)
	resolver := h.NewResolver(guests, bearers)

	// carts idle for a guest token's lifetime are dropped from memory; they stay in mongo
	go carts.RunSweeper(ctx, cfg.GuestTokenTTL, cfg.CartSweepInterval)

	// one consumer group per host so every instance sees every order event
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		host, _ := os.Hostname()
		groupID = "storefront-" + host
	}
	listener := events.NewListener(carts, log, groupID, cfg.KafkaTopic, cfg.KafkaBrokers...)
	defer listener.Close()
	go listener.Run(ctx)

	router := h.NewRouter(h.Handlers{
		Cart:     h.NewCartHandler(carts, resolver, taxRate, cfg.RequestTimeout, log),
		Auth:     h.NewAuthHandler(client, bearers, coordinator, guests, carts, checkouts, taxRate, cfg.RequestTimeout, log),
		Checkout: h.NewCheckoutHandler(checkouts, carts, resolver, taxRate, cfg.RequestTimeout, log),
		Orders:   h.NewOrdersHandler(client, resolver, taxRate, cfg.RequestTimeout, log),
	}, log, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	health := grpcserver.NewServer(log, map[string]grpcserver.Check{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"mongodb":  func(ctx context.Context) error { return mongoDB.Client().Ping(ctx, nil) },
		"postgres": auditRepo.Ping,
	})
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	go health.Watch(ctx, 15*time.Second)

	errCh := make(chan error, 2)
	go func() {
		log.Info("grpc health server starting", zap.String("port", cfg.GRPCPort))
		if err := health.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info("storefront starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	health.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}
