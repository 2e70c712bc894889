package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/pii-mask/internal/auth"
	"github.com/example/pii-mask/internal/config"
	"github.com/example/pii-mask/internal/filename"
	"github.com/example/pii-mask/internal/handlers"
	"github.com/example/pii-mask/internal/handles"
	"github.com/example/pii-mask/internal/maskservice"
	"github.com/example/pii-mask/internal/workflow"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the masking workflow API",
		Long: `Starts the HTTP API that lets each authenticated user select an image, submit it
to the masking service and download the result. A gRPC health endpoint is served
alongside unless GRPC_ADDR is empty.`,
		Example: `  # Start with defaults (:8080, service at localhost:8000)
  piimask serve

  # Keep handles in redis
  HANDLE_STORE=redis REDIS_ADDR=redis:6379 piimask serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	store, closeStore, err := openHandleStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	table := handles.NewTable(store, cfg.HandleTTL, logger)
	client := maskservice.NewHTTPClient(cfg.ServiceURL, nil, cfg.MaxResultBytes, logger)
	metrics := &workflow.Metrics{}
	registry := workflow.NewRegistry(func() *workflow.Controller {
		return newController(cfg, client, table, metrics, logger)
	})
	defer registry.Close(context.Background())

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = cfg.MaxUploadBytes
	handlers.RegisterRoutes(router, registry, metrics, auth.RequireSubject(cfg.JWTSecret, cfg.JWTAudience), cfg.MaxUploadBytes, logger)

	if cfg.GRPCAddr != "" {
		healthListener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.GRPCAddr, err)
		}
		defer startHealthServer(healthListener, logger)()
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("piimask API listening",
		zap.String("addr", listener.Addr().String()), zap.String("service_url", cfg.ServiceURL), zap.String("handle_store", cfg.HandleStore))
	return serveHTTPServer(ctx, server, listener, shutdownTimeout, logger)
}

func newController(cfg config.Config, client maskservice.Client, table *handles.Table, metrics *workflow.Metrics, logger *zap.Logger) *workflow.Controller {
	return workflow.New(client, table, logger, workflow.Options{
		DefaultName:    cfg.DefaultResultName,
		Resolver:       filename.Resolver{Empty: filename.ParsePolicy(cfg.EmptyFilenamePolicy)},
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        metrics,
	})
}

func openHandleStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (handles.Store, func(), error) {
	if cfg.HandleStore != config.HandleStoreRedis {
		return handles.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("handle store connected", zap.String("redis_addr", cfg.RedisAddr))

	return handles.NewRedisStore(client, "", logger), func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close redis client", zap.Error(err))
		}
	}, nil
}

// startHealthServer serves the standard gRPC health service on listener and returns
// its stop function.
func startHealthServer(listener net.Listener, logger *zap.Logger) func() {
	server := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	logger.Info("grpc health listening", zap.String("addr", listener.Addr().String()))

	return func() {
		hs.Shutdown()
		server.GracefulStop()
	}
}

// serveHTTPServer runs server on listener until it fails or ctx is done, then drains
// in-flight requests for at most shutdownTimeout.
func serveHTTPServer(ctx context.Context, server *http.Server, listener net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal", zap.Error(context.Cause(ctx)))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
