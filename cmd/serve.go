package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-gateways/app/controller"
	gatewaygrpc "github.com/vibast-solutions/ms-go-gateways/app/grpc"
	"github.com/vibast-solutions/ms-go-gateways/app/provider"
	"github.com/vibast-solutions/ms-go-gateways/app/repository"
	"github.com/vibast-solutions/ms-go-gateways/app/service"
	"github.com/vibast-solutions/ms-go-gateways/app/types"
	"github.com/vibast-solutions/ms-go-gateways/app/vault"
	"github.com/vibast-solutions/ms-go-gateways/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start both HTTP (Echo) and gRPC servers for the gateways service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, gatewayService, cleanup := mustCreateGatewayService()
	defer cleanup()

	gatewayController := controller.NewGatewayController(gatewayService)
	grpcGatewayServer := gatewaygrpc.NewServer(gatewayService)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	grpcInternalAuthMiddleware := authmiddleware.NewGRPCInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(gatewayController, echoInternalAuthMiddleware, cfg.App.ServiceName)
	grpcSrv, healthSrv, lis := setupGRPCServer(cfg, grpcGatewayServer, grpcInternalAuthMiddleware, cfg.App.ServiceName)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	gatewayController *controller.GatewayController,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())
	e.Use(internalAuthMiddleware.RequireInternalAccess(appServiceName))

	e.GET("/health", gatewayController.Health)
	e.GET("/gateways", gatewayController.ListGateways)

	charges := e.Group("/charges")
	charges.POST("", gatewayController.Charge)
	charges.GET("/:id", gatewayController.GetCharge)
	charges.GET("/:id/status", gatewayController.GetTransactionStatus)
	charges.POST("/:id/refund", gatewayController.Refund)
	charges.POST("/:id/void", gatewayController.Void)

	sources := e.Group("/sources")
	sources.POST("", gatewayController.VaultSource)
	sources.GET("/:id", gatewayController.GetSource)
	sources.DELETE("/:id", gatewayController.DeleteSource)
	sources.POST("/:id/charge", gatewayController.ChargeSource)
	sources.POST("/:id/verify", gatewayController.VerifySource)

	merchants := e.Group("/merchants")
	merchants.GET("/:merchant_id/customers/:customer_id/sources", gatewayController.ListSources)
	merchants.POST("/:id/test-credentials", gatewayController.TestCredentials)
	merchants.GET("/:id/capabilities", gatewayController.Capabilities)

	webhooks := e.Group("/webhooks/merchants")
	webhooks.POST("/:merchant_id", gatewayController.HandleWebhook)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func setupGRPCServer(
	cfg *config.Config,
	gatewayServer *gatewaygrpc.Server,
	internalAuthMiddleware *authmiddleware.GRPCInternalAuthMiddleware,
	appServiceName string,
) (*grpc.Server, *health.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			gatewaygrpc.RecoveryInterceptor(),
			gatewaygrpc.RequestIDInterceptor(),
			gatewaygrpc.LoggingInterceptor(),
			internalAuthMiddleware.UnaryRequireInternalAccess(appServiceName),
		),
	)
	gatewaygrpc.RegisterGatewayServiceServer(grpcSrv, gatewayServer)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(gatewaygrpc.ServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	return grpcSrv, healthSrv, lis
}

func mustCreateGatewayService() (*config.Config, *service.GatewayService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	logger := logrus.StandardLogger()
	tokenizer := vault.NewTokenizer(vault.ChainDirectory{
		repository.NewRoutingNumberRepository(db),
		vault.StaticDirectory{},
	}, logger)

	registry := provider.NewRegistry(provider.Config{
		HTTPTimeout:     cfg.Gateways.HTTPTimeout,
		StripeAPIURL:    cfg.Stripe.APIURL,
		ACHPrimaryURL:   cfg.ACH.PrimaryURL,
		ACHSecondaryURL: cfg.ACH.SecondaryURL,
	}, provider.Deps{
		Tokenizer: tokenizer,
		Logger:    logger,
	})

	gatewayService := service.NewGatewayService(service.Repositories{
		Merchants:    repository.NewMerchantAccountRepository(db),
		Sources:      repository.NewPaymentSourceRepository(db),
		Charges:      repository.NewChargeRepository(db),
		ChargeEvents: repository.NewChargeEventRepository(db),
		Refunds:      repository.NewRefundRepository(db),
		Webhooks:     repository.NewWebhookEventRepository(db),
	}, registry, cfg.Gateways)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, gatewayService, cleanup
}
