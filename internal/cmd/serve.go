package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wxai-gateway/agent-gateway/internal/config"
	"github.com/wxai-gateway/agent-gateway/internal/iam"
	"github.com/wxai-gateway/agent-gateway/internal/logger"
	"github.com/wxai-gateway/agent-gateway/internal/metrics"
	"github.com/wxai-gateway/agent-gateway/internal/server"
	"github.com/wxai-gateway/agent-gateway/internal/watsonx"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	Long:  `Start the gateway HTTP server in front of the configured AI service deployment`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("metrics", false, "expose Prometheus metrics")

	viper.BindPFlag("metrics.enabled", serveCmd.Flags().Lookup("metrics"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateUpstream(); err != nil {
		return fmt.Errorf("missing upstream settings: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting wx.ai gateway",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("deployment_id", cfg.Upstream.DeploymentID),
		zap.String("space_id", cfg.Upstream.SpaceID),
		zap.String("watsonx_url", cfg.Upstream.URL),
	)

	if cfg.Security.APIKey != "" {
		log.Info("Inbound API key is set",
			zap.String("key_prefix", iam.MaskKey(cfg.Security.APIKey)))
	} else {
		log.Info("No inbound API key set, chat endpoints are open")
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, nil)
	tokens := newTokenCache(cfg, log, collector)
	client := newUpstreamClient(cfg, tokens, log)

	srv, err := server.New(cfg, log, server.FromClient(client), collector)
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("Server started", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-stop
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	log.Info("Server stopped gracefully")
	return nil
}

func newTokenCache(cfg *config.Config, log *zap.Logger, collector *metrics.Collector) *iam.TokenCache {
	opts := iam.Options{
		TokenURL:   cfg.Upstream.IAMURL,
		Threshold:  cfg.TokenRefresh.Threshold,
		RetryCount: cfg.TokenRefresh.RetryCount,
		RetryDelay: cfg.TokenRefresh.RetryDelay,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	if collector != nil {
		opts.Recorder = collector
	}
	return iam.NewTokenCache(opts, log.Named("iam"))
}

func newUpstreamClient(cfg *config.Config, tokens *iam.TokenCache, log *zap.Logger) *watsonx.Client {
	return watsonx.NewClient(watsonx.Options{
		BaseURL:       cfg.Upstream.URL,
		DeploymentID:  cfg.Upstream.DeploymentID,
		SpaceID:       cfg.Upstream.SpaceID,
		APIKey:        cfg.Upstream.APIKey,
		Timeout:       cfg.Upstream.Timeout,
		StreamTimeout: cfg.Upstream.StreamTimeout,
	}, tokens, nil, log.Named("watsonx"))
}
