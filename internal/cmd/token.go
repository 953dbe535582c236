package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/wxai-gateway/agent-gateway/internal/config"
	"github.com/wxai-gateway/agent-gateway/internal/iam"
	"github.com/wxai-gateway/agent-gateway/internal/logger"
	"go.uber.org/zap"
)

var refreshToken bool

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Exchange the configured API key for an IAM token",
	Long: `Exchange APIKEY for an IAM bearer token and print it masked. Useful to
check credentials before starting the server.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().BoolVar(&refreshToken, "refresh", false, "exchange a second time, bypassing the cached token")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key (APIKEY) is required")
	}

	log, err := logger.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	tokens := newTokenCache(cfg, log, nil)

	token, err := tokens.Token(ctx, cfg.Upstream.APIKey)
	if err != nil {
		log.Error("Token exchange failed", zap.Error(err))
		return err
	}

	if refreshToken {
		tokens.Invalidate(cfg.Upstream.APIKey)
		token, err = tokens.Token(ctx, cfg.Upstream.APIKey)
		if err != nil {
			log.Error("Token refresh failed", zap.Error(err))
			return err
		}
	}

	cached, _ := tokens.Get(cfg.Upstream.APIKey)

	fmt.Println("\n✅ Token acquired")
	fmt.Printf("   IAM URL: %s\n", cfg.Upstream.IAMURL)
	fmt.Printf("   Token: %s\n", iam.MaskKey(token))
	fmt.Printf("   Acquired at: %s\n", cached.AcquiredAt.Format(time.RFC3339))
	fmt.Printf("   Refresh after: %s\n", cached.AcquiredAt.Add(cfg.TokenRefresh.Threshold).Format(time.RFC3339))

	return nil
}
