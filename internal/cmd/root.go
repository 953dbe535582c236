package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
	envFile   string
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "OpenAI-compatible gateway for watsonx.ai AI services",
	Long: `gateway exposes a watsonx.ai AI service deployment behind an
OpenAI-style /chat/completions endpoint, translating its event stream
into thread.run.step.delta events.`,
	RunE: runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with DEPLOYMENT_ID, SPACE_ID, APIKEY and WATSONX_URL")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug/info/warn/error)")

	// server flags are shared by the root command and serve
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "server host")
	rootCmd.PersistentFlags().Int("port", 8080, "server port")
	rootCmd.PersistentFlags().String("mode", "release", "server mode (debug/release/test)")

	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("server.mode", rootCmd.PersistentFlags().Lookup("mode"))
}

func initConfig() {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", envFile, err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.wxgateway")
	}

	viper.AutomaticEnv()
	bindUpstreamEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// bindUpstreamEnv maps the deployment environment variables onto the
// upstream config keys.
func bindUpstreamEnv() {
	viper.BindEnv("upstream.deployment_id", "DEPLOYMENT_ID")
	viper.BindEnv("upstream.space_id", "SPACE_ID")
	viper.BindEnv("upstream.api_key", "APIKEY")
	viper.BindEnv("upstream.url", "WATSONX_URL")
	viper.BindEnv("upstream.iam_url", "IAM_URL")
	viper.BindEnv("security.api_key", "GATEWAY_API_KEY")
}
