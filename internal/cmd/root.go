package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/indecryption/chat-node/internal/utils"
)

var (
	configPath string
	devMode    bool
	config     *utils.ConfigManager
	logger     *utils.LogsManager
)

var rootCmd = &cobra.Command{
	Use:   "chat-node",
	Short: "Encrypted chat relay node",
	Long: `A chat relay node for device-to-device encrypted messaging.

Users authenticate with a one time SMS code, exchange public keys
through the node's directory and relay sealed messages to each other.
The node stores only ciphertext - plaintext and secret keys never
touch it.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Twilio credentials and overrides live in .env during development
		godotenv.Load()

		config = utils.NewConfigManager(configPath)
		if devMode {
			config.SetConfig("dev_mode", true)
		}

		logger = utils.NewLogsManager(config)
		logger.SetLogLevel(config.GetConfigWithDefault("log_level", "info"))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&devMode, "dev", "d", false, "enable dev mode (console SMS, OTP echoed in responses)")
}
