package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/indecryption/chat-node/internal/api"
	"github.com/indecryption/chat-node/internal/auth"
	"github.com/indecryption/chat-node/internal/chat"
	"github.com/indecryption/chat-node/internal/crypto"
	"github.com/indecryption/chat-node/internal/database"
	"github.com/indecryption/chat-node/internal/utils"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the chat node",
	Long: `Start the chat node.

This will:
- Open the SQLite store and run table migrations
- Load or generate the node's box key pair
- Start the OTP sweeper
- Serve the REST API and WebSocket relay`,
	Run: func(cmd *cobra.Command, args []string) {
		logger.Info("Starting chat node...", "cli")

		pidManager, err := utils.NewPIDManager(config)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to create PID manager: %v", err), "cli")
			os.Exit(1)
		}

		// Check if another instance is already running
		if existingPID, err := pidManager.ReadPID(); err == nil {
			if pidManager.IsProcessRunning(existingPID) {
				logger.Error(fmt.Sprintf("Another instance is already running with PID: %d", existingPID), "cli")
				fmt.Printf("Another instance is already running with PID: %d\n", existingPID)
				fmt.Println("Use 'chat-node stop' to stop the existing instance first")
				os.Exit(1)
			}
			pidManager.RemovePIDFile()
		}

		currentPID := os.Getpid()
		if err := pidManager.WritePID(currentPID); err != nil {
			logger.Error(fmt.Sprintf("Failed to write PID file: %v", err), "cli")
			os.Exit(1)
		}
		defer func() {
			if err := pidManager.RemovePIDFile(); err != nil {
				logger.Warn(fmt.Sprintf("Failed to remove PID file: %v", err), "cli")
			}
		}()

		logger.Info(fmt.Sprintf("Node started with PID: %d", currentPID), "cli")

		dbManager, err := database.NewSQLiteManager(config, logger)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to open database: %v", err), "cli")
			os.Exit(1)
		}

		paths := utils.GetAppPaths("")
		keysDir := filepath.Join(paths.DataDir, "keys")
		nodeKeys, err := crypto.LoadOrGenerateKeys(keysDir)
		if err != nil {
			logger.Error(fmt.Sprintf("Failed to load node keys: %v", err), "cli")
			os.Exit(1)
		}
		logger.Info(fmt.Sprintf("Node public key: %s", nodeKeys.PublicKeyBase64()), "cli")

		notifier := auth.NewNotifier(config, logger)
		authenticator := auth.NewAuthenticator(dbManager.Otp, notifier, config, logger)

		sweepCtx, cancelSweep := context.WithCancel(context.Background())
		authenticator.StartSweeper(sweepCtx)

		registry := chat.NewRegistry(logger)
		relay := chat.NewRelay(dbManager.Messages, dbManager.Users, registry, nodeKeys, notifier, config, logger)

		apiServer := api.NewAPIServer(config, logger, dbManager, nodeKeys, authenticator, registry, relay)
		if err := apiServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("Failed to start API server: %v", err), "cli")
			cancelSweep()
			os.Exit(1)
		}

		fmt.Printf("Chat node is running on port %s. Press Ctrl+C to stop.\n", apiServer.GetPort())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutdown signal received, stopping node...", "cli")
		cancelSweep()

		if err := apiServer.Stop(); err != nil {
			logger.Error(fmt.Sprintf("Error stopping API server: %v", err), "cli")
		}
		if err := dbManager.Close(); err != nil {
			logger.Error(fmt.Sprintf("Error closing database: %v", err), "cli")
		}

		logger.Info("Chat node stopped successfully", "cli")
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
