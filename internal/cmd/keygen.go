package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/indecryption/chat-node/internal/crypto"
	"github.com/indecryption/chat-node/internal/utils"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a box key pair",
	Long: `Generate an X25519 box key pair and print it base64 encoded.

Useful for creating client keys during development. The secret key is
printed to stdout, keep it private.`,
	Run: func(cmd *cobra.Command, args []string) {
		keyPair, err := crypto.GenerateKeyPair()
		if err != nil {
			fmt.Printf("Failed to generate key pair: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Public key:  %s\n", keyPair.PublicKeyBase64())
		fmt.Printf("Secret key:  %s\n", keyPair.SecretKeyBase64())
	},
}

var nodeKeyCmd = &cobra.Command{
	Use:   "node-key",
	Short: "Print the node's box public key",
	Long:  "Load the node's box key pair, generating it on first run, and print the public key",
	Run: func(cmd *cobra.Command, args []string) {
		paths := utils.GetAppPaths("")
		keysDir := filepath.Join(paths.DataDir, "keys")
		keyPair, err := crypto.LoadOrGenerateKeys(keysDir)
		if err != nil {
			fmt.Printf("Failed to load node keys: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(keyPair.PublicKeyBase64())
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(nodeKeyCmd)
}
