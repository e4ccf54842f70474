// Command coinflip is the operator and player CLI of the coinflip engine. It
// manages signing keys and calls the HTTP API with signed requests.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/coinflip/internal/client"
	"github.com/alanyoungcy/coinflip/internal/crypto"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coinflip",
		Short:         "coinflip engine client tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("api", envOr("COINFLIP_API", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().String("key", "", "hex private key (overrides --key-file)")
	cmd.PersistentFlags().String("key-file", envOr("COINFLIP_KEY_FILE", "coinflip.key"), "path to the key file")
	cmd.PersistentFlags().String("password", os.Getenv("COINFLIP_KEY_PASSWORD"), "key file password")

	cmd.AddCommand(
		keygenCmd(),
		addressCmd(),
		bootstrapCmd(),
		updateCmd(),
		registerCmd(),
		playCmd(),
		claimCmd(),
		withdrawCmd(),
		statusCmd(),
		poolCmd(),
		balanceCmd(),
		roundsCmd(),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadSigner resolves the signing key from --key or --key-file.
func loadSigner(cmd *cobra.Command) (*crypto.Signer, error) {
	raw, _ := cmd.Flags().GetString("key")
	file, _ := cmd.Flags().GetString("key-file")
	password, _ := cmd.Flags().GetString("password")

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey: raw,
		KeyFile:       file,
		KeyPassword:   password,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(key)
}

// apiClient returns a client for --api. With signed set, the key must load.
func apiClient(cmd *cobra.Command, signed bool) (*client.Client, error) {
	base, _ := cmd.Flags().GetString("api")
	if !signed {
		return client.New(base, nil), nil
	}
	signer, err := loadSigner(cmd)
	if err != nil {
		return nil, err
	}
	return client.New(base, signer), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
