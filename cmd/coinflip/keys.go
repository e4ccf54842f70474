package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/coinflip/internal/crypto"
)

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key and write it to --key-file",
		Args:  cobra.NoArgs,
		RunE:  keygen,
	}
	cmd.Flags().Bool("force", false, "overwrite an existing key file")
	return cmd
}

func keygen(cmd *cobra.Command, _ []string) error {
	file, _ := cmd.Flags().GetString("key-file")
	password, _ := cmd.Flags().GetString("password")
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(file); err == nil && !force {
		return fmt.Errorf("key file %s already exists (use --force to overwrite)", file)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	if err := crypto.WriteKeyFile(file, key, password); err != nil {
		return err
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"address":   signer.Identity(),
		"key_file":  file,
		"encrypted": password != "",
	})
}

func addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the address of the configured key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := loadSigner(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Identity())
			return nil
		},
	}
}
