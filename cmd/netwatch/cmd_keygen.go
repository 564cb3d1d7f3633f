package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netwatch-nms/netwatch/pkg/secret"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a credential encryption key",
	Long: `Generates a random 256-bit key, base64-encoded, for encrypting
stored credentials. Put it in the config as encryption.key or export
NETWATCH_ENCRYPTION_KEY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := secret.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating key: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}
