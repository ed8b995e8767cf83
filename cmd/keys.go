package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate VAULT_KEY and JWT_SECRET values (base64)",
		RunE: func(cmd *cobra.Command, args []string) error {
			vault := make([]byte, 32)
			secret := make([]byte, 32)
			if _, err := rand.Read(vault); err != nil {
				return err
			}
			if _, err := rand.Read(secret); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "export VAULT_KEY=%s\n", base64.StdEncoding.EncodeToString(vault))
			fmt.Fprintf(os.Stdout, "export JWT_SECRET=%s\n", base64.StdEncoding.EncodeToString(secret))
			return nil
		},
	}
}
