package keys

import (
	"github.com/keyfort/keyfort/cmd/keys/subcommands"

	"github.com/spf13/cobra"
)

func KeysCmd() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Signing key utilities",
		Long:  `Utilities for managing the token signing keys.`,
	}
	keysCmd.AddCommand(subcommands.RotateCmd)
	return keysCmd
}
