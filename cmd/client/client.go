package client

import (
	"github.com/keyfort/keyfort/cmd/client/subcommands"

	"github.com/spf13/cobra"
)

func ClientCmd() *cobra.Command {
	clientCmd := &cobra.Command{
		Use:   "client",
		Short: "Client utilities",
		Long:  `Utilities for registering and deactivating OAuth clients.`,
	}
	clientCmd.AddCommand(subcommands.CreateCmd)
	clientCmd.AddCommand(subcommands.RotateSecretCmd)
	clientCmd.AddCommand(subcommands.DeactivateCmd)
	return clientCmd
}
