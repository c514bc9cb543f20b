package subcommands

import (
	"github.com/keyfort/keyfort/internal/service"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var deactivateDatabasePath string
var deactivateClientID string

var DeactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate a client",
	Long:  `Deactivate an OAuth client. The registration row is kept for auditing but the client can no longer authenticate or be issued tokens.`,
	Run: func(cmd *cobra.Command, args []string) {
		if deactivateClientID == "" {
			log.Fatal().Msg("Client ID cannot be empty")
		}

		databaseService := service.NewDatabaseService(service.DatabaseServiceConfig{
			DatabasePath: deactivateDatabasePath,
		})

		if err := databaseService.Init(); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}

		clientService := service.NewClientService(service.ClientServiceConfig{
			Database: databaseService.GetDatabase(),
		})

		if err := clientService.Deactivate(deactivateClientID); err != nil {
			log.Fatal().Err(err).Msg("Failed to deactivate client")
		}

		log.Info().Str("client_id", deactivateClientID).Msg("Client deactivated")
	},
}

func init() {
	DeactivateCmd.Flags().StringVar(&deactivateDatabasePath, "database-path", "keyfort.db", "Path to the sqlite database")
	DeactivateCmd.Flags().StringVar(&deactivateClientID, "client-id", "", "Client ID")
}
