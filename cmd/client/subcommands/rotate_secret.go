package subcommands

import (
	"github.com/keyfort/keyfort/internal/service"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rotateDatabasePath string
var rotateClientID string

var RotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret",
	Short: "Rotate a client secret",
	Long:  `Generate a new secret for a confidential client. The old secret stops working immediately and the new one is printed once.`,
	Run: func(cmd *cobra.Command, args []string) {
		if rotateClientID == "" {
			log.Fatal().Msg("Client ID cannot be empty")
		}

		databaseService := service.NewDatabaseService(service.DatabaseServiceConfig{
			DatabasePath: rotateDatabasePath,
		})

		if err := databaseService.Init(); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}

		clientService := service.NewClientService(service.ClientServiceConfig{
			Database: databaseService.GetDatabase(),
		})

		secret, err := clientService.RotateSecret(rotateClientID)

		if err != nil {
			log.Fatal().Err(err).Msg("Failed to rotate client secret")
		}

		log.Info().Str("client_id", rotateClientID).Str("client_secret", secret).Msg("Client secret rotated, store the secret now, it will not be shown again")
	},
}

func init() {
	RotateSecretCmd.Flags().StringVar(&rotateDatabasePath, "database-path", "keyfort.db", "Path to the sqlite database")
	RotateSecretCmd.Flags().StringVar(&rotateClientID, "client-id", "", "Client ID")
}
