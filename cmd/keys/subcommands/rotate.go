package subcommands

import (
	"github.com/keyfort/keyfort/internal/service"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var databasePath string
var algorithm string
var keyExpiry int

var RotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the signing key",
	Long:  `Generate a new signing keypair and make it the active key. The previous key stays in the JWKS until it expires so already issued tokens keep verifying.`,
	Run: func(cmd *cobra.Command, args []string) {
		databaseService := service.NewDatabaseService(service.DatabaseServiceConfig{
			DatabasePath: databasePath,
		})

		if err := databaseService.Init(); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}

		signingKeyService := service.NewSigningKeyService(service.SigningKeyServiceConfig{
			Database:  databaseService.GetDatabase(),
			KeyExpiry: keyExpiry,
		})

		key, err := signingKeyService.Rotate(algorithm)

		if err != nil {
			log.Fatal().Err(err).Msg("Failed to rotate signing key")
		}

		log.Info().Str("kid", key.KID).Str("algorithm", key.Algorithm).Msg("Signing key rotated")
	},
}

func init() {
	RotateCmd.Flags().StringVar(&databasePath, "database-path", "keyfort.db", "Path to the sqlite database")
	RotateCmd.Flags().StringVar(&algorithm, "algorithm", "RS256", "Signing algorithm")
	RotateCmd.Flags().IntVar(&keyExpiry, "key-expiry", 7776000, "Seconds the rotated-out key stays in the JWKS")
}
