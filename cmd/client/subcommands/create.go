package subcommands

import (
	"errors"
	"strings"

	"github.com/keyfort/keyfort/internal/service"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/charmbracelet/huh"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var interactive bool
var databasePath string
var clientID string
var clientName string
var redirectURIs string
var allowedScopes string
var confidential bool

var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a client",
	Long:  `Register an OAuth client either interactively or by passing flags. The client secret is printed once and never stored in plaintext.`,
	Run: func(cmd *cobra.Command, args []string) {
		if interactive {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().Title("Client ID").Value(&clientID).Validate((func(s string) error {
						if s == "" {
							return errors.New("client ID cannot be empty")
						}
						return nil
					})),
					huh.NewInput().Title("Client name").Value(&clientName),
					huh.NewInput().Title("Redirect URIs (comma separated)").Value(&redirectURIs).Validate((func(s string) error {
						if s == "" {
							return errors.New("at least one redirect URI is required")
						}
						return nil
					})),
					huh.NewInput().Title("Allowed scopes (space separated)").Value(&allowedScopes),
					huh.NewSelect[bool]().Title("Is this a confidential client?").Options(huh.NewOption("Yes", true), huh.NewOption("No", false)).Value(&confidential),
				),
			)

			var baseTheme *huh.Theme = huh.ThemeBase()

			formErr := form.WithTheme(baseTheme).Run()

			if formErr != nil {
				log.Fatal().Err(formErr).Msg("Form failed")
			}
		}

		if clientID == "" || redirectURIs == "" {
			log.Fatal().Msg("Client ID and redirect URIs cannot be empty")
		}

		databaseService := service.NewDatabaseService(service.DatabaseServiceConfig{
			DatabasePath: databasePath,
		})

		if err := databaseService.Init(); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}

		clientService := service.NewClientService(service.ClientServiceConfig{
			Database: databaseService.GetDatabase(),
		})

		uris := []string{}
		for _, uri := range strings.Split(redirectURIs, ",") {
			uri = strings.TrimSpace(uri)
			if uri != "" {
				uris = append(uris, uri)
			}
		}

		secret, err := clientService.Register(service.ClientRegistration{
			ClientID:       clientID,
			ClientName:     clientName,
			RedirectURIs:   uris,
			AllowedScopes:  utils.SplitScopes(allowedScopes),
			IsConfidential: confidential,
		})

		if err != nil {
			log.Fatal().Err(err).Msg("Failed to register client")
		}

		if confidential {
			log.Info().Str("client_id", clientID).Str("client_secret", secret).Msg("Client registered, store the secret now, it will not be shown again")
		} else {
			log.Info().Str("client_id", clientID).Msg("Public client registered")
		}
	},
}

func init() {
	CreateCmd.Flags().BoolVar(&interactive, "interactive", false, "Register a client interactively")
	CreateCmd.Flags().StringVar(&databasePath, "database-path", "keyfort.db", "Path to the sqlite database")
	CreateCmd.Flags().StringVar(&clientID, "client-id", "", "Client ID")
	CreateCmd.Flags().StringVar(&clientName, "client-name", "", "Human readable client name")
	CreateCmd.Flags().StringVar(&redirectURIs, "redirect-uris", "", "Comma separated list of redirect URIs")
	CreateCmd.Flags().StringVar(&allowedScopes, "scopes", "openid profile email offline_access", "Space separated list of allowed scopes")
	CreateCmd.Flags().BoolVar(&confidential, "confidential", false, "Register a confidential client with a generated secret")
}
