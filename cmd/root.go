package cmd

import (
	"time"

	clientCmd "github.com/keyfort/keyfort/cmd/client"
	keysCmd "github.com/keyfort/keyfort/cmd/keys"
	"github.com/keyfort/keyfort/internal/config"
	"github.com/keyfort/keyfort/internal/controller"
	"github.com/keyfort/keyfort/internal/middleware"
	"github.com/keyfort/keyfort/internal/server"
	"github.com/keyfort/keyfort/internal/service"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "keyfort",
	Short: "A lightweight OAuth 2.0 / OIDC authorization server.",
	Long:  `Keyfort is a small OAuth 2.0 and OpenID Connect authorization server with PKCE, refresh-token rotation and signing-key rotation.`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Info().Msg("Parsing config")
		var conf config.Config
		parseErr := viper.Unmarshal(&conf)
		HandleError(parseErr, "Failed to parse config")

		log.Info().Msg("Validating config")
		validate := validator.New()
		validateErr := validate.Struct(conf)
		HandleError(validateErr, "Invalid config")

		level, levelErr := zerolog.ParseLevel(conf.LogLevel)
		HandleError(levelErr, "Invalid log level")
		zerolog.SetGlobalLevel(level)

		// Parse users
		log.Info().Msg("Parsing users")

		usersString := conf.Users

		if conf.UsersFile != "" {
			usersFromFile, readErr := utils.GetUsersFromFile(conf.UsersFile)
			HandleError(readErr, "Failed to read users from file")
			if usersString != "" {
				usersString = usersString + "," + usersFromFile
			} else {
				usersString = usersFromFile
			}
		}

		var users []config.User
		if usersString != "" {
			var parseUsersErr error
			users, parseUsersErr = utils.ParseUsers(usersString)
			HandleError(parseUsersErr, "Failed to parse users")
		}

		// Database
		databaseService := service.NewDatabaseService(service.DatabaseServiceConfig{
			DatabasePath: conf.DatabasePath,
		})
		HandleError(databaseService.Init(), "Failed to initialize database")
		database := databaseService.GetDatabase()

		// Services
		clientService := service.NewClientService(service.ClientServiceConfig{
			Database: database,
		})
		signingKeyService := service.NewSigningKeyService(service.SigningKeyServiceConfig{
			Database:  database,
			KeyExpiry: conf.SigningKeyExpiry,
		})
		HandleError(signingKeyService.Init(), "Failed to initialize signing keys")

		nonceService := service.NewNonceService(service.NonceServiceConfig{
			Database:    database,
			NonceExpiry: conf.NonceExpiry,
		})
		authorizationService := service.NewAuthorizationService(service.AuthorizationServiceConfig{
			Database:   database,
			CodeExpiry: conf.AuthorizationCodeExpiry,
		}, clientService)
		userService := service.NewUserService(service.UserServiceConfig{
			Users: users,
		})
		auditService := service.NewAuditService(service.AuditServiceConfig{
			Database: database,
		})
		tokenService := service.NewTokenService(service.TokenServiceConfig{
			Database:           database,
			Issuer:             conf.Issuer,
			AccessTokenExpiry:  conf.AccessTokenExpiry,
			IDTokenExpiry:      conf.IDTokenExpiry,
			RefreshTokenExpiry: conf.RefreshTokenExpiry,
			SessionExpiry:      conf.SessionExpiry,
		}, clientService, authorizationService, signingKeyService, nonceService, userService, auditService)
		refreshService := service.NewRefreshService(service.RefreshServiceConfig{
			Database:    database,
			GracePeriod: conf.RotationGracePeriod,
		}, tokenService, auditService)

		// Server
		gin.SetMode(gin.ReleaseMode)

		srv, serverErr := server.NewServer(server.ServerConfig{
			Port:           conf.Port,
			Address:        conf.Address,
			TrustedProxies: conf.TrustedProxies,
		}, []server.Middleware{
			middleware.NewZerologMiddleware(),
			middleware.NewContextMiddleware(tokenService),
		})
		HandleError(serverErr, "Failed to create server")

		group := srv.Router.Group("/")

		controllers := []server.Controller{
			controller.NewOIDCController(controller.OIDCControllerConfig{
				AppURL: conf.AppURL,
				Issuer: conf.Issuer,
			}, group, clientService, authorizationService, tokenService, refreshService, nonceService, signingKeyService),
			controller.NewAuthController(group, userService, tokenService),
			controller.NewHealthController(group),
		}

		for _, ctrl := range controllers {
			ctrl.SetupRoutes()
		}

		// Finalize lapsed rotation grace windows in the background. Token and
		// code expiry is otherwise enforced lazily at use time.
		go func() {
			for range time.Tick(time.Minute) {
				if _, err := refreshService.Sweep(); err != nil {
					log.Error().Err(err).Msg("Refresh token sweep failed")
				}
			}
		}()

		HandleError(srv.Start(), "Failed to start server")
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}

func HandleError(err error, msg string) {
	if err != nil {
		log.Fatal().Err(err).Msg(msg)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(clientCmd.ClientCmd())
	rootCmd.AddCommand(keysCmd.KeysCmd())

	viper.AutomaticEnv()
	rootCmd.Flags().Int("port", 3000, "Port to run the server on.")
	rootCmd.Flags().String("address", "0.0.0.0", "Address to bind the server to.")
	rootCmd.Flags().String("app-url", "", "The public keyfort URL.")
	rootCmd.Flags().String("issuer", "", "Issuer URL embedded in signed tokens.")
	rootCmd.Flags().String("database-path", "keyfort.db", "Path to the sqlite database.")
	rootCmd.Flags().String("log-level", "info", "Log level.")
	rootCmd.Flags().String("users", "", "Comma separated list of users in the format id:email:bcrypt-hashed-password.")
	rootCmd.Flags().String("users-file", "", "Path to a file containing users in the format id:email:bcrypt-hashed-password.")
	rootCmd.Flags().Int("access-token-expiry", 3600, "Access token expiry in seconds.")
	rootCmd.Flags().Int("id-token-expiry", 3600, "ID token expiry in seconds.")
	rootCmd.Flags().Int("refresh-token-expiry", 2592000, "Refresh token expiry in seconds.")
	rootCmd.Flags().Int("authorization-code-expiry", 60, "Authorization code expiry in seconds.")
	rootCmd.Flags().Int("nonce-expiry", 60, "Nonce expiry in seconds.")
	rootCmd.Flags().Int("rotation-grace-period", 10, "Seconds a rotated refresh token stays redeemable for client retries.")
	rootCmd.Flags().Int("signing-key-expiry", 7776000, "Seconds a rotated-out signing key stays in the JWKS.")
	rootCmd.Flags().Int("session-expiry", 86400, "Session token expiry in seconds.")
	rootCmd.Flags().String("trusted-proxies", "", "Comma separated list of trusted proxies.")
	viper.BindEnv("port", "PORT")
	viper.BindEnv("address", "ADDRESS")
	viper.BindEnv("app-url", "APP_URL")
	viper.BindEnv("issuer", "ISSUER")
	viper.BindEnv("database-path", "DATABASE_PATH")
	viper.BindEnv("log-level", "LOG_LEVEL")
	viper.BindEnv("users", "USERS")
	viper.BindEnv("users-file", "USERS_FILE")
	viper.BindEnv("access-token-expiry", "ACCESS_TOKEN_EXPIRY")
	viper.BindEnv("id-token-expiry", "ID_TOKEN_EXPIRY")
	viper.BindEnv("refresh-token-expiry", "REFRESH_TOKEN_EXPIRY")
	viper.BindEnv("authorization-code-expiry", "AUTHORIZATION_CODE_EXPIRY")
	viper.BindEnv("nonce-expiry", "NONCE_EXPIRY")
	viper.BindEnv("rotation-grace-period", "ROTATION_GRACE_PERIOD")
	viper.BindEnv("signing-key-expiry", "SIGNING_KEY_EXPIRY")
	viper.BindEnv("session-expiry", "SESSION_EXPIRY")
	viper.BindEnv("trusted-proxies", "TRUSTED_PROXIES")
	viper.BindPFlags(rootCmd.Flags())
}
