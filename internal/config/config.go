package config

// Version information, set at build time

var Version = "development"
var CommitHash = "development"
var BuildTimestamp = "0000-00-00T00:00:00Z"

// Main app config

type Config struct {
	Port                    int    `mapstructure:"port" validate:"required"`
	Address                 string `mapstructure:"address" validate:"required,ip4_addr"`
	AppURL                  string `mapstructure:"app-url" validate:"required,url"`
	Issuer                  string `mapstructure:"issuer" validate:"required,url"`
	DatabasePath            string `mapstructure:"database-path" validate:"required"`
	LogLevel                string `mapstructure:"log-level" validate:"oneof=trace debug info warn error fatal panic"`
	Users                   string `mapstructure:"users"`
	UsersFile               string `mapstructure:"users-file"`
	AccessTokenExpiry       int    `mapstructure:"access-token-expiry"`
	IDTokenExpiry           int    `mapstructure:"id-token-expiry"`
	RefreshTokenExpiry      int    `mapstructure:"refresh-token-expiry"`
	AuthorizationCodeExpiry int    `mapstructure:"authorization-code-expiry"`
	NonceExpiry             int    `mapstructure:"nonce-expiry"`
	RotationGracePeriod     int    `mapstructure:"rotation-grace-period"`
	SigningKeyExpiry        int    `mapstructure:"signing-key-expiry"`
	SessionExpiry           int    `mapstructure:"session-expiry"`
	TrustedProxies          string `mapstructure:"trusted-proxies"`
}

// User directory entry, parsed from the users flag/file

type User struct {
	ID           string
	Email        string
	PasswordHash string
}

// UserContext describes the authenticated session attached to a request

type UserContext struct {
	UserID     string
	Email      string
	Name       string
	IsLoggedIn bool
}
