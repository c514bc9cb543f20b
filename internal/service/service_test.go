package service_test

import (
	"path/filepath"
	"testing"

	"github.com/keyfort/keyfort/internal/config"
	"github.com/keyfort/keyfort/internal/service"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gotest.tools/v3/assert"
)

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	databaseService := service.NewDatabaseService(service.DatabaseServiceConfig{
		DatabasePath: filepath.Join(t.TempDir(), "keyfort.db"),
	})
	assert.NilError(t, databaseService.Init())

	return databaseService.GetDatabase()
}

type testStack struct {
	database *gorm.DB
	clients  *service.ClientService
	keys     *service.SigningKeyService
	nonces   *service.NonceService
	codes    *service.AuthorizationService
	users    *service.UserService
	audit    *service.AuditService
	tokens   *service.TokenService
	refresh  *service.RefreshService

	// secret of the registered confidential client, only available at
	// registration time
	secret string
}

// newTestStack wires the full service graph against a throwaway database,
// with one user and one confidential and one public client registered.
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	database := newTestDatabase(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("some-password"), bcrypt.MinCost)
	assert.NilError(t, err)

	clients := service.NewClientService(service.ClientServiceConfig{
		Database: database,
	})
	keys := service.NewSigningKeyService(service.SigningKeyServiceConfig{
		Database:  database,
		KeyExpiry: 3600,
	})
	assert.NilError(t, keys.Init())

	nonces := service.NewNonceService(service.NonceServiceConfig{
		Database:    database,
		NonceExpiry: 60,
	})
	codes := service.NewAuthorizationService(service.AuthorizationServiceConfig{
		Database:   database,
		CodeExpiry: 60,
	}, clients)
	users := service.NewUserService(service.UserServiceConfig{
		Users: []config.User{
			{ID: "user1", Email: "user@example.com", PasswordHash: string(hash)},
			{ID: "user2", Email: "other@example.com", PasswordHash: string(hash)},
		},
	})
	audit := service.NewAuditService(service.AuditServiceConfig{
		Database: database,
	})
	tokens := service.NewTokenService(service.TokenServiceConfig{
		Database:           database,
		Issuer:             "https://auth.example.com",
		AccessTokenExpiry:  3600,
		IDTokenExpiry:      3600,
		RefreshTokenExpiry: 2592000,
		SessionExpiry:      3600,
	}, clients, codes, keys, nonces, users, audit)
	refresh := service.NewRefreshService(service.RefreshServiceConfig{
		Database:    database,
		GracePeriod: 10,
	}, tokens, audit)

	secret, err := clients.Register(service.ClientRegistration{
		ClientID:       "confidential-client",
		ClientName:     "Confidential Client",
		RedirectURIs:   []string{"https://app.example.com/callback"},
		AllowedScopes:  []string{"openid", "profile", "email", "offline_access"},
		IsConfidential: true,
	})
	assert.NilError(t, err)

	_, err = clients.Register(service.ClientRegistration{
		ClientID:      "public-client",
		ClientName:    "Public Client",
		RedirectURIs:  []string{"https://spa.example.com/callback"},
		AllowedScopes: []string{"openid", "email", "offline_access"},
	})
	assert.NilError(t, err)

	return &testStack{
		database: database,
		clients:  clients,
		keys:     keys,
		nonces:   nonces,
		codes:    codes,
		users:    users,
		audit:    audit,
		tokens:   tokens,
		refresh:  refresh,
		secret:   secret,
	}
}
