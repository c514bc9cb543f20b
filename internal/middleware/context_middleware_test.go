package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/keyfort/keyfort/internal/config"
	"github.com/keyfort/keyfort/internal/middleware"
	"github.com/keyfort/keyfort/internal/service"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/gin-gonic/gin"
	"gotest.tools/v3/assert"
)

func newContextTestRouter(t *testing.T) (*gin.Engine, *service.TokenService) {
	t.Helper()

	databaseService := service.NewDatabaseService(service.DatabaseServiceConfig{
		DatabasePath: filepath.Join(t.TempDir(), "keyfort.db"),
	})
	assert.NilError(t, databaseService.Init())
	database := databaseService.GetDatabase()

	keys := service.NewSigningKeyService(service.SigningKeyServiceConfig{Database: database, KeyExpiry: 3600})
	assert.NilError(t, keys.Init())

	clients := service.NewClientService(service.ClientServiceConfig{Database: database})
	nonces := service.NewNonceService(service.NonceServiceConfig{Database: database})
	codes := service.NewAuthorizationService(service.AuthorizationServiceConfig{Database: database}, clients)
	users := service.NewUserService(service.UserServiceConfig{})
	audit := service.NewAuditService(service.AuditServiceConfig{Database: database})
	tokens := service.NewTokenService(service.TokenServiceConfig{
		Database: database,
		Issuer:   "https://auth.example.com",
	}, clients, codes, keys, nonces, users, audit)

	gin.SetMode(gin.TestMode)
	router := gin.New()

	contextMiddleware := middleware.NewContextMiddleware(tokens)
	assert.NilError(t, contextMiddleware.Init())
	router.Use(contextMiddleware.Middleware())

	router.GET("/whoami", func(c *gin.Context) {
		userContext, err := utils.GetContext(c)
		assert.NilError(t, err)
		c.JSON(http.StatusOK, gin.H{
			"user_id":      userContext.UserID,
			"is_logged_in": userContext.IsLoggedIn,
		})
	})

	return router, tokens
}

func TestContextMiddlewareBearerHeader(t *testing.T) {
	router, tokens := newContextTestRouter(t)

	sessionToken, _, err := tokens.MintSessionToken(config.User{ID: "user1", Email: "user@example.com"})
	assert.NilError(t, err)

	recorder := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/whoami", nil)
	assert.NilError(t, err)
	req.Header.Set("Authorization", "Bearer "+sessionToken)

	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Assert(t, recorder.Body.String() != "")
	assert.Equal(t, `{"is_logged_in":true,"user_id":"user1"}`, recorder.Body.String())
}

func TestContextMiddlewareSessionCookie(t *testing.T) {
	router, tokens := newContextTestRouter(t)

	sessionToken, _, err := tokens.MintSessionToken(config.User{ID: "user1", Email: "user@example.com"})
	assert.NilError(t, err)

	recorder := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/whoami", nil)
	assert.NilError(t, err)
	req.AddCookie(&http.Cookie{Name: "keyfort-session", Value: sessionToken})

	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, `{"is_logged_in":true,"user_id":"user1"}`, recorder.Body.String())
}

func TestContextMiddlewareAnonymousFallback(t *testing.T) {
	router, _ := newContextTestRouter(t)

	// No token at all
	recorder := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/whoami", nil)
	assert.NilError(t, err)

	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, `{"is_logged_in":false,"user_id":""}`, recorder.Body.String())

	// Garbage token falls back to anonymous instead of failing the request
	recorder = httptest.NewRecorder()
	req, err = http.NewRequest("GET", "/whoami", nil)
	assert.NilError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-token")

	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, `{"is_logged_in":false,"user_id":""}`, recorder.Body.String())
}
