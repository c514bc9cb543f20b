package controller

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/service"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type OIDCControllerConfig struct {
	AppURL string
	Issuer string
}

type OIDCController struct {
	config  OIDCControllerConfig
	router  *gin.RouterGroup
	clients *service.ClientService
	codes   *service.AuthorizationService
	tokens  *service.TokenService
	refresh *service.RefreshService
	nonces  *service.NonceService
	keys    *service.SigningKeyService
}

func NewOIDCController(config OIDCControllerConfig, router *gin.RouterGroup, clients *service.ClientService, codes *service.AuthorizationService, tokens *service.TokenService, refresh *service.RefreshService, nonces *service.NonceService, keys *service.SigningKeyService) *OIDCController {
	return &OIDCController{
		config:  config,
		router:  router,
		clients: clients,
		codes:   codes,
		tokens:  tokens,
		refresh: refresh,
		nonces:  nonces,
		keys:    keys,
	}
}

func (controller *OIDCController) SetupRoutes() {
	controller.router.GET("/.well-known/openid-configuration", controller.discoveryHandler)

	oidcGroup := controller.router.Group("/api/oidc")
	oidcGroup.GET("/authorize", controller.authorizeHandler)
	oidcGroup.POST("/token", controller.tokenHandler)
	oidcGroup.POST("/revoke", controller.revokeHandler)
	oidcGroup.GET("/userinfo", controller.userinfoHandler)
	oidcGroup.GET("/jwks", controller.jwksHandler)
}

func (controller *OIDCController) discoveryHandler(c *gin.Context) {
	baseURL := strings.TrimSuffix(controller.config.AppURL, "/")

	discovery := map[string]interface{}{
		"issuer":                                controller.config.Issuer,
		"authorization_endpoint":                fmt.Sprintf("%s/api/oidc/authorize", baseURL),
		"token_endpoint":                        fmt.Sprintf("%s/api/oidc/token", baseURL),
		"revocation_endpoint":                   fmt.Sprintf("%s/api/oidc/revoke", baseURL),
		"userinfo_endpoint":                     fmt.Sprintf("%s/api/oidc/userinfo", baseURL),
		"jwks_uri":                              fmt.Sprintf("%s/api/oidc/jwks", baseURL),
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "profile", "email", "offline_access"},
		"token_endpoint_auth_methods_supported": []string{"client_secret_basic", "client_secret_post"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token", "client_credentials"},
		"code_challenge_methods_supported":      []string{"S256", "plain"},
	}

	c.JSON(http.StatusOK, discovery)
}

func (controller *OIDCController) authorizeHandler(c *gin.Context) {
	clientID := c.Query("client_id")
	redirectURI := c.Query("redirect_uri")
	responseType := c.Query("response_type")
	scope := c.Query("scope")
	state := c.Query("state")
	nonce := c.Query("nonce")
	codeChallenge := c.Query("code_challenge")
	codeChallengeMethod := c.Query("code_challenge_method")

	// Until the redirect_uri is validated against the client registration we
	// must answer with JSON instead of redirecting.
	if clientID == "" || redirectURI == "" || responseType == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Missing required parameters",
		})
		return
	}

	client, err := controller.clients.GetClient(clientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_client",
			"error_description": "Client not found",
		})
		return
	}

	if !controller.clients.ValidateRedirectURI(client, redirectURI) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Invalid redirect_uri",
		})
		return
	}

	// redirect_uri is validated, errors can redirect from here on

	if responseType != "code" {
		controller.redirectError(c, redirectURI, state, "unsupported_response_type", "Only the code response type is supported")
		return
	}

	scopes, err := controller.clients.ValidateScope(client, scope)
	if err != nil {
		controller.redirectError(c, redirectURI, state, "invalid_scope", "Invalid scope")
		return
	}

	// Public clients get no secret at the token endpoint, so the code must be
	// bound to a PKCE challenge.
	if !client.IsConfidential && codeChallenge == "" {
		controller.redirectError(c, redirectURI, state, "invalid_request", "code_challenge is required for public clients")
		return
	}

	userContext, err := utils.GetContext(c)
	if err != nil || !userContext.IsLoggedIn {
		authorizeURL := fmt.Sprintf("%s%s", controller.config.AppURL, c.Request.URL.Path)
		if c.Request.URL.RawQuery != "" {
			authorizeURL = fmt.Sprintf("%s?%s", authorizeURL, c.Request.URL.RawQuery)
		}
		loginURL := fmt.Sprintf("%s/login?redirect_uri=%s", controller.config.AppURL, url.QueryEscape(authorizeURL))
		c.Redirect(http.StatusFound, loginURL)
		return
	}

	if utils.ContainsScope(scopes, "openid") && nonce != "" {
		if err := controller.nonces.Record(clientID, nonce); err != nil {
			log.Error().Err(err).Msg("Failed to record nonce")
			controller.redirectError(c, redirectURI, state, "server_error", "Internal server error")
			return
		}
	}

	code, err := controller.codes.Issue(service.IssueCodeRequest{
		ClientID:            clientID,
		UserID:              userContext.UserID,
		RedirectURI:         redirectURI,
		Scope:               utils.JoinScopes(scopes),
		Nonce:               nonce,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue authorization code")
		controller.redirectError(c, redirectURI, state, apperrors.AsError(err).Code(), "Failed to issue authorization code")
		return
	}

	redirectURL, err := url.Parse(redirectURI)
	if err != nil {
		controller.redirectError(c, redirectURI, state, "invalid_request", "Invalid redirect_uri")
		return
	}

	query := redirectURL.Query()
	query.Set("code", code)
	if state != "" {
		query.Set("state", state)
	}
	redirectURL.RawQuery = query.Encode()

	c.Redirect(http.StatusFound, redirectURL.String())
}

func (controller *OIDCController) tokenHandler(c *gin.Context) {
	grantType := c.PostForm("grant_type")

	clientID, clientSecret := controller.getClientCredentials(c)
	if clientID == "" {
		controller.tokenError(c, apperrors.New(apperrors.KindInvalidClient, "Missing client credentials"))
		return
	}

	switch grantType {
	case "authorization_code":
		response, err := controller.tokens.ExchangeAuthorizationCode(service.AuthorizationCodeExchange{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         c.PostForm("code"),
			RedirectURI:  c.PostForm("redirect_uri"),
			CodeVerifier: c.PostForm("code_verifier"),
			RequestIP:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
		})
		if err != nil {
			controller.tokenError(c, err)
			return
		}
		c.JSON(http.StatusOK, response)

	case "refresh_token":
		response, err := controller.refresh.Refresh(service.RefreshRequest{
			RefreshToken: c.PostForm("refresh_token"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scope:        c.PostForm("scope"),
			RequestIP:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
		})
		if err != nil {
			controller.tokenError(c, err)
			return
		}
		c.JSON(http.StatusOK, response)

	case "client_credentials":
		response, err := controller.tokens.ExchangeClientCredentials(clientID, clientSecret, c.PostForm("scope"))
		if err != nil {
			controller.tokenError(c, err)
			return
		}
		c.JSON(http.StatusOK, response)

	default:
		controller.tokenError(c, apperrors.New(apperrors.KindUnsupportedGrantType, "Unsupported grant_type"))
	}
}

// revokeHandler always answers 200, even for unknown tokens, so the endpoint
// cannot be used as a token-existence oracle (RFC 7009).
func (controller *OIDCController) revokeHandler(c *gin.Context) {
	token := c.PostForm("token")
	if token == "" {
		c.Status(http.StatusOK)
		return
	}

	if !controller.refresh.RevokeByValue(token, "client_revoked") {
		controller.tokens.RevokeAccessByValue(token, "client_revoked")
	}

	c.Status(http.StatusOK)
}

func (controller *OIDCController) userinfoHandler(c *gin.Context) {
	accessToken := controller.getAccessToken(c)
	if accessToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "Missing access token",
		})
		return
	}

	claims, err := controller.tokens.ValidateAccessToken(accessToken)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected access token")
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_token",
			"error_description": "Invalid or expired access token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sub":   claims.UserID,
		"scope": utils.JoinScopes(claims.Scope),
	})
}

func (controller *OIDCController) jwksHandler(c *gin.Context) {
	jwks, err := controller.keys.PublicKeySet()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get JWKS")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "server_error",
		})
		return
	}

	c.JSON(http.StatusOK, jwks)
}

// Helper functions

func (controller *OIDCController) redirectError(c *gin.Context, redirectURI string, state string, errorCode string, errorDescription string) {
	redirectURL, err := url.Parse(redirectURI)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             errorCode,
			"error_description": errorDescription,
		})
		return
	}

	query := redirectURL.Query()
	query.Set("error", errorCode)
	query.Set("error_description", errorDescription)
	if state != "" {
		query.Set("state", state)
	}
	redirectURL.RawQuery = query.Encode()

	c.Redirect(http.StatusFound, redirectURL.String())
}

func (controller *OIDCController) tokenError(c *gin.Context, err error) {
	appErr := apperrors.AsError(err)
	if appErr.Kind == apperrors.KindServerError {
		log.Error().Err(err).Msg("Token endpoint failure")
	} else {
		log.Debug().Err(err).Msg("Token endpoint rejection")
	}

	c.JSON(appErr.Status(), gin.H{
		"error":             appErr.Code(),
		"error_description": appErr.Description,
	})
}

func (controller *OIDCController) getClientCredentials(c *gin.Context) (string, string) {
	// client_secret_basic
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Basic ") {
		encoded := strings.TrimPrefix(authHeader, "Basic ")
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil {
			parts := strings.SplitN(string(decoded), ":", 2)
			if len(parts) == 2 {
				return parts[0], parts[1]
			}
		}
	}

	// client_secret_post. Query parameters are never accepted since they leak
	// into access logs and referrer headers.
	return c.PostForm("client_id"), c.PostForm("client_secret")
}

func (controller *OIDCController) getAccessToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
