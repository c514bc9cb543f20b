package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/config"
	"github.com/keyfort/keyfort/internal/model"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const refreshTokenLength = 64

type TokenServiceConfig struct {
	Database           *gorm.DB
	Issuer             string
	AccessTokenExpiry  int
	IDTokenExpiry      int
	RefreshTokenExpiry int
	SessionExpiry      int
}

// TokenService mints and validates tokens and orchestrates the
// authorization_code and client_credentials grants. The refresh_token grant
// lives in RefreshService.
type TokenService struct {
	config  TokenServiceConfig
	clients *ClientService
	codes   *AuthorizationService
	keys    *SigningKeyService
	nonces  *NonceService
	users   *UserService
	audit   *AuditService
}

func NewTokenService(config TokenServiceConfig, clients *ClientService, codes *AuthorizationService, keys *SigningKeyService, nonces *NonceService, users *UserService, audit *AuditService) *TokenService {
	return &TokenService{
		config:  config,
		clients: clients,
		codes:   codes,
		keys:    keys,
		nonces:  nonces,
		users:   users,
		audit:   audit,
	}
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token,omitempty"`
}

type AuthorizationCodeExchange struct {
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RequestIP    string
	UserAgent    string
}

type AccessTokenClaims struct {
	UserID   string
	ClientID string
	Scope    []string
}

// AuthenticateClient resolves the client and, for confidential clients,
// verifies the presented secret.
func (ts *TokenService) AuthenticateClient(clientID string, clientSecret string) (*model.Client, error) {
	client, err := ts.clients.GetClient(clientID)
	if err != nil {
		return nil, err
	}

	if client.IsConfidential {
		if clientSecret == "" || !ts.clients.VerifySecret(client, clientSecret) {
			return nil, apperrors.New(apperrors.KindInvalidClient, "client authentication failed")
		}
	}

	return client, nil
}

// ExchangeAuthorizationCode redeems a code for an access token, a root
// refresh token when offline_access was granted, and an ID token when the
// openid scope is present.
func (ts *TokenService) ExchangeAuthorizationCode(req AuthorizationCodeExchange) (*TokenResponse, error) {
	client, err := ts.AuthenticateClient(req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	redeemed, err := ts.codes.Redeem(req.Code, client.ClientID, req.RedirectURI, req.CodeVerifier)
	if err != nil {
		return nil, err
	}

	// The nonce must be consumed before anything is minted. A replayed nonce
	// is a hard failure, not a retry-tolerant one.
	if utils.ContainsScope(redeemed.Scope, "openid") && redeemed.Nonce != "" {
		if !ts.nonces.Consume(redeemed.Nonce) {
			return nil, apperrors.New(apperrors.KindReplayDetected, "nonce has already been used")
		}
	}

	accessToken, expiresIn, err := ts.MintAccessToken(client.ClientID, redeemed.UserID, redeemed.Scope)
	if err != nil {
		return nil, err
	}

	response := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       utils.JoinScopes(redeemed.Scope),
	}

	if utils.ContainsScope(redeemed.Scope, "offline_access") {
		refreshToken, _, err := ts.MintRefreshToken(client.ClientID, redeemed.UserID, redeemed.Scope, "", 0)
		if err != nil {
			return nil, err
		}
		response.RefreshToken = refreshToken
	}

	if utils.ContainsScope(redeemed.Scope, "openid") {
		idToken, err := ts.MintIDToken(client.ClientID, redeemed.UserID, redeemed.Nonce)
		if err != nil {
			return nil, err
		}
		response.IDToken = idToken
	}

	ts.audit.RecordGrant(client.ClientID, redeemed.UserID, req.RequestIP, req.UserAgent)

	return response, nil
}

// ExchangeClientCredentials issues a short-lived service-identity token. The
// grant requires a confidential client and never yields a refresh token.
func (ts *TokenService) ExchangeClientCredentials(clientID string, clientSecret string, scope string) (*TokenResponse, error) {
	client, err := ts.clients.GetClient(clientID)
	if err != nil {
		return nil, err
	}

	if !client.IsConfidential {
		return nil, apperrors.New(apperrors.KindInvalidClient, "client_credentials requires a confidential client")
	}
	if clientSecret == "" || !ts.clients.VerifySecret(client, clientSecret) {
		return nil, apperrors.New(apperrors.KindInvalidClient, "client authentication failed")
	}

	scopes, err := ts.clients.ValidateScope(client, scope)
	if err != nil {
		return nil, err
	}

	// User-bound scopes make no sense for a service identity.
	serviceScopes := []string{}
	for _, s := range scopes {
		if s == "openid" || s == "offline_access" {
			continue
		}
		serviceScopes = append(serviceScopes, s)
	}

	accessToken, expiresIn, err := ts.MintAccessToken(client.ClientID, "", serviceScopes)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       utils.JoinScopes(serviceScopes),
	}, nil
}

// MintAccessToken signs a JWT with the current signing key and records its
// hash for revocation lookups.
func (ts *TokenService) MintAccessToken(clientID string, userID string, scopes []string) (string, int, error) {
	return ts.mintAccessToken(ts.config.Database, clientID, userID, scopes)
}

func (ts *TokenService) mintAccessToken(db *gorm.DB, clientID string, userID string, scopes []string) (string, int, error) {
	kid, key, err := ts.keys.CurrentSigningKey()
	if err != nil {
		return "", 0, err
	}

	expiry := ts.config.AccessTokenExpiry
	if expiry <= 0 {
		expiry = 3600
	}

	subject := userID
	if subject == "" {
		subject = clientID
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       ts.config.Issuer,
		"sub":       subject,
		"aud":       clientID,
		"exp":       now.Add(time.Duration(expiry) * time.Second).Unix(),
		"iat":       now.Unix(),
		"jti":       uuid.New().String(),
		"scope":     utils.JoinScopes(scopes),
		"client_id": clientID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	raw, err := token.SignedString(key)
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.KindServerError, "failed to sign access token", err)
	}

	entry := model.AccessToken{
		TokenHash: utils.HashToken(raw),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     utils.JoinScopes(scopes),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(time.Duration(expiry) * time.Second).Unix(),
	}
	if err := db.Create(&entry).Error; err != nil {
		return "", 0, apperrors.Wrap(apperrors.KindServerError, "failed to record access token", err)
	}

	return raw, expiry, nil
}

// MintRefreshToken creates an opaque refresh token. An empty parentHash
// starts a new family; otherwise the token joins the parent's lineage.
func (ts *TokenService) MintRefreshToken(clientID string, userID string, scopes []string, parentHash string, rotationCount int) (string, *model.RefreshToken, error) {
	return ts.mintRefreshToken(ts.config.Database, clientID, userID, scopes, parentHash, rotationCount)
}

func (ts *TokenService) mintRefreshToken(db *gorm.DB, clientID string, userID string, scopes []string, parentHash string, rotationCount int) (string, *model.RefreshToken, error) {
	raw, err := utils.GetRandomString(refreshTokenLength)
	if err != nil {
		return "", nil, apperrors.Wrap(apperrors.KindServerError, "failed to generate refresh token", err)
	}

	expiry := ts.config.RefreshTokenExpiry
	if expiry <= 0 {
		expiry = 30 * 24 * 3600
	}

	now := time.Now().Unix()
	entry := model.RefreshToken{
		TokenHash:     utils.HashToken(raw),
		ClientID:      clientID,
		UserID:        userID,
		Scope:         utils.JoinScopes(scopes),
		CreatedAt:     now,
		ExpiresAt:     now + int64(expiry),
		RotationCount: rotationCount,
		TokenStatus:   model.TokenStatusActive,
	}
	if parentHash != "" {
		entry.ParentTokenHash = &parentHash
	}

	if err := db.Create(&entry).Error; err != nil {
		return "", nil, apperrors.Wrap(apperrors.KindServerError, "failed to record refresh token", err)
	}

	return raw, &entry, nil
}

// MintIDToken signs an OIDC ID token for the user, echoing the request nonce.
func (ts *TokenService) MintIDToken(clientID string, userID string, nonce string) (string, error) {
	kid, key, err := ts.keys.CurrentSigningKey()
	if err != nil {
		return "", err
	}

	expiry := ts.config.IDTokenExpiry
	if expiry <= 0 {
		expiry = 3600
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       ts.config.Issuer,
		"sub":       userID,
		"aud":       clientID,
		"exp":       now.Add(time.Duration(expiry) * time.Second).Unix(),
		"iat":       now.Unix(),
		"auth_time": now.Unix(),
	}

	if user, err := ts.users.GetUser(userID); err == nil {
		claims["email"] = user.Email
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	raw, err := token.SignedString(key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to sign ID token", err)
	}
	return raw, nil
}

// MintSessionToken signs a short session JWT used by the authorize endpoint
// to recognize an authenticated user.
func (ts *TokenService) MintSessionToken(user config.User) (string, int, error) {
	kid, key, err := ts.keys.CurrentSigningKey()
	if err != nil {
		return "", 0, err
	}

	expiry := ts.config.SessionExpiry
	if expiry <= 0 {
		expiry = 86400
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.config.Issuer,
		"sub":   user.ID,
		"email": user.Email,
		"typ":   "session",
		"exp":   now.Add(time.Duration(expiry) * time.Second).Unix(),
		"iat":   now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	raw, err := token.SignedString(key)
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.KindServerError, "failed to sign session token", err)
	}
	return raw, expiry, nil
}

func (ts *TokenService) parseToken(raw string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		return ts.keys.VerificationKey(kid)
	}, jwt.WithIssuer(ts.config.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// ValidateAccessToken verifies signature, issuer and expiry against the key
// set, then checks the revocation ledger.
func (ts *TokenService) ValidateAccessToken(raw string) (*AccessTokenClaims, error) {
	claims, err := ts.parseToken(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	if typ, _ := claims["typ"].(string); typ == "session" {
		return nil, errors.New("session token used as access token")
	}

	var entry model.AccessToken
	err = ts.config.Database.Where("token_hash = ?", utils.HashToken(raw)).First(&entry).Error
	if err == nil && entry.RevokedAt != nil {
		return nil, errors.New("access token has been revoked")
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	clientID, _ := claims["client_id"].(string)
	subject, _ := claims["sub"].(string)
	scope, _ := claims["scope"].(string)

	userID := subject
	if userID == clientID {
		userID = ""
	}

	return &AccessTokenClaims{
		UserID:   userID,
		ClientID: clientID,
		Scope:    utils.SplitScopes(scope),
	}, nil
}

// ValidateSessionToken verifies a session JWT and resolves the user context.
func (ts *TokenService) ValidateSessionToken(raw string) (*config.UserContext, error) {
	claims, err := ts.parseToken(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session token: %w", err)
	}

	if typ, _ := claims["typ"].(string); typ != "session" {
		return nil, errors.New("not a session token")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return nil, errors.New("missing sub claim")
	}
	email, _ := claims["email"].(string)

	return &config.UserContext{
		UserID:     userID,
		Email:      email,
		IsLoggedIn: true,
	}, nil
}

// RevokeAccessByValue revokes a single access token by hash lookup. Returns
// whether a token row was found; the caller never reveals this to clients.
func (ts *TokenService) RevokeAccessByValue(raw string, reason string) bool {
	result := ts.config.Database.Model(&model.AccessToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", utils.HashToken(raw)).
		Updates(map[string]interface{}{
			"revoked_at":        time.Now().Unix(),
			"revocation_reason": reason,
		})
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("Failed to revoke access token")
		return false
	}
	return result.RowsAffected > 0
}
