package service

import (
	"errors"
	"time"

	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/model"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const authorizationCodeLength = 43

type AuthorizationServiceConfig struct {
	Database   *gorm.DB
	CodeExpiry int // seconds
}

// AuthorizationService issues and redeems single-use authorization codes
// bound to a PKCE challenge.
type AuthorizationService struct {
	config  AuthorizationServiceConfig
	clients *ClientService
}

func NewAuthorizationService(config AuthorizationServiceConfig, clients *ClientService) *AuthorizationService {
	return &AuthorizationService{
		config:  config,
		clients: clients,
	}
}

type IssueCodeRequest struct {
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

type RedeemedCode struct {
	UserID string
	Scope  []string
	Nonce  string
}

// Issue validates the client, redirect URI and scope, then mints a short
// lived single-use code.
func (as *AuthorizationService) Issue(req IssueCodeRequest) (string, error) {
	client, err := as.clients.GetClient(req.ClientID)
	if err != nil {
		return "", err
	}

	if !as.clients.ValidateRedirectURI(client, req.RedirectURI) {
		return "", apperrors.New(apperrors.KindInvalidRedirectURI, "redirect_uri is not registered for this client")
	}

	scopes, err := as.clients.ValidateScope(client, req.Scope)
	if err != nil {
		return "", err
	}

	method := req.CodeChallengeMethod
	if req.CodeChallenge != "" && method == "" {
		method = "plain"
	}
	if method != "" && method != "S256" && method != "plain" {
		return "", apperrors.New(apperrors.KindInvalidGrant, "unsupported code_challenge_method")
	}

	code, err := utils.GetRandomString(authorizationCodeLength)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to generate authorization code", err)
	}

	expiry := as.config.CodeExpiry
	if expiry <= 0 {
		expiry = 60
	}

	now := time.Now().Unix()
	entry := model.AuthorizationCode{
		Code:                code,
		ClientID:            req.ClientID,
		UserID:              req.UserID,
		RedirectURI:         req.RedirectURI,
		Scope:               utils.JoinScopes(scopes),
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now + int64(expiry),
		CreatedAt:           now,
	}

	if err := as.config.Database.Create(&entry).Error; err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to store authorization code", err)
	}

	log.Debug().Str("client_id", req.ClientID).Str("user_id", req.UserID).Msg("Issued authorization code")
	return code, nil
}

// Redeem spends a code. The used_at flag is set by a conditional update
// before any validation, so at most one of N concurrent redemptions can
// succeed; a code that fails validation afterwards stays burned.
func (as *AuthorizationService) Redeem(code string, clientID string, redirectURI string, codeVerifier string) (*RedeemedCode, error) {
	now := time.Now().Unix()

	result := as.config.Database.Model(&model.AuthorizationCode{}).
		Where("code = ? AND used_at IS NULL", code).
		Update("used_at", now)
	if result.Error != nil {
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to redeem authorization code", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.New(apperrors.KindInvalidGrant, "authorization code is unknown or already used")
	}

	var entry model.AuthorizationCode
	if err := as.config.Database.Where("code = ?", code).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.KindInvalidGrant, "authorization code is unknown or already used")
		}
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to load authorization code", err)
	}

	if now > entry.ExpiresAt {
		return nil, apperrors.New(apperrors.KindInvalidGrant, "authorization code expired")
	}
	if entry.ClientID != clientID {
		return nil, apperrors.New(apperrors.KindInvalidGrant, "authorization code was issued to another client")
	}
	if entry.RedirectURI != redirectURI {
		return nil, apperrors.New(apperrors.KindInvalidGrant, "redirect_uri does not match the authorization request")
	}
	if err := utils.VerifyPKCE(entry.CodeChallenge, entry.CodeChallengeMethod, codeVerifier); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidGrant, "PKCE verification failed", err)
	}

	return &RedeemedCode{
		UserID: entry.UserID,
		Scope:  utils.SplitScopes(entry.Scope),
		Nonce:  entry.Nonce,
	}, nil
}
