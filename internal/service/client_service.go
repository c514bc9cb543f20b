package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/model"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const clientSecretLength = 48

type ClientServiceConfig struct {
	Database *gorm.DB
}

// ClientService owns the client registry. Clients are registered by an admin
// operation and never deleted, only deactivated.
type ClientService struct {
	config ClientServiceConfig
}

func NewClientService(config ClientServiceConfig) *ClientService {
	return &ClientService{
		config: config,
	}
}

type ClientRegistration struct {
	ClientID       string
	ClientName     string
	RedirectURIs   []string
	AllowedScopes  []string
	IsConfidential bool
}

// Register creates a client and returns the generated secret for confidential
// clients. The secret is only available here; the database keeps a bcrypt hash.
func (cs *ClientService) Register(registration ClientRegistration) (string, error) {
	if registration.ClientID == "" {
		return "", apperrors.New(apperrors.KindInvalidClient, "client_id is required")
	}
	if len(registration.RedirectURIs) == 0 {
		return "", apperrors.New(apperrors.KindInvalidRedirectURI, "at least one redirect URI is required")
	}

	var secret string
	var secretHash string
	if registration.IsConfidential {
		var err error
		secret, err = utils.GetRandomString(clientSecretLength)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindServerError, "failed to generate client secret", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return "", apperrors.Wrap(apperrors.KindServerError, "failed to hash client secret", err)
		}
		secretHash = string(hash)
	}

	redirectURIs, err := json.Marshal(registration.RedirectURIs)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to marshal redirect URIs", err)
	}

	scopes, err := json.Marshal(registration.AllowedScopes)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to marshal scopes", err)
	}

	now := time.Now().Unix()
	client := model.Client{
		ClientID:         registration.ClientID,
		ClientSecretHash: secretHash,
		ClientName:       registration.ClientName,
		IsConfidential:   registration.IsConfidential,
		RedirectURIs:     string(redirectURIs),
		AllowedScopes:    string(scopes),
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := cs.config.Database.Create(&client).Error; err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to create client", err)
	}

	log.Info().Str("client_id", client.ClientID).Bool("confidential", client.IsConfidential).Msg("Registered client")
	return secret, nil
}

// GetClient looks up an active client. Transient storage failures are retried
// once with backoff; a missing or deactivated client is permanent.
func (cs *ClientService) GetClient(clientID string) (*model.Client, error) {
	operation := func() (*model.Client, error) {
		var client model.Client
		err := cs.config.Database.Where("client_id = ?", clientID).First(&client).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, backoff.Permanent(apperrors.New(apperrors.KindInvalidClient, "client not found"))
			}
			return nil, err
		}
		if !client.IsActive {
			return nil, backoff.Permanent(apperrors.New(apperrors.KindInvalidClient, "client is deactivated"))
		}
		return &client, nil
	}

	client, err := backoff.Retry(context.Background(), operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(2))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindInvalidClient) {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to look up client", err)
	}
	return client, nil
}

// VerifySecret compares a presented secret against the stored bcrypt hash.
// Public clients have no secret and always fail verification.
func (cs *ClientService) VerifySecret(client *model.Client, secret string) bool {
	if client.ClientSecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)) == nil
}

// RotateSecret replaces a confidential client's secret and returns the new
// one. Like registration, the raw secret is only available here.
func (cs *ClientService) RotateSecret(clientID string) (string, error) {
	client, err := cs.GetClient(clientID)
	if err != nil {
		return "", err
	}
	if !client.IsConfidential {
		return "", apperrors.New(apperrors.KindInvalidClient, "public clients have no secret")
	}

	secret, err := utils.GetRandomString(clientSecretLength)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to generate client secret", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to hash client secret", err)
	}

	err = cs.config.Database.Model(&model.Client{}).
		Where("client_id = ?", clientID).
		Updates(map[string]interface{}{
			"client_secret_hash": string(hash),
			"updated_at":         time.Now().Unix(),
		}).Error
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to rotate client secret", err)
	}

	log.Info().Str("client_id", clientID).Msg("Rotated client secret")
	return secret, nil
}

// Deactivate flags a client inactive. The row is kept for the audit trail.
func (cs *ClientService) Deactivate(clientID string) error {
	result := cs.config.Database.Model(&model.Client{}).
		Where("client_id = ?", clientID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().Unix(),
		})
	if result.Error != nil {
		return apperrors.Wrap(apperrors.KindServerError, "failed to deactivate client", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.KindInvalidClient, "client not found")
	}
	return nil
}

func (cs *ClientService) ValidateRedirectURI(client *model.Client, redirectURI string) bool {
	var redirectURIs []string
	if err := json.Unmarshal([]byte(client.RedirectURIs), &redirectURIs); err != nil {
		log.Error().Err(err).Str("client_id", client.ClientID).Msg("Failed to unmarshal redirect URIs")
		return false
	}

	for _, uri := range redirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// ValidateScope checks that every requested scope is registered for the
// client. An empty request grants the client's full scope set.
func (cs *ClientService) ValidateScope(client *model.Client, requestedScopes string) ([]string, error) {
	var allowedScopes []string
	if err := json.Unmarshal([]byte(client.AllowedScopes), &allowedScopes); err != nil {
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to unmarshal scopes", err)
	}

	requested := utils.SplitScopes(requestedScopes)
	if len(requested) == 0 {
		return allowedScopes, nil
	}

	if !utils.ScopesSubset(requested, allowedScopes) {
		return nil, apperrors.New(apperrors.KindInvalidScope, "requested scope exceeds client registration")
	}

	return requested, nil
}
