package service

import (
	"time"

	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/model"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const nonceLength = 32

type NonceServiceConfig struct {
	Database    *gorm.DB
	NonceExpiry int // seconds
}

// NonceService is the single-use nonce ledger. Unlike refresh tokens there is
// no retry tolerance here: a replayed nonce is a hard authentication failure.
type NonceService struct {
	config NonceServiceConfig
}

func NewNonceService(config NonceServiceConfig) *NonceService {
	return &NonceService{
		config: config,
	}
}

// Issue generates and records a fresh nonce for a client.
func (ns *NonceService) Issue(clientID string) (string, error) {
	nonce, err := utils.GetRandomString(nonceLength)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindServerError, "failed to generate nonce", err)
	}
	if err := ns.Record(clientID, nonce); err != nil {
		return "", err
	}
	return nonce, nil
}

// Record stores a client-supplied nonce from an authorization request.
func (ns *NonceService) Record(clientID string, nonce string) error {
	expiry := ns.config.NonceExpiry
	if expiry <= 0 {
		expiry = 60
	}

	now := time.Now().Unix()
	entry := model.Nonce{
		Nonce:     nonce,
		ClientID:  clientID,
		CreatedAt: now,
		ExpiresAt: now + int64(expiry),
	}

	if err := ns.config.Database.Create(&entry).Error; err != nil {
		return apperrors.Wrap(apperrors.KindServerError, "failed to record nonce", err)
	}
	return nil
}

// Consume atomically deletes the nonce. It returns true exactly once per
// nonce; unknown, expired, or already-consumed nonces return false.
func (ns *NonceService) Consume(nonce string) bool {
	result := ns.config.Database.
		Where("nonce = ? AND expires_at > ?", nonce, time.Now().Unix()).
		Delete(&model.Nonce{})
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("Failed to consume nonce")
		return false
	}
	return result.RowsAffected == 1
}
