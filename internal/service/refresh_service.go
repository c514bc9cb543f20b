package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/model"
	"github.com/keyfort/keyfort/internal/utils"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type RefreshServiceConfig struct {
	Database    *gorm.DB
	GracePeriod int // seconds a rotated-out token stays redeemable
}

// RefreshService implements refresh-token rotation. Each use of an active
// token atomically moves it to rotating and mints a child; a retried request
// inside the grace window gets the identical pair back, and presentation of
// a revoked ancestor with a live descendant is treated as theft.
type RefreshService struct {
	config RefreshServiceConfig
	tokens *TokenService
	audit  *AuditService
}

func NewRefreshService(config RefreshServiceConfig, tokens *TokenService, audit *AuditService) *RefreshService {
	return &RefreshService{
		config: config,
		tokens: tokens,
		audit:  audit,
	}
}

type RefreshRequest struct {
	RefreshToken string
	ClientID     string
	ClientSecret string
	Scope        string
	RequestIP    string
	UserAgent    string
}

func (rs *RefreshService) gracePeriod() int64 {
	if rs.config.GracePeriod <= 0 {
		return 10
	}
	return int64(rs.config.GracePeriod)
}

// Refresh runs the rotation state machine. The conditional update from
// active to rotating is the only serialization point: of two concurrent
// calls for the same token exactly one wins it, and the loser re-reads the
// post-write state and lands in the idempotent replay path.
func (rs *RefreshService) Refresh(req RefreshRequest) (*TokenResponse, error) {
	client, err := rs.tokens.AuthenticateClient(req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	hash := utils.HashToken(req.RefreshToken)

	// Two passes: the first as presented, the second only after losing the
	// CAS, re-evaluated from fresh state rather than retried blindly.
	for attempt := 0; attempt < 2; attempt++ {
		var token model.RefreshToken
		err := rs.config.Database.Where("token_hash = ?", hash).First(&token).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.New(apperrors.KindInvalidGrant, "refresh token is unknown")
			}
			return nil, apperrors.Wrap(apperrors.KindServerError, "failed to look up refresh token", err)
		}

		if token.ClientID != client.ClientID {
			return nil, apperrors.New(apperrors.KindInvalidGrant, "refresh token was issued to another client")
		}

		switch token.TokenStatus {
		case model.TokenStatusRevoked:
			return nil, rs.handleRevokedPresentation(&token, req.RequestIP)

		case model.TokenStatusRotating:
			if token.InGrace() {
				return rs.replayRotation(&token)
			}
			// Grace has lapsed: finalize and treat like any other revoked
			// presentation.
			rs.finalize(token.TokenHash)
			token.TokenStatus = model.TokenStatusRevoked
			return nil, rs.handleRevokedPresentation(&token, req.RequestIP)

		case model.TokenStatusActive:
			if token.IsExpired() {
				rs.revokeTokens([]string{token.TokenHash}, model.RevocationReasonExpired)
				return nil, apperrors.New(apperrors.KindInvalidGrant, "refresh token expired")
			}

			newScope, err := rs.narrowScope(&token, req.Scope)
			if err != nil {
				return nil, err
			}

			response, won, err := rs.rotate(&token, newScope, req)
			if err != nil {
				return nil, err
			}
			if !won {
				// Lost the race. Loop back and observe the winner's write.
				continue
			}

			return response, nil
		}
	}

	return nil, apperrors.New(apperrors.KindInvalidGrant, "refresh token is not redeemable")
}

// narrowScope applies the refresh scope policy: the new scope is the
// intersection of requested and original, and a request outside the original
// grant is rejected rather than clamped.
func (rs *RefreshService) narrowScope(token *model.RefreshToken, requestedScope string) ([]string, error) {
	original := utils.SplitScopes(token.Scope)
	requested := utils.SplitScopes(requestedScope)
	if len(requested) == 0 {
		return original, nil
	}
	if !utils.ScopesSubset(requested, original) {
		return nil, apperrors.New(apperrors.KindInvalidScope, "requested scope exceeds the original grant")
	}
	return utils.IntersectScopes(requested, original), nil
}

// rotate performs the compare-and-swap from active to rotating, mints the
// child pair and parks the serialized response on the parent row, all in one
// transaction: a reader that observes the rotating state must also find the
// replay payload, and a failed write rolls the claim back so the token stays
// redeemable. A lost CAS returns won=false with nothing committed.
func (rs *RefreshService) rotate(token *model.RefreshToken, scope []string, req RefreshRequest) (*TokenResponse, bool, error) {
	now := time.Now().Unix()
	graceDeadline := now + rs.gracePeriod()

	var response *TokenResponse
	won := false

	err := rs.config.Database.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.RefreshToken{}).
			Where("token_hash = ? AND token_status = ?", token.TokenHash, model.TokenStatusActive).
			Updates(map[string]interface{}{
				"token_status":              model.TokenStatusRotating,
				"rotation_grace_expires_at": graceDeadline,
				"last_used_at":              now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		won = true

		refreshToken, _, err := rs.tokens.mintRefreshToken(tx, token.ClientID, token.UserID, scope, token.TokenHash, token.RotationCount+1)
		if err != nil {
			return err
		}

		accessToken, expiresIn, err := rs.tokens.mintAccessToken(tx, token.ClientID, token.UserID, scope)
		if err != nil {
			return err
		}

		response = &TokenResponse{
			AccessToken:  accessToken,
			TokenType:    "Bearer",
			ExpiresIn:    expiresIn,
			RefreshToken: refreshToken,
			Scope:        utils.JoinScopes(scope),
		}

		replay, err := json.Marshal(response)
		if err != nil {
			return err
		}

		return tx.Model(&model.RefreshToken{}).
			Where("token_hash = ?", token.TokenHash).
			Update("rotation_replay", string(replay)).Error
	})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return nil, false, err
		}
		return nil, false, apperrors.Wrap(apperrors.KindServerError, "failed to rotate refresh token", err)
	}
	if !won {
		return nil, false, nil
	}

	rs.audit.RecordGrant(token.ClientID, token.UserID, req.RequestIP, req.UserAgent)

	log.Debug().Str("client_id", token.ClientID).Int("rotation", token.RotationCount+1).Msg("Rotated refresh token")
	return response, true, nil
}

// replayRotation returns the pair minted by the rotation that this request
// lost (or retried) against.
func (rs *RefreshService) replayRotation(token *model.RefreshToken) (*TokenResponse, error) {
	if token.RotationReplay == "" {
		return nil, apperrors.New(apperrors.KindInvalidGrant, "refresh token is not redeemable")
	}

	var response TokenResponse
	if err := json.Unmarshal([]byte(token.RotationReplay), &response); err != nil {
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to decode rotation replay", err)
	}

	log.Debug().Str("client_id", token.ClientID).Msg("Replayed rotation inside grace window")
	return &response, nil
}

// handleRevokedPresentation decides whether a revoked token showing up again
// is routine (post-logout) or theft. A live descendant means the family has
// rotated past this token, so someone is replaying a stolen ancestor: the
// whole descendant chain is revoked for both parties.
func (rs *RefreshService) handleRevokedPresentation(token *model.RefreshToken, requestIP string) error {
	descendants, live := rs.collectDescendants(token.TokenHash)
	if !live {
		return apperrors.New(apperrors.KindInvalidGrant, "refresh token has been revoked")
	}

	rs.revokeTokens(descendants, model.RevocationReasonReuseDetected)
	rs.audit.RecordSecurityEvent(token.ClientID, token.UserID, requestIP, "refresh_token_reuse")

	log.Warn().
		Str("client_id", token.ClientID).
		Str("user_id", token.UserID).
		Int("revoked", len(descendants)).
		Msg("Refresh token reuse detected, revoked token family")

	return apperrors.New(apperrors.KindReplayDetected, "refresh token reuse detected")
}

// collectDescendants walks the family forward from a token and reports
// whether any descendant is still redeemable. The walk is index-based over
// parent_token_hash, one row per generation.
func (rs *RefreshService) collectDescendants(hash string) ([]string, bool) {
	var hashes []string
	live := false

	current := hash
	for {
		var child model.RefreshToken
		err := rs.config.Database.Where("parent_token_hash = ?", current).First(&child).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Error().Err(err).Msg("Failed to walk refresh token family")
			}
			break
		}

		hashes = append(hashes, child.TokenHash)
		if child.TokenStatus != model.TokenStatusRevoked {
			live = true
		}
		current = child.TokenHash
	}

	return hashes, live
}

// collectAncestors walks the family back to its root.
func (rs *RefreshService) collectAncestors(token *model.RefreshToken) []string {
	var hashes []string

	current := token
	for current.ParentTokenHash != nil {
		var parent model.RefreshToken
		err := rs.config.Database.Where("token_hash = ?", *current.ParentTokenHash).First(&parent).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Error().Err(err).Msg("Failed to walk refresh token ancestry")
			}
			break
		}

		hashes = append(hashes, parent.TokenHash)
		current = &parent
	}

	return hashes
}

func (rs *RefreshService) revokeTokens(hashes []string, reason string) {
	if len(hashes) == 0 {
		return
	}

	result := rs.config.Database.Model(&model.RefreshToken{}).
		Where("token_hash IN ? AND token_status != ?", hashes, model.TokenStatusRevoked).
		Updates(map[string]interface{}{
			"token_status":      model.TokenStatusRevoked,
			"revoked_at":        time.Now().Unix(),
			"revocation_reason": reason,
			"rotation_replay":   "",
		})
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("Failed to revoke refresh tokens")
	}
}

func (rs *RefreshService) finalize(hash string) {
	result := rs.config.Database.Model(&model.RefreshToken{}).
		Where("token_hash = ? AND token_status = ?", hash, model.TokenStatusRotating).
		Updates(map[string]interface{}{
			"token_status":      model.TokenStatusRevoked,
			"revoked_at":        time.Now().Unix(),
			"revocation_reason": model.RevocationReasonGraceExpired,
			"rotation_replay":   "",
		})
	if result.Error != nil {
		log.Error().Err(result.Error).Msg("Failed to finalize rotated refresh token")
	}
}

// RevokeByValue revokes the presented refresh token and its entire family
// (RFC 7009). Returns whether a matching token existed; callers must not
// reveal this to clients.
func (rs *RefreshService) RevokeByValue(raw string, reason string) bool {
	hash := utils.HashToken(raw)

	var token model.RefreshToken
	err := rs.config.Database.Where("token_hash = ?", hash).First(&token).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Err(err).Msg("Failed to look up refresh token for revocation")
		}
		return false
	}

	family := []string{token.TokenHash}
	family = append(family, rs.collectAncestors(&token)...)
	descendants, _ := rs.collectDescendants(token.TokenHash)
	family = append(family, descendants...)

	rs.revokeTokens(family, reason)
	return true
}

// Sweep finalizes every token whose grace window has lapsed. Run
// periodically; expiry is otherwise only enforced lazily at use time.
func (rs *RefreshService) Sweep() (int64, error) {
	result := rs.config.Database.Model(&model.RefreshToken{}).
		Where("token_status = ? AND rotation_grace_expires_at < ?", model.TokenStatusRotating, time.Now().Unix()).
		Updates(map[string]interface{}{
			"token_status":      model.TokenStatusRevoked,
			"revoked_at":        time.Now().Unix(),
			"revocation_reason": model.RevocationReasonGraceExpired,
			"rotation_replay":   "",
		})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		log.Debug().Int64("finalized", result.RowsAffected).Msg("Finalized rotated refresh tokens")
	}
	return result.RowsAffected, nil
}
