package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/keyfort/keyfort/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Grants for the same client closer together than this are treated as a
// rapid switch when the user changes.
const rapidSwitchWindow = 5 * time.Minute

type AuditServiceConfig struct {
	Database *gorm.DB
}

// AuditService records session metadata for every grant. It is strictly
// fail-open: an audit failure is logged and never surfaces to the caller,
// so auditing cannot become an availability dependency of auth.
type AuditService struct {
	config AuditServiceConfig
}

func NewAuditService(config AuditServiceConfig) *AuditService {
	return &AuditService{
		config: config,
	}
}

// RecordGrant classifies the grant against the most recent prior grant for
// the same client and appends an audit entry.
func (aud *AuditService) RecordGrant(clientID string, userID string, requestIP string, userAgent string) {
	var previous model.UserSwitchAuditEntry
	err := aud.config.Database.
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		First(&previous).Error

	switchType := model.SwitchTypeFirstLogin
	riskLevel := model.RiskLevelLow
	riskFactors := []string{}

	if err == nil {
		if previous.NewUserID == userID {
			switchType = model.SwitchTypeSameUser
		} else {
			switchType = model.SwitchTypeDifferentUser
			riskLevel = model.RiskLevelMedium
			riskFactors = append(riskFactors, "user_switch")

			if time.Since(time.Unix(previous.CreatedAt, 0)) < rapidSwitchWindow {
				riskLevel = model.RiskLevelHigh
				riskFactors = append(riskFactors, "rapid_user_switch")
			}
			if previous.RequestIP != "" && requestIP != "" && previous.RequestIP != requestIP {
				riskLevel = model.RiskLevelHigh
				riskFactors = append(riskFactors, "new_ip")
			}
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Error().Err(err).Str("client_id", clientID).Msg("Failed to load prior grant for audit")
		return
	}

	aud.append(model.UserSwitchAuditEntry{
		ClientID:    clientID,
		NewUserID:   userID,
		SwitchType:  switchType,
		RiskLevel:   riskLevel,
		RiskFactors: marshalFactors(riskFactors),
		RequestIP:   requestIP,
		UserAgent:   userAgent,
	})
}

// RecordSecurityEvent appends a high-risk entry for a detected anomaly such
// as refresh-token reuse.
func (aud *AuditService) RecordSecurityEvent(clientID string, userID string, requestIP string, factor string) {
	aud.append(model.UserSwitchAuditEntry{
		ClientID:    clientID,
		NewUserID:   userID,
		SwitchType:  model.SwitchTypeSameUser,
		RiskLevel:   model.RiskLevelHigh,
		RiskFactors: marshalFactors([]string{factor}),
		RequestIP:   requestIP,
	})
}

func (aud *AuditService) append(entry model.UserSwitchAuditEntry) {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now().Unix()

	if err := aud.config.Database.Create(&entry).Error; err != nil {
		log.Error().Err(err).Str("client_id", entry.ClientID).Msg("Failed to append audit entry")
	}
}

func marshalFactors(factors []string) string {
	data, err := json.Marshal(factors)
	if err != nil {
		return "[]"
	}
	return string(data)
}
