package model

const (
	SwitchTypeFirstLogin    = "first_login"
	SwitchTypeSameUser      = "same_user"
	SwitchTypeDifferentUser = "different_user"
)

const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// UserSwitchAuditEntry is an append-only record of a grant observed by the
// session auditor. Entries are never mutated.
type UserSwitchAuditEntry struct {
	ID          string `gorm:"column:id;primaryKey"`
	ClientID    string `gorm:"column:client_id;not null;index"`
	NewUserID   string `gorm:"column:new_user_id"`
	SwitchType  string `gorm:"column:switch_type;not null"`
	RiskLevel   string `gorm:"column:risk_level;not null"`
	RiskFactors string `gorm:"column:risk_factors"` // JSON array
	RequestIP   string `gorm:"column:request_ip"`
	UserAgent   string `gorm:"column:user_agent"`
	CreatedAt   int64  `gorm:"column:created_at;not null;index"`
}

func (UserSwitchAuditEntry) TableName() string {
	return "oauth_user_switch_audit"
}
