package model

import "time"

// Refresh token lifecycle states. A token moves active -> rotating -> revoked;
// rotating is transient and is finalized to revoked once the grace window
// passes. Revoked is also reachable directly on logout or theft detection.
const (
	TokenStatusActive   = "active"
	TokenStatusRotating = "rotating"
	TokenStatusRevoked  = "revoked"
)

// Revocation reasons recorded for the audit trail.
const (
	RevocationReasonLogout        = "logout"
	RevocationReasonExpired       = "expired"
	RevocationReasonGraceExpired  = "grace_expired"
	RevocationReasonReuseDetected = "reuse_detected"
	RevocationReasonClientRevoked = "client_revoked"
)

// RefreshToken rows form a family: parent_token_hash links each rotation
// child back to the token it replaced, a singly linked list rooted at the
// authorization-code redemption. Rows are never deleted, only flagged.
type RefreshToken struct {
	TokenHash              string  `gorm:"column:token_hash;primaryKey"`
	ClientID               string  `gorm:"column:client_id;not null;index"`
	UserID                 string  `gorm:"column:user_id;not null;index"`
	Scope                  string  `gorm:"column:scope"`
	CreatedAt              int64   `gorm:"column:created_at;not null"`
	LastUsedAt             *int64  `gorm:"column:last_used_at"`
	ExpiresAt              int64   `gorm:"column:expires_at;not null"`
	RevokedAt              *int64  `gorm:"column:revoked_at"`
	RevocationReason       string  `gorm:"column:revocation_reason"`
	RotationCount          int     `gorm:"column:rotation_count;default:0"`
	TokenStatus            string  `gorm:"column:token_status;not null;default:active;index"`
	ParentTokenHash        *string `gorm:"column:parent_token_hash;index"`
	RotationGraceExpiresAt *int64  `gorm:"column:rotation_grace_expires_at"`
	// RotationReplay holds the token response minted by the winning rotation
	// so a retried request inside the grace window gets the identical pair.
	// Cleared when the grace window is finalized.
	RotationReplay string `gorm:"column:rotation_replay"`
}

func (RefreshToken) TableName() string {
	return "oauth_refresh_tokens"
}

func (t *RefreshToken) IsExpired() bool {
	return time.Now().Unix() > t.ExpiresAt
}

// InGrace reports whether the token is a just-rotated parent whose grace
// window is still open.
func (t *RefreshToken) InGrace() bool {
	return t.TokenStatus == TokenStatusRotating &&
		t.RotationGraceExpiresAt != nil &&
		time.Now().Unix() < *t.RotationGraceExpiresAt
}
