package model

// AccessToken stores only the SHA-256 hash of the issued JWT. The raw token
// is stateless-verifiable; the row exists for revocation lookups.
type AccessToken struct {
	TokenHash        string `gorm:"column:token_hash;primaryKey"`
	ClientID         string `gorm:"column:client_id;not null;index"`
	UserID           string `gorm:"column:user_id;index"` // empty for client_credentials grants
	Scope            string `gorm:"column:scope"`
	IssuedAt         int64  `gorm:"column:issued_at;not null"`
	ExpiresAt        int64  `gorm:"column:expires_at;not null"`
	RevokedAt        *int64 `gorm:"column:revoked_at"`
	RevocationReason string `gorm:"column:revocation_reason"`
}

func (AccessToken) TableName() string {
	return "oauth_access_tokens"
}
