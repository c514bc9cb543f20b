package model

// AuthorizationCode rows are never deleted. Spent and expired codes keep
// their row with used_at set so forensic queries can reconstruct a grant.
type AuthorizationCode struct {
	Code                string `gorm:"column:code;primaryKey"`
	ClientID            string `gorm:"column:client_id;not null"`
	UserID              string `gorm:"column:user_id;not null"`
	RedirectURI         string `gorm:"column:redirect_uri;not null"`
	Scope               string `gorm:"column:scope"` // space separated
	Nonce               string `gorm:"column:nonce"`
	CodeChallenge       string `gorm:"column:code_challenge"`
	CodeChallengeMethod string `gorm:"column:code_challenge_method"` // S256 or plain
	ExpiresAt           int64  `gorm:"column:expires_at;not null"`
	UsedAt              *int64 `gorm:"column:used_at"`
	CreatedAt           int64  `gorm:"column:created_at;not null"`
}

func (AuthorizationCode) TableName() string {
	return "oauth_authorization_codes"
}
