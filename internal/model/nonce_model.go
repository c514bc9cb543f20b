package model

// Nonce rows are single use: consuming a nonce deletes the row atomically,
// so a second presentation is a replay.
type Nonce struct {
	Nonce     string `gorm:"column:nonce;primaryKey"`
	ClientID  string `gorm:"column:client_id;not null"`
	CreatedAt int64  `gorm:"column:created_at;not null"`
	ExpiresAt int64  `gorm:"column:expires_at;not null"`
}

func (Nonce) TableName() string {
	return "oauth_nonces"
}
