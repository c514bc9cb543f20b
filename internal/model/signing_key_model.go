package model

// SigningKey holds an asymmetric keypair used to sign issued tokens. At most
// one key is active for signing; rotated-out keys stay listed in the JWKS for
// verification until they expire. Private key encryption at rest is handled
// by the deployment, not this service.
type SigningKey struct {
	KID        string `gorm:"column:kid;primaryKey"`
	Algorithm  string `gorm:"column:algorithm;not null"`
	PublicKey  string `gorm:"column:public_key;not null"`  // PEM
	PrivateKey string `gorm:"column:private_key;not null"` // PEM
	IsActive   bool   `gorm:"column:is_active;default:false;index"`
	CreatedAt  int64  `gorm:"column:created_at;not null"`
	ExpiresAt  int64  `gorm:"column:expires_at;not null"`
}

func (SigningKey) TableName() string {
	return "oauth_signing_keys"
}
