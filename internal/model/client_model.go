package model

type Client struct {
	ClientID         string `gorm:"column:client_id;primaryKey"`
	ClientSecretHash string `gorm:"column:client_secret_hash"` // empty for public clients
	ClientName       string `gorm:"column:client_name"`
	IsConfidential   bool   `gorm:"column:is_confidential;default:false"`
	RedirectURIs     string `gorm:"column:redirect_uris;not null"` // JSON array
	AllowedScopes    string `gorm:"column:allowed_scopes"`         // JSON array
	IsActive         bool   `gorm:"column:is_active;default:true"`
	CreatedAt        int64  `gorm:"column:created_at;not null"`
	UpdatedAt        int64  `gorm:"column:updated_at;not null"`
}

func (Client) TableName() string {
	return "oauth_clients"
}
