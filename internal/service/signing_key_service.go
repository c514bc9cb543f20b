package service

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const rsaKeyBits = 2048

type SigningKeyServiceConfig struct {
	Database  *gorm.DB
	KeyExpiry int // seconds a key remains listed for verification
}

// verificationKey caches a public key together with its expiry so cache hits
// enforce the same deadline as the database lookup.
type verificationKey struct {
	key       *rsa.PublicKey
	expiresAt int64
}

// SigningKeyService owns the signing keypairs. Exactly one key signs new
// tokens; rotated-out keys stay in the JWKS until they expire so in-flight
// tokens keep verifying through the overlap window.
type SigningKeyService struct {
	config SigningKeyServiceConfig

	mutex      sync.RWMutex
	activeKID  string
	activeKey  *rsa.PrivateKey
	verifyKeys map[string]verificationKey
}

func NewSigningKeyService(config SigningKeyServiceConfig) *SigningKeyService {
	return &SigningKeyService{
		config:     config,
		verifyKeys: make(map[string]verificationKey),
	}
}

// Init loads the active key from the database, generating an initial keypair
// on first boot.
func (sk *SigningKeyService) Init() error {
	var active model.SigningKey
	err := sk.config.Database.Where("is_active = ?", true).First(&active).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Info().Msg("No active signing key found, generating initial keypair")
		_, rotateErr := sk.Rotate("RS256")
		return rotateErr
	}
	if err != nil {
		return fmt.Errorf("failed to load active signing key: %w", err)
	}

	privateKey, err := parsePrivateKeyPEM(active.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to parse active signing key: %w", err)
	}

	sk.mutex.Lock()
	sk.activeKID = active.KID
	sk.activeKey = privateKey
	sk.mutex.Unlock()

	log.Info().Str("kid", active.KID).Msg("Loaded active signing key")
	return nil
}

// CurrentSigningKey returns the key used for new signatures. A missing active
// key is a fatal misconfiguration, never silently skipped.
func (sk *SigningKeyService) CurrentSigningKey() (string, *rsa.PrivateKey, error) {
	sk.mutex.RLock()
	defer sk.mutex.RUnlock()

	if sk.activeKey == nil {
		return "", nil, apperrors.New(apperrors.KindServerError, "no active signing key")
	}
	return sk.activeKID, sk.activeKey, nil
}

// Rotate generates a new keypair and makes it the signing key. The previous
// active key is demoted but stays verifiable until its expiry.
func (sk *SigningKeyService) Rotate(algorithm string) (*model.SigningKey, error) {
	if algorithm != "RS256" {
		return nil, apperrors.New(apperrors.KindServerError, "unsupported signing algorithm")
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to generate RSA key", err)
	}

	publicPEM, err := encodePublicKeyPEM(&privateKey.PublicKey)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to encode public key", err)
	}

	expiry := sk.config.KeyExpiry
	if expiry <= 0 {
		expiry = 90 * 24 * 3600
	}

	now := time.Now().Unix()
	key := model.SigningKey{
		KID:        uuid.New().String(),
		Algorithm:  algorithm,
		PublicKey:  publicPEM,
		PrivateKey: encodePrivateKeyPEM(privateKey),
		IsActive:   true,
		CreatedAt:  now,
		ExpiresAt:  now + int64(expiry),
	}

	err = sk.config.Database.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.SigningKey{}).Where("is_active = ?", true).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(&key).Error
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to persist signing key", err)
	}

	sk.mutex.Lock()
	sk.activeKID = key.KID
	sk.activeKey = privateKey
	sk.verifyKeys[key.KID] = verificationKey{key: &privateKey.PublicKey, expiresAt: key.ExpiresAt}
	sk.mutex.Unlock()

	log.Info().Str("kid", key.KID).Str("algorithm", algorithm).Msg("Rotated signing key")
	return &key, nil
}

// VerificationKey returns the public key for a kid, as long as the key has
// not expired. Used as the JWT keyfunc during the rotation overlap window.
func (sk *SigningKeyService) VerificationKey(kid string) (*rsa.PublicKey, error) {
	now := time.Now().Unix()

	sk.mutex.RLock()
	cached, ok := sk.verifyKeys[kid]
	sk.mutex.RUnlock()
	if ok && now < cached.expiresAt {
		return cached.key, nil
	}

	var key model.SigningKey
	err := sk.config.Database.Where("kid = ? AND expires_at > ?", kid, now).First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if ok {
				// Drop the stale cache entry once the database confirms it.
				sk.mutex.Lock()
				delete(sk.verifyKeys, kid)
				sk.mutex.Unlock()
			}
			return nil, errors.New("unknown or expired signing key")
		}
		return nil, err
	}

	publicKey, err := parsePublicKeyPEM(key.PublicKey)
	if err != nil {
		return nil, err
	}

	sk.mutex.Lock()
	sk.verifyKeys[kid] = verificationKey{key: publicKey, expiresAt: key.ExpiresAt}
	sk.mutex.Unlock()

	return publicKey, nil
}

// PublicKeySet returns the JWKS of all non-expired keys, active and
// recently rotated out.
func (sk *SigningKeyService) PublicKeySet() (map[string]interface{}, error) {
	var keys []model.SigningKey
	err := sk.config.Database.Where("expires_at > ?", time.Now().Unix()).Order("created_at DESC").Find(&keys).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindServerError, "failed to list signing keys", err)
	}

	jwks := []interface{}{}
	for _, key := range keys {
		publicKey, err := parsePublicKeyPEM(key.PublicKey)
		if err != nil {
			log.Error().Err(err).Str("kid", key.KID).Msg("Skipping unparsable signing key")
			continue
		}

		eBytes := big.NewInt(int64(publicKey.E)).Bytes()

		jwks = append(jwks, map[string]interface{}{
			"kty": "RSA",
			"use": "sig",
			"kid": key.KID,
			"alg": key.Algorithm,
			"n":   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(eBytes),
		})
	}

	return map[string]interface{}{
		"keys": jwks,
	}, nil
}

// PEM helpers

func encodePrivateKeyPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func encodePublicKeyPEM(key *rsa.PublicKey) (string, error) {
	bytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: bytes,
	})), nil
}

func parsePrivateKeyPEM(data string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("invalid private key PEM")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func parsePublicKeyPEM(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, errors.New("invalid public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	publicKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return publicKey, nil
}
