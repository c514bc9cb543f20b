package service

import (
	"errors"

	"github.com/keyfort/keyfort/internal/config"

	"golang.org/x/crypto/bcrypt"
)

type UserServiceConfig struct {
	Users []config.User
}

// UserService is the user-directory boundary. The authorization core only
// needs credential verification for the login step and profile lookups for
// ID token claims; everything else about users is someone else's problem.
type UserService struct {
	config UserServiceConfig
}

func NewUserService(config UserServiceConfig) *UserService {
	return &UserService{
		config: config,
	}
}

// VerifyCredentials checks an email/password pair and returns the user ID.
func (us *UserService) VerifyCredentials(email string, password string) (string, error) {
	for _, user := range us.config.Users {
		if user.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return "", errors.New("invalid credentials")
		}
		return user.ID, nil
	}
	return "", errors.New("invalid credentials")
}

func (us *UserService) GetUser(id string) (config.User, error) {
	for _, user := range us.config.Users {
		if user.ID == id {
			return user, nil
		}
	}
	return config.User{}, errors.New("user not found")
}
