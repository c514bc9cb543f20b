package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/keyfort/keyfort/internal/config"
)

// ParseUsers parses a comma separated list of directory entries in the form
// id:email:bcrypt-hash.
func ParseUsers(users string) ([]config.User, error) {
	var result []config.User

	for _, entry := range strings.Split(users, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid user entry %q, expected id:email:hash", entry)
		}
		result = append(result, config.User{
			ID:           parts[0],
			Email:        parts[1],
			PasswordHash: parts[2],
		})
	}

	if len(result) == 0 {
		return nil, errors.New("no users found")
	}

	return result, nil
}

// GetUsersFromFile reads a users file, one id:email:hash entry per line.
func GetUsersFromFile(path string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	lines := []string{}
	for _, line := range strings.Split(string(contents), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, strings.TrimSpace(line))
	}

	return strings.Join(lines, ","), nil
}
