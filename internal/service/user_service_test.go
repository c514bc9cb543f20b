package service_test

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestVerifyCredentials(t *testing.T) {
	stack := newTestStack(t)

	userID, err := stack.users.VerifyCredentials("user@example.com", "some-password")
	assert.NilError(t, err)
	assert.Equal(t, "user1", userID)

	_, err = stack.users.VerifyCredentials("user@example.com", "wrong-password")
	assert.ErrorContains(t, err, "invalid credentials")

	_, err = stack.users.VerifyCredentials("nobody@example.com", "some-password")
	assert.ErrorContains(t, err, "invalid credentials")
}

func TestGetUser(t *testing.T) {
	stack := newTestStack(t)

	user, err := stack.users.GetUser("user1")
	assert.NilError(t, err)
	assert.Equal(t, "user@example.com", user.Email)

	_, err = stack.users.GetUser("nobody")
	assert.ErrorContains(t, err, "user not found")
}
