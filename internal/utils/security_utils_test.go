package utils_test

import (
	"testing"

	"github.com/keyfort/keyfort/internal/utils"

	"gotest.tools/v3/assert"
)

func TestGetRandomString(t *testing.T) {
	first, err := utils.GetRandomString(43)
	assert.NilError(t, err)
	assert.Equal(t, 43, len(first))

	second, err := utils.GetRandomString(43)
	assert.NilError(t, err)
	assert.Assert(t, first != second)

	_, err = utils.GetRandomString(0)
	assert.ErrorContains(t, err, "length must be greater than 0")
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, utils.HashToken("some-token"), utils.HashToken("some-token"))
	assert.Assert(t, utils.HashToken("some-token") != utils.HashToken("some-other-token"))
	assert.Equal(t, 64, len(utils.HashToken("some-token")))
}

func TestVerifyPKCES256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := utils.S256Challenge(verifier)

	assert.NilError(t, utils.VerifyPKCE(challenge, "S256", verifier))

	// A single flipped character must fail
	flipped := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXl"
	assert.ErrorContains(t, utils.VerifyPKCE(challenge, "S256", flipped), "does not match")

	assert.ErrorContains(t, utils.VerifyPKCE(challenge, "S256", ""), "missing code_verifier")
}

func TestVerifyPKCEPlain(t *testing.T) {
	assert.NilError(t, utils.VerifyPKCE("some-verifier", "plain", "some-verifier"))
	assert.ErrorContains(t, utils.VerifyPKCE("some-verifier", "plain", "other-verifier"), "does not match")
	assert.ErrorContains(t, utils.VerifyPKCE("some-verifier", "S512", "some-verifier"), "unsupported")
}

func TestVerifyPKCENoChallenge(t *testing.T) {
	// Codes issued without a challenge (confidential clients) skip PKCE
	assert.NilError(t, utils.VerifyPKCE("", "", ""))
	assert.NilError(t, utils.VerifyPKCE("", "", "some-verifier"))
}
