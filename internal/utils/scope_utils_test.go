package utils_test

import (
	"testing"

	"github.com/keyfort/keyfort/internal/utils"

	"gotest.tools/v3/assert"
)

func TestSplitScopes(t *testing.T) {
	assert.DeepEqual(t, []string{"openid", "email"}, utils.SplitScopes("openid email"))
	assert.DeepEqual(t, []string{"openid"}, utils.SplitScopes("  openid  "))
	assert.DeepEqual(t, []string{}, utils.SplitScopes(""))
}

func TestScopesSubset(t *testing.T) {
	allowed := []string{"openid", "profile", "email"}

	assert.Assert(t, utils.ScopesSubset([]string{"openid"}, allowed))
	assert.Assert(t, utils.ScopesSubset([]string{}, allowed))
	assert.Assert(t, !utils.ScopesSubset([]string{"openid", "admin"}, allowed))
}

func TestIntersectScopes(t *testing.T) {
	original := []string{"openid", "profile", "email"}

	assert.DeepEqual(t, []string{"openid", "email"}, utils.IntersectScopes([]string{"openid", "email"}, original))
	assert.DeepEqual(t, []string{}, utils.IntersectScopes([]string{"admin"}, original))
}
