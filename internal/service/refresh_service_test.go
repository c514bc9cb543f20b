package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/keyfort/keyfort/internal/apperrors"
	"github.com/keyfort/keyfort/internal/model"
	"github.com/keyfort/keyfort/internal/service"
	"github.com/keyfort/keyfort/internal/utils"

	"gotest.tools/v3/assert"
)

func mintRootToken(t *testing.T, stack *testStack, scope []string) string {
	t.Helper()

	raw, _, err := stack.tokens.MintRefreshToken("public-client", "user1", scope, "", 0)
	assert.NilError(t, err)
	return raw
}

func loadToken(t *testing.T, stack *testStack, raw string) model.RefreshToken {
	t.Helper()

	var token model.RefreshToken
	err := stack.database.Where("token_hash = ?", utils.HashToken(raw)).First(&token).Error
	assert.NilError(t, err)
	return token
}

func backdateGrace(t *testing.T, stack *testStack, raw string) {
	t.Helper()

	err := stack.database.Model(&model.RefreshToken{}).
		Where("token_hash = ?", utils.HashToken(raw)).
		Update("rotation_grace_expires_at", time.Now().Unix()-1).Error
	assert.NilError(t, err)
}

func TestRefreshRotation(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"openid", "email", "offline_access"})

	response, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	assert.Assert(t, response.AccessToken != "")
	assert.Assert(t, response.RefreshToken != "")
	assert.Assert(t, response.RefreshToken != root)
	assert.Equal(t, "openid email offline_access", response.Scope)

	parent := loadToken(t, stack, root)
	assert.Equal(t, model.TokenStatusRotating, parent.TokenStatus)
	assert.Assert(t, parent.RotationGraceExpiresAt != nil)
	assert.Assert(t, parent.LastUsedAt != nil)

	child := loadToken(t, stack, response.RefreshToken)
	assert.Equal(t, model.TokenStatusActive, child.TokenStatus)
	assert.Equal(t, 1, child.RotationCount)
	assert.Assert(t, child.ParentTokenHash != nil)
	assert.Equal(t, parent.TokenHash, *child.ParentTokenHash)
}

func TestRefreshGraceReplayIsIdempotent(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email", "offline_access"})

	first, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	// A retry inside the grace window gets the identical pair, and no extra
	// child is minted
	second, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, first.RefreshToken, second.RefreshToken)

	var children int64
	err = stack.database.Model(&model.RefreshToken{}).
		Where("parent_token_hash = ?", utils.HashToken(root)).
		Count(&children).Error
	assert.NilError(t, err)
	assert.Equal(t, int64(1), children)
}

func TestRefreshConcurrentRotation(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email", "offline_access"})

	// Racing refreshes of the same token: the CAS winner rotates, every loser
	// must land in the grace replay and get the identical pair back
	var wg sync.WaitGroup
	responses := make(chan *service.TokenResponse, 8)
	failures := make(chan error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			response, err := stack.refresh.Refresh(service.RefreshRequest{
				RefreshToken: root,
				ClientID:     "public-client",
			})
			if err != nil {
				failures <- err
				return
			}
			responses <- response
		}()
	}
	wg.Wait()
	close(responses)
	close(failures)

	for err := range failures {
		assert.NilError(t, err)
	}

	var first *service.TokenResponse
	returned := 0
	for response := range responses {
		returned++
		if first == nil {
			first = response
			continue
		}
		assert.Equal(t, first.AccessToken, response.AccessToken)
		assert.Equal(t, first.RefreshToken, response.RefreshToken)
	}
	assert.Equal(t, 8, returned)

	var children int64
	err := stack.database.Model(&model.RefreshToken{}).
		Where("parent_token_hash = ?", utils.HashToken(root)).
		Count(&children).Error
	assert.NilError(t, err)
	assert.Equal(t, int64(1), children)
}

func TestRefreshAfterGraceDetectsTheft(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email", "offline_access"})

	response, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	backdateGrace(t, stack, root)

	// The parent coming back past its grace window while the child is live is
	// exactly the stolen-ancestor signature: the whole chain goes down
	_, err = stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
		RequestIP:    "203.0.113.7",
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindReplayDetected))

	parent := loadToken(t, stack, root)
	assert.Equal(t, model.TokenStatusRevoked, parent.TokenStatus)
	assert.Equal(t, model.RevocationReasonGraceExpired, parent.RevocationReason)

	child := loadToken(t, stack, response.RefreshToken)
	assert.Equal(t, model.TokenStatusRevoked, child.TokenStatus)
	assert.Equal(t, model.RevocationReasonReuseDetected, child.RevocationReason)

	// The legitimate holder is locked out too and must reauthenticate
	_, err = stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: response.RefreshToken,
		ClientID:     "public-client",
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindInvalidGrant))
	assert.Assert(t, !apperrors.IsKind(err, apperrors.KindReplayDetected))

	// And the anomaly landed in the audit trail
	var entries []model.UserSwitchAuditEntry
	err = stack.database.Where("risk_level = ?", model.RiskLevelHigh).Find(&entries).Error
	assert.NilError(t, err)
	assert.Equal(t, 1, len(entries))
	assert.Assert(t, entries[0].RiskFactors == `["refresh_token_reuse"]`)
}

func TestRefreshTheftRevokesDeepChain(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email", "offline_access"})

	first, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	second, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: first.RefreshToken,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	backdateGrace(t, stack, root)
	backdateGrace(t, stack, first.RefreshToken)

	// Replaying the root with a live grandchild takes out every generation
	_, err = stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindReplayDetected))

	for _, raw := range []string{root, first.RefreshToken, second.RefreshToken} {
		token := loadToken(t, stack, raw)
		assert.Equal(t, model.TokenStatusRevoked, token.TokenStatus)
	}
}

func TestRefreshRevokedWithoutDescendantsIsRoutine(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email"})

	assert.Assert(t, stack.refresh.RevokeByValue(root, model.RevocationReasonLogout))

	// Post-logout presentation is an ordinary rejection, not a theft signal
	_, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindInvalidGrant))
	assert.Assert(t, !apperrors.IsKind(err, apperrors.KindReplayDetected))
}

func TestRefreshScopeNarrowing(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"openid", "email", "offline_access"})

	response, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
		Scope:        "email",
	})
	assert.NilError(t, err)
	assert.Equal(t, "email", response.Scope)

	child := loadToken(t, stack, response.RefreshToken)
	assert.Equal(t, "email", child.Scope)
}

func TestRefreshRejectsScopeEscalation(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email"})

	_, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
		Scope:        "email openid",
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindInvalidScope))

	// The failed request must not have burned the token
	token := loadToken(t, stack, root)
	assert.Equal(t, model.TokenStatusActive, token.TokenStatus)
}

func TestRefreshExpiredToken(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email"})

	err := stack.database.Model(&model.RefreshToken{}).
		Where("token_hash = ?", utils.HashToken(root)).
		Update("expires_at", time.Now().Unix()-1).Error
	assert.NilError(t, err)

	_, err = stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindInvalidGrant))

	token := loadToken(t, stack, root)
	assert.Equal(t, model.TokenStatusRevoked, token.TokenStatus)
	assert.Equal(t, model.RevocationReasonExpired, token.RevocationReason)
}

func TestRefreshWrongClient(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email"})

	_, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "confidential-client",
		ClientSecret: stack.secret,
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindInvalidGrant))
}

func TestRefreshUnknownToken(t *testing.T) {
	stack := newTestStack(t)

	_, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: "never-issued",
		ClientID:     "public-client",
	})
	assert.Assert(t, apperrors.IsKind(err, apperrors.KindInvalidGrant))
}

func TestRevokeByValueRevokesWholeFamily(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email", "offline_access"})

	first, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	second, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: first.RefreshToken,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	// Revoking from the middle of the chain takes out ancestors and
	// descendants alike
	assert.Assert(t, stack.refresh.RevokeByValue(first.RefreshToken, model.RevocationReasonLogout))

	for _, raw := range []string{root, first.RefreshToken, second.RefreshToken} {
		token := loadToken(t, stack, raw)
		assert.Equal(t, model.TokenStatusRevoked, token.TokenStatus)
	}

	assert.Assert(t, !stack.refresh.RevokeByValue("never-issued", model.RevocationReasonLogout))
}

func TestSweepFinalizesLapsedRotations(t *testing.T) {
	stack := newTestStack(t)

	root := mintRootToken(t, stack, []string{"email", "offline_access"})

	_, err := stack.refresh.Refresh(service.RefreshRequest{
		RefreshToken: root,
		ClientID:     "public-client",
	})
	assert.NilError(t, err)

	backdateGrace(t, stack, root)

	finalized, err := stack.refresh.Sweep()
	assert.NilError(t, err)
	assert.Equal(t, int64(1), finalized)

	token := loadToken(t, stack, root)
	assert.Equal(t, model.TokenStatusRevoked, token.TokenStatus)
	assert.Equal(t, model.RevocationReasonGraceExpired, token.RevocationReason)
	assert.Equal(t, "", token.RotationReplay)

	// Idempotent: nothing left to finalize
	finalized, err = stack.refresh.Sweep()
	assert.NilError(t, err)
	assert.Equal(t, int64(0), finalized)
}

func TestRefreshChainRotationCounts(t *testing.T) {
	stack := newTestStack(t)

	current := mintRootToken(t, stack, []string{"email", "offline_access"})

	for generation := 1; generation <= 3; generation++ {
		response, err := stack.refresh.Refresh(service.RefreshRequest{
			RefreshToken: current,
			ClientID:     "public-client",
		})
		assert.NilError(t, err)

		token := loadToken(t, stack, response.RefreshToken)
		assert.Equal(t, generation, token.RotationCount)
		current = response.RefreshToken
	}
}
