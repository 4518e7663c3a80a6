package admin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dawsonblock/ds-router/internal/budget"
	"github.com/dawsonblock/ds-router/internal/circuitbreaker"
	"github.com/dawsonblock/ds-router/internal/health"
	"github.com/dawsonblock/ds-router/internal/router"
	"github.com/dawsonblock/ds-router/internal/types"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	h := health.New(circuitbreaker.DefaultConfig(), zap.NewNop())
	b := budget.New(budget.DefaultConfig(), zap.NewNop())
	return New(Config{
		InitialThresholds:  router.DefaultThresholds(),
		InitialDescriptors: map[string]types.ProviderDescriptor{"fast-1": {Name: "fast-1", Tier: types.TierFast}},
		Health:             h,
		Budget:             b,
	})
}

func TestSetThresholdsIsAtomicAndLogged(t *testing.T) {
	s := newTestSurface(t)
	next := router.DefaultThresholds()
	next.ConfThreshold = 0.9
	s.SetThresholds(next)

	assert.Equal(t, 0.9, s.GetThresholds().ConfThreshold)
	log := s.ChangeLog(0)
	require.Len(t, log, 1)
	assert.Equal(t, 0.9, log[0].After.ConfThreshold)
}

func TestCaptureSnapshotIsolatesFromLaterReload(t *testing.T) {
	s := newTestSurface(t)
	snap := s.CaptureSnapshot()
	require.Len(t, snap.Descriptors, 1)

	require.NoError(t, s.ReloadProviders(map[string]types.ProviderDescriptor{
		"fast-1": {Name: "fast-1", Tier: types.TierFast},
		"adv-1":  {Name: "adv-1", Tier: types.TierAdvanced},
	}))

	assert.Len(t, snap.Descriptors, 1, "captured snapshot must not see the later reload")
	assert.Len(t, s.CaptureSnapshot().Descriptors, 2)
}

func TestReloadProvidersRejectsEmptyTable(t *testing.T) {
	s := newTestSurface(t)
	err := s.ReloadProviders(map[string]types.ProviderDescriptor{})
	assert.Error(t, err)
}

func TestResetBudgetClearsCounters(t *testing.T) {
	s := newTestSurface(t)
	s.budget.Commit("", 100, 100)
	assert.Equal(t, int64(100), s.GetBudget().TokensUsed)

	s.ResetBudget()
	assert.Equal(t, int64(0), s.GetBudget().TokensUsed)
}

func TestSetForcedOverrideUpdatesThresholds(t *testing.T) {
	s := newTestSurface(t)
	s.SetForcedOverride("adv-1")
	assert.Equal(t, "adv-1", s.GetThresholds().ForcedOverride)
	s.SetForcedOverride("")
	assert.Equal(t, "", s.GetThresholds().ForcedOverride)
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Minute)
	token, err := issuer.Issue("ops-user")
	require.NoError(t, err)

	operator, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-user", operator)
}

func TestTokenIssuerRejectsTamperedToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Minute)
	token, err := issuer.Issue("ops-user")
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("different-secret"), time.Minute)
	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuerRejectsExpiredToken(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), -time.Minute)
	token, err := issuer.Issue("ops-user")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.Error(t, err)
}
