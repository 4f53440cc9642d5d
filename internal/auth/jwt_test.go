package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("desk-1", "t1", RoleStation, "gatecheck", "secret", time.Minute, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, "secret", "gatecheck")
	require.NoError(t, err)
	assert.Equal(t, "desk-1", claims.Subject)
	assert.Equal(t, "t1", claims.TenantID)
	assert.Equal(t, RoleStation, claims.Role)
}

func TestParseRejectsBadKey(t *testing.T) {
	pair, err := Issue("desk-1", "t1", RoleStation, "gatecheck", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-secret", "gatecheck")
	assert.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("desk-1", "t1", RoleAdmin, "someone-else", "secret", time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "gatecheck")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("desk-1", "t1", RoleStation, "gatecheck", "secret", -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "secret", "gatecheck")
	assert.Error(t, err)
}
