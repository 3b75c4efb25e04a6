package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "storefront", Audience: "storefront-admin", ExpirationMinutes: 30}
}

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{Subject: "ops-7", Role: enums.ActorRoleAdmin})
	require.NoError(t, err)

	claims, err := ParseAccessToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "ops-7", claims.Subject)
	assert.Equal(t, enums.ActorRoleAdmin, claims.Role)
	assert.Equal(t, cfg.Issuer, claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(30*time.Minute), claims.ExpiresAt.Time, time.Second)
}

func TestParseAccessTokenRejects(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now()

	valid, err := MintAccessToken(cfg, now, AccessTokenPayload{Subject: "ops-7", Role: enums.ActorRoleOperator})
	require.NoError(t, err)

	_, err = ParseAccessToken(cfg, valid+"x")
	assert.Error(t, err, "tampered signature")

	other := cfg
	other.Issuer = "someone-else"
	_, err = ParseAccessToken(other, valid)
	assert.Error(t, err, "wrong issuer")

	other = cfg
	other.Audience = "storefront-partner"
	_, err = ParseAccessToken(other, valid)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidAudience)

	// small drift between issuer and verifier is tolerated
	skewed, err := MintAccessToken(cfg, now.Add(10*time.Second), AccessTokenPayload{Subject: "ops-7", Role: enums.ActorRoleAdmin})
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, skewed)
	assert.NoError(t, err)

	expired, err := MintAccessToken(cfg, now.Add(-time.Hour), AccessTokenPayload{Subject: "ops-7", Role: enums.ActorRoleAdmin})
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		Role: "superuser",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: cfg.Issuer, Subject: "x", Audience: jwt.ClaimStrings{cfg.Audience}, ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})
	signed, err := forged.SignedString([]byte(cfg.Secret))
	require.NoError(t, err)
	_, err = ParseAccessToken(cfg, signed)
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestMintAccessTokenValidatesPayload(t *testing.T) {
	cfg := testJWTConfig()
	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{Subject: "ops", Role: ""})
	assert.Error(t, err)
	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{Role: enums.ActorRoleAdmin})
	assert.ErrorIs(t, err, ErrNoSubject)
	cfg.Secret = ""
	_, err = MintAccessToken(cfg, time.Now(), AccessTokenPayload{Subject: "ops", Role: enums.ActorRoleAdmin})
	assert.Error(t, err)
}
