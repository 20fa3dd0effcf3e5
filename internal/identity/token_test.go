package identity

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/types"
)

func TestIssueAndValidate(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	issuer := NewIssuer("endpoint-1", priv, pub)
	token, err := issuer.Issue(1, 2, 3, types.LevelWrite, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	require.EqualValues(t, 1, claims.UserIndex)
	require.EqualValues(t, 2, claims.TokenIndex)
	require.EqualValues(t, 3, claims.Scope)
	require.Equal(t, types.LevelWrite, claims.Level)
}

func TestValidateRejectsExpired(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuer := NewIssuer("endpoint-1", priv, pub)

	token, err := issuer.Issue(1, 1, 1, types.LevelRead, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	require.Error(t, err)
	require.Equal(t, apierr.KindUnauthenticated, apierr.KindOf(err))
}

func TestValidateRejectsWrongAudience(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	issuer := NewIssuer("endpoint-1", priv, pub)

	token, err := issuer.Issue(1, 1, 1, types.LevelRead, time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, _, err := new(jwt.Parser).ParseUnverified(token, &Claims{})
	require.NoError(t, err)
	raw := claims.(*Claims)
	raw.Audience = jwt.ClaimStrings{"not-aruna"}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, raw)
	tok.Header["kid"] = "endpoint-1"
	forged, err := tok.SignedString(priv)
	require.NoError(t, err)

	_, err = issuer.Validate(forged)
	require.Error(t, err)
	require.Equal(t, apierr.KindUnauthenticated, apierr.KindOf(err))
}

func TestValidateRejectsWrongKey(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	issuer := NewIssuer("endpoint-1", priv, otherPub)
	token, err := issuer.Issue(1, 1, 1, types.LevelRead, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	require.Error(t, err)
}
