package identity

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cuemby/strata/internal/apierr"
	"github.com/cuemby/strata/internal/types"
)

// tokenAudience is the fixed "aud" claim spec §4.E requires every issued
// token to carry, matching the data-plane's own expectation of it.
const tokenAudience = "aruna"

// Claims is the EdDSA JWT payload issued for a Token node. UserIndex and
// TokenIndex let a validator resolve the exact graph node a bearer token
// traces back to, the way warren's JoinToken ties a token string back to a
// role; here it ties back to a user and a specific token record so
// revocation ("withdrawn", per spec §3's Lifecycle note) can be checked
// per-token rather than per-user.
type Claims struct {
	jwt.RegisteredClaims
	UserIndex  uint32                `json:"uidx"`
	TokenIndex uint32                `json:"tidx"`
	Scope      uint32                `json:"scope"`
	Level      types.PermissionLevel `json:"level"`
}

// Issuer issues and validates EdDSA-signed tokens. Grounded on
// cuemby-warren's pkg/manager/token.go TokenManager shape (generate/
// validate/revoke around an expiry check), generalized from warren's
// random-string join tokens to signed JWTs carrying the scope and
// permission level spec §4.E requires.
type Issuer struct {
	keyID   string
	signing ed25519.PrivateKey
	verify  ed25519.PublicKey
}

// NewIssuer builds an Issuer. keyID is embedded in the JWT's kid header,
// naming the issuing proxy/endpoint so a multi-endpoint deployment's
// validators can pick the right verification key.
func NewIssuer(keyID string, signing ed25519.PrivateKey, verify ed25519.PublicKey) *Issuer {
	return &Issuer{keyID: keyID, signing: signing, verify: verify}
}

// Issue signs a token for user/token index, scope, and level, expiring at
// expiresAt. Spec §4.E's default lifetime (10 years) is a caller-supplied
// expiresAt, not hardcoded here.
func (i *Issuer) Issue(userIdx, tokenIdx, scope types.Index, level types.PermissionLevel, expiresAt time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Audience:  jwt.ClaimStrings{tokenAudience},
		},
		UserIndex:  uint32(userIdx),
		TokenIndex: uint32(tokenIdx),
		Scope:      uint32(scope),
		Level:      level,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = i.keyID
	signed, err := tok.SignedString(i.signing)
	if err != nil {
		return "", apierr.Fatal(err, "sign token")
	}
	return signed, nil
}

// Validate parses and verifies a bearer token string, returning its claims.
// Per spec §4.E this checks the signature, "aud", and "exp"; the caller is
// still responsible for checking that (sub, token-idx) names a live token.
func (i *Issuer) Validate(raw string) (*Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.verify, nil
	}, jwt.WithAudience(tokenAudience))
	if err != nil {
		return nil, apierr.Unauthenticated("invalid token: %v", err)
	}
	if !tok.Valid {
		return nil, apierr.Unauthenticated("token not valid")
	}
	return &claims, nil
}
