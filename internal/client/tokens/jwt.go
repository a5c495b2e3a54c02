package tokens

import (
	"errors"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/golang-jwt/jwt/v5"
)

var errNoExpiry = errors.New("token carries no exp claim")

// ExpiryFromJWT reads the exp claim of a JWT without verifying its
// signature. The client never holds signing keys; the server re-validates.
func ExpiryFromJWT(token string) (*int64, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil {
		return nil, errNoExpiry
	}
	exp := claims.ExpiresAt.Unix()
	return &exp, nil
}

// Normalize fills a missing Exp from the token's JWT claims. Opaque
// tokens and tokens that already carry Exp are left untouched.
func Normalize(p models.AuthTokenPair) models.AuthTokenPair {
	out := p.Clone()
	for _, t := range []*models.AuthToken{out.Access, out.Refresh, out.Fork} {
		if t == nil || t.Exp != nil {
			continue
		}
		if exp, err := ExpiryFromJWT(t.Token); err == nil {
			t.Exp = exp
		}
	}
	return out
}
