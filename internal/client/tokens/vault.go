// Package tokens implements the token vault: expiry checks and the
// serialized form of the access/refresh/fork triple kept in durable storage.
//
// Every function here is pure; callers pass the current time explicitly.
package tokens

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/deskclient/internal/client/models"
	"github.com/dmitrijs2005/deskclient/internal/common"
)

// IsExpired reports whether t must not be used to authorize a request:
// t is nil, or its Exp is set and not in the future.
func IsExpired(t *models.AuthToken, now time.Time) bool {
	if t == nil {
		return true
	}
	if t.Exp == nil {
		return false
	}
	return *t.Exp <= now.Unix()
}

// Usable reports whether p can authorize requests now, either directly or
// after exchanging the refresh token.
func Usable(p models.AuthTokenPair, now time.Time) bool {
	return !IsExpired(p.Access, now) || !IsExpired(p.Refresh, now)
}

// Serialize encodes p for durable storage. Output is deterministic for
// equal inputs. Only pairs Deserialize accepts can be written: a pair with
// no tokens, or a token with an empty value, is ErrMalformedToken.
func Serialize(p models.AuthTokenPair) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("serialize token pair: %w", err)
	}
	return string(b), nil
}

// Deserialize parses a pair written by Serialize. Anything else, including
// an empty pair or a token with an empty value, is ErrMalformedToken, so
// Deserialize(Serialize(p)) == p for every p Serialize accepts.
func Deserialize(raw string) (models.AuthTokenPair, error) {
	var p models.AuthTokenPair

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return models.AuthTokenPair{}, fmt.Errorf("%w: %v", common.ErrMalformedToken, err)
	}
	if dec.More() {
		return models.AuthTokenPair{}, fmt.Errorf("%w: trailing data", common.ErrMalformedToken)
	}
	if err := validate(p); err != nil {
		return models.AuthTokenPair{}, err
	}
	return p, nil
}

func validate(p models.AuthTokenPair) error {
	if p.IsZero() {
		return fmt.Errorf("%w: no tokens", common.ErrMalformedToken)
	}
	for name, t := range map[string]*models.AuthToken{"access": p.Access, "refresh": p.Refresh, "fork": p.Fork} {
		if t != nil && t.Token == "" {
			return fmt.Errorf("%w: empty %s token", common.ErrMalformedToken, name)
		}
	}
	return nil
}
