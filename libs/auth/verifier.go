package auth

import (
	"context"
	"strings"
)

// Verifier checks HS256 tokens with a shared secret and RS256 tokens against
// a JWKS endpoint. Either may be unset.
type Verifier struct {
	Secret string
	JWKS   *JWKSClient
	Issuer string
}

func (v Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	header, err := ParseHeader(token)
	if err != nil {
		return nil, err
	}
	var claims *Claims
	switch header.Alg {
	case "HS256":
		if v.Secret == "" {
			return nil, ErrInvalidToken
		}
		claims, err = ParseAndVerifyHS256(token, v.Secret)
	case "RS256":
		if v.JWKS == nil || header.Kid == "" {
			return nil, ErrInvalidToken
		}
		key, kerr := v.JWKS.Get(ctx, header.Kid)
		if kerr != nil {
			return nil, kerr
		}
		claims, err = VerifyRS256(token, key)
	default:
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if v.Issuer != "" && claims.Iss != "" && claims.Iss != v.Issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
