// README: HS256 token issuing and verification for deployments without Firebase Auth.
package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// VerifyIDToken checks signature and expiry; "sub" becomes the UID, all claims are passed on.
func (v *JWTVerifier) VerifyIDToken(_ context.Context, idToken string) (*FirebaseToken, error) {
	tok, err := jwt.Parse(idToken, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return nil, err
	}
	if sub == "" {
		return nil, errors.New("missing subject")
	}
	claims := make(map[string]interface{}, len(mc))
	for k, val := range mc {
		claims[k] = val
	}
	return &FirebaseToken{UID: sub, Claims: claims}, nil
}

// IssueToken signs a token for uid with the given role claim.
func IssueToken(secret, uid, role string, ttl time.Duration) (string, error) {
	if uid == "" {
		return "", errors.New("empty uid")
	}
	claims := jwt.MapClaims{
		"sub":  uid,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
