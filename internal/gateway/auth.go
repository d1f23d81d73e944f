package gateway

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var errNoSubject = errors.New("token carries no user identity")

// authenticate verifies the bearer token and extracts the user identity.
// The external identity provider puts it in an externalUserId claim, falling
// back to the standard subject.
func (g *Gateway) authenticate(token string) (string, error) {
	if token == "" {
		return "", errors.New("missing authentication token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(g.jwtSecret), nil
	})
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errNoSubject
	}
	if external, ok := claims["externalUserId"].(string); ok && external != "" {
		return external, nil
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", errNoSubject
	}
	return subject, nil
}
