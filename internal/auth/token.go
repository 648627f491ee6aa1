package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Roles issued by the external auth service.
const (
	RoleSupplier = "SUPPLIER"
	RoleVendor   = "VENDOR"
)

// ErrInvalidToken covers every handshake failure: missing, malformed,
// badly signed or expired tokens. Connections are refused before any
// room state is created.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the immutable authenticated context bound to a connection
// for its entire lifetime.
type Identity struct {
	UserID string
	Role   string
	Email  string
}

// Verifier checks bearer tokens issued by the external auth service.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates an HS256 token and extracts the identity
// claims (`id`, `role`, `email`). Expiry is checked by the parser.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{
		UserID: claimString(claims, "id"),
		Role:   claimString(claims, "role"),
		Email:  claimString(claims, "email"),
	}
	if id.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
