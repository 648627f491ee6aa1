package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)

	valid := jwt.MapClaims{
		"id":    "user-1",
		"role":  RoleVendor,
		"email": "vendor@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
		check   func(t *testing.T, id Identity)
	}{
		{
			name:  "valid token",
			token: signToken(t, testSecret, valid),
			check: func(t *testing.T, id Identity) {
				if id.UserID != "user-1" || id.Role != RoleVendor || id.Email != "vendor@example.com" {
					t.Errorf("unexpected identity: %+v", id)
				}
			},
		},
		{
			name:    "empty token",
			token:   "",
			wantErr: true,
		},
		{
			name:    "garbage token",
			token:   "not.a.token",
			wantErr: true,
		},
		{
			name: "wrong secret",
			token: signToken(t, "other-secret", jwt.MapClaims{
				"id": "user-1", "role": RoleVendor, "exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name: "expired token",
			token: signToken(t, testSecret, jwt.MapClaims{
				"id": "user-1", "role": RoleVendor, "exp": time.Now().Add(-time.Hour).Unix(),
			}),
			wantErr: true,
		},
		{
			name: "missing user id",
			token: signToken(t, testSecret, jwt.MapClaims{
				"role": RoleVendor, "exp": time.Now().Add(time.Hour).Unix(),
			}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(tt.token)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, id)
			}
		})
	}
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	v := NewVerifier(testSecret)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"id": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := v.Verify(signed); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}
