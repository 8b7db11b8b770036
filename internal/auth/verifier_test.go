package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestVerifierUserID(t *testing.T) {
	v := NewVerifier("secret")
	userID := uuid.New()
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		want    uuid.UUID
		wantErr error
	}{
		{
			name:  "valid",
			token: sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": userID.String(), "exp": exp}),
			want:  userID,
		},
		{
			name:    "wrong secret",
			token:   sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": userID.String(), "exp": exp}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "expired",
			token:   sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": userID.String(), "exp": time.Now().Add(-time.Minute).Unix()}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "no expiry",
			token:   sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": userID.String()}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "other algorithm",
			token:   sign(t, jwt.SigningMethodHS512, []byte("secret"), jwt.MapClaims{"sub": userID.String(), "exp": exp}),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "bad subject",
			token:   sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "not-a-uuid", "exp": exp}),
			wantErr: ErrInvalidSubject,
		},
		{
			name:    "garbage",
			token:   "abc",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.UserID(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
