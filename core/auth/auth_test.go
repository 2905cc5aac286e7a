package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestParseToken(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)

	valid := sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	sub, err := v.ParseToken(valid)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	cases := map[string]string{
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{Subject: "user-1"}),
		"expired": sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}),
		"no subject":  sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.RegisteredClaims{}),
		"wrong alg":   sign(t, jwt.SigningMethodHS512, []byte("s3cret"), jwt.RegisteredClaims{Subject: "user-1"}),
		"not a token": "abc.def",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ParseToken(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
