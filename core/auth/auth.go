package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret 未配置 JWT_SECRET
	ErrMissingSecret = errors.New("jwt secret is not configured")
	// ErrInvalidToken token 无效、过期或缺少 sub
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier 校验外部身份服务签发的 HS256 token
// 只负责把 token 还原成用户ID，不签发 token
type Verifier struct {
	secret []byte
}

// NewVerifier 创建校验器
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// ParseToken 校验签名与有效期，返回 sub（用户ID）
func (v *Verifier) ParseToken(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
