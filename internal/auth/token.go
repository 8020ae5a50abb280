package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSigningKey はトークン署名鍵が設定されていない場合に返される。
var ErrMissingSigningKey = errors.New("token signing key is not configured")

// ErrInvalidToken はトークンの検証に失敗した場合に返される。
// 欠落・形式不正・期限切れ・署名不正を区別しない。
var ErrInvalidToken = errors.New("invalid token")

// Claims はセッショントークンのクレーム。
// ユーザー名は "id" クレームに格納する。
type Claims struct {
	Username string `json:"id"`
	jwt.RegisteredClaims
}

// TokenService はHS256で署名したセッショントークンを発行・検証する。
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService はTokenServiceを生成する。
// secretが空でも生成でき、発行時にErrMissingSigningKeyを返す。
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はユーザー名を主体とするトークンを発行する。
func (s *TokenService) Issue(username string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSigningKey
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate はトークンを検証してユーザー名を返す。
// HMAC以外の署名方式、期限切れ、空のユーザー名はすべてErrInvalidTokenとする。
func (s *TokenService) Validate(tokenString string) (string, error) {
	if tokenString == "" || len(s.secret) == 0 {
		return "", ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Username == "" {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}
