package authz

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrSecretMissing 未配置签名密钥
	ErrSecretMissing = errors.New("jwt secret missing")
	// ErrTokenInvalid token 无效
	ErrTokenInvalid = errors.New("token invalid")
)

// OperatorClaims 运维接口 JWT 声明
type OperatorClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// IssueOperatorToken 签发运维 token
func IssueOperatorToken(secret, operator string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, ErrSecretMissing
	}
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return "", time.Time{}, errors.New("operator is empty")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := OperatorClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseOperatorToken 解析并校验运维 token
func ParseOperatorToken(secret, tokenString string) (*OperatorClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretMissing
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &OperatorClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errors.Join(ErrTokenInvalid, err)
	}
	if !token.Valid || strings.TrimSpace(claims.Operator) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
