package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/pluginguard/internal/domain"
)

// ErrTokenInvalid — токен не прошел проверку подписи, срока или формата.
var ErrTokenInvalid = errors.New("token invalid")

// BaseValidator проверяет RS256 токены операторов approval-поверхности.
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{
		publicKey: pubKey,
		// Алгоритм зафиксирован на уровне парсера: токен с alg=none или
		// HS256, «подписанный» публичным ключом как секретом, не пройдет
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// VerifyToken принимает значение заголовка Authorization, с "Bearer " или без.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.CustomClaims, error) {
	raw, _ := strings.CutPrefix(strings.TrimSpace(tokenStr), "Bearer ")

	claims := &domain.CustomClaims{}
	token, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// LoadRSAKeyPair разбирает PEM-материал обоих ключей approval-поверхности:
// публичный проверяет подписи, закрытый выдает токены (AuthService).
func LoadRSAKeyPair(pubPEM, privPEM []byte) (*rsa.PublicKey, *rsa.PrivateKey, error) {
	if len(pubPEM) == 0 || len(privPEM) == 0 {
		return nil, nil, errors.New("auth key material is missing")
	}

	pub, err := jwt.ParseRSAPublicKeyFromPEM(pubPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("parse public key: %w", err)
	}
	priv, err := jwt.ParseRSAPrivateKeyFromPEM(privPEM)
	if err != nil {
		return nil, nil, fmt.Errorf("parse private key: %w", err)
	}
	return pub, priv, nil
}
