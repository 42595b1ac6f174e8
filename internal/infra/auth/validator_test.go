package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/pluginguard/internal/domain"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signRS256(t *testing.T, key *rsa.PrivateKey, claims *domain.CustomClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func operatorClaims(expiresAt time.Time) *domain.CustomClaims {
	return &domain.CustomClaims{
		UserID: "op-1",
		Scopes: map[string]bool{"plugins.approve": true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "pluginguard",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestVerifyToken_ValidToken(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)
	token := signRS256(t, key, operatorClaims(time.Now().Add(time.Hour)))

	// С префиксом Bearer и без — оба варианта заголовка валидны
	for _, header := range []string{token, "Bearer " + token} {
		claims, err := v.VerifyToken(header)
		require.NoError(t, err)
		assert.Equal(t, "op-1", claims.UserID)
		assert.True(t, claims.Scopes["plugins.approve"])
	}
}

func TestVerifyToken_ExpiredToken(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)
	token := signRS256(t, key, operatorClaims(time.Now().Add(-time.Minute)))

	_, err := v.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_MissingExpiry(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)

	claims := &domain.CustomClaims{UserID: "op-1"}
	_, err := v.VerifyToken(signRS256(t, key, claims))
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_RejectsForeignSigningMethod(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)

	// Классическая подмена алгоритма: HS256 с каким-то секретом
	hsToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims(time.Now().Add(time.Hour))).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = v.VerifyToken(hsToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_WrongKey(t *testing.T) {
	signer := testKey(t)
	other := testKey(t)
	v := NewBaseValidator(&other.PublicKey)

	_, err := v.VerifyToken(signRS256(t, signer, operatorClaims(time.Now().Add(time.Hour))))
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_Garbage(t *testing.T) {
	key := testKey(t)
	v := NewBaseValidator(&key.PublicKey)

	_, err := v.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestLoadRSAKeyPair(t *testing.T) {
	key := testKey(t)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	pub, priv, err := LoadRSAKeyPair(pubPEM, privPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))
	assert.True(t, priv.Equal(key))

	// Отсутствие материала — ошибка сразу, а не на первом запросе
	_, _, err = LoadRSAKeyPair(nil, privPEM)
	assert.Error(t, err)
	_, _, err = LoadRSAKeyPair(pubPEM, nil)
	assert.Error(t, err)

	_, _, err = LoadRSAKeyPair([]byte("garbage"), privPEM)
	assert.Error(t, err)
}
