package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/rota/internal/auth"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyAPIKey_MalformedHash(t *testing.T) {
	_, err := auth.VerifyAPIKey("whatever", "not-a-valid-encoding")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hash format")
}

func TestIssueAndValidateServiceToken(t *testing.T) {
	mgr, err := auth.NewTokenManager("", "", 1*time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueServiceToken("decision", false)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "decision", claims.Service)
	assert.False(t, claims.Admin)
	assert.Equal(t, "rota", claims.Issuer)
}

func TestIssueServiceToken_AdminFlag(t *testing.T) {
	mgr, err := auth.NewTokenManager("", "", 1*time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueServiceToken("ops", true)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Admin)
}

// newTestTokenManagerWithKey creates a TokenManager backed by a real Ed25519
// key pair written to temp PEM files, and returns the raw private key for
// forging tokens.
func newTestTokenManagerWithKey(t *testing.T) (*auth.TokenManager, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	dir := t.TempDir()

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	privPath := filepath.Join(dir, "priv.pem")
	require.NoError(t, os.WriteFile(privPath, privPEM, 0600))

	pubBytes, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	pubPath := filepath.Join(dir, "pub.pem")
	require.NoError(t, os.WriteFile(pubPath, pubPEM, 0600))

	mgr, err := auth.NewTokenManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

// forgeToken signs a token with the given private key and claims.
func forgeToken(t *testing.T, privKey ed25519.PrivateKey, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(privKey)
	require.NoError(t, err)
	return signed
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, privKey := newTestTokenManagerWithKey(t)

	now := time.Now().UTC()
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ingest",
			Issuer:    "not-rota",
			Audience:  jwt.ClaimStrings{"rota"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Service: "ingest",
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_WrongAudience(t *testing.T) {
	mgr, privKey := newTestTokenManagerWithKey(t)

	now := time.Now().UTC()
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ingest",
			Issuer:    "rota",
			Audience:  jwt.ClaimStrings{"someone-else"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Service: "ingest",
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateToken_MissingServiceClaim(t *testing.T) {
	mgr, privKey := newTestTokenManagerWithKey(t)

	now := time.Now().UTC()
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "anonymous",
			Issuer:    "rota",
			Audience:  jwt.ClaimStrings{"rota"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service claim")
}

func TestValidateToken_Expired(t *testing.T) {
	mgr, privKey := newTestTokenManagerWithKey(t)

	past := time.Now().UTC().Add(-2 * time.Hour)
	token := forgeToken(t, privKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "learner",
			Issuer:    "rota",
			Audience:  jwt.ClaimStrings{"rota"},
			IssuedAt:  jwt.NewNumericDate(past),
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Service: "learner",
	})

	_, err := mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateToken_ForeignKeyRejected(t *testing.T) {
	mgr, _ := newTestTokenManagerWithKey(t)
	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, otherKey, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "decision",
			Issuer:    "rota",
			Audience:  jwt.ClaimStrings{"rota"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Service: "decision",
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
}
