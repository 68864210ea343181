// genkey generates the rota auth material: an Ed25519 key pair for service
// JWT signing and an admin API key with its Argon2id hash.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go
//
// Writes:
//
//	data/jwt_private.pem  (mode 0600 — keep this secret)
//	data/jwt_public.pem   (mode 0600)
//
// and prints the admin key once plus the ROTA_ADMIN_API_KEY_HASH value to
// put in the environment. The plaintext admin key is never stored — copy it
// from the output.
//
// The server runs the API open when ROTA_JWT_PRIVATE_KEY is unset, which is
// fine for local development but means every ingest and decide endpoint is
// unauthenticated. Generate persistent keys before exposing a deployment.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ashita-ai/rota/internal/auth"
)

func main() {
	dir := "data"
	privPath := filepath.Join(dir, "jwt_private.pem")
	pubPath := filepath.Join(dir, "jwt_public.pem")

	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	// Refuse to overwrite existing keys — prevents accidental invalidation of
	// live service tokens.
	for _, path := range []string{privPath, pubPath} {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(os.Stderr, "error: %s already exists — delete it first if you want to rotate keys\n", path)
			os.Exit(1)
		}
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal private key: %v\n", err)
		os.Exit(1)
	}
	if err := writePEM(privPath, "PRIVATE KEY", privDER); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshal public key: %v\n", err)
		os.Exit(1)
	}
	if err := writePEM(pubPath, "PUBLIC KEY", pubDER); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Admin API key: 32 random bytes, base64url. Only the hash goes in the
	// environment.
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		fmt.Fprintf(os.Stderr, "error: generate admin key: %v\n", err)
		os.Exit(1)
	}
	adminKey := "rota_" + base64.RawURLEncoding.EncodeToString(raw)
	hash, err := auth.HashAPIKey(adminKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: hash admin key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s\n", privPath)
	fmt.Printf("wrote %s\n", pubPath)
	fmt.Println()
	fmt.Println("Admin API key (shown once, not stored):")
	fmt.Printf("  %s\n", adminKey)
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Printf("  ROTA_JWT_PRIVATE_KEY=%s\n", privPath)
	fmt.Printf("  ROTA_JWT_PUBLIC_KEY=%s\n", pubPath)
	fmt.Printf("  ROTA_ADMIN_API_KEY_HASH=%s\n", hash)
}

func writePEM(path, blockType string, der []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
