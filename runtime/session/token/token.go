// Package token provides the credential primitives of the coordinator: the
// TokenCipher capability used to protect stored secrets, short-lived viewer
// subscription tokens, and constant-time hash verification for sandbox auth.
package token

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

type (
	// Cipher is the opaque crypto capability consumed by the coordinator.
	// Implementations may call out to a KMS; operations take a context and
	// may suspend, but the coordinator's single-writer invariant guarantees
	// no same-session action interleaves while they run.
	Cipher interface {
		// Encrypt protects a secret for storage.
		Encrypt(ctx context.Context, plaintext string) (string, error)
		// Decrypt recovers a stored secret. A failure is fatal for that
		// secret only and must be surfaced, never swallowed.
		Decrypt(ctx context.Context, ciphertext string) (string, error)
		// Hash produces a stable one-way digest of a token for storage and
		// later verification.
		Hash(ctx context.Context, value string) (string, error)
	}

	// AESCipher implements Cipher with AES-256-GCM encryption and SHA-256
	// hashing. The reference implementation for deployments without a KMS.
	AESCipher struct {
		aead cipher.AEAD
	}

	// WSGrant is a short-lived opaque token authorizing one WebSocket
	// subscription for a participant. The coordinator mints grants; the
	// transport layer presents them back for validation.
	WSGrant struct {
		// Token is the opaque credential handed to the client.
		Token string
		// ParticipantID is the participant the grant was minted for.
		ParticipantID string
		// ExpiresAt is the grant deadline.
		ExpiresAt time.Time
	}
)

// WSGrantTTL is how long a minted WebSocket grant stays valid.
const WSGrantTTL = 5 * time.Minute

// ErrCiphertextTooShort indicates a ciphertext shorter than its nonce.
var ErrCiphertextTooShort = errors.New("ciphertext too short")

// NewAESCipher builds an AESCipher from a 32-byte key.
func NewAESCipher(key []byte) (*AESCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes cipher key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &AESCipher{aead: aead}, nil
}

// Encrypt implements Cipher. Output is base64(nonce || ciphertext).
func (c *AESCipher) Encrypt(_ context.Context, plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt implements Cipher.
func (c *AESCipher) Decrypt(_ context.Context, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrCiphertextTooShort
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// Hash implements Cipher with hex-encoded SHA-256.
func (c *AESCipher) Hash(_ context.Context, value string) (string, error) {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:]), nil
}

// NewSandboxToken mints a random sandbox auth token. The plaintext goes to
// the sandbox; only its hash is retained by the coordinator.
func NewSandboxToken() (string, error) {
	return randomToken()
}

// NewWSGrant mints a short-lived subscription grant for a participant.
func NewWSGrant(participantID string, now time.Time) (WSGrant, error) {
	tok, err := randomToken()
	if err != nil {
		return WSGrant{}, err
	}
	return WSGrant{
		Token:         tok,
		ParticipantID: participantID,
		ExpiresAt:     now.Add(WSGrantTTL),
	}, nil
}

// Expired reports whether the grant deadline passed.
func (g WSGrant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// VerifyHash compares two token hashes in constant time. Length is checked
// first; ConstantTimeCompare requires equal lengths and hash encodings are
// fixed-width, so the length check leaks nothing useful.
func VerifyHash(got, want string) bool {
	if len(got) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
