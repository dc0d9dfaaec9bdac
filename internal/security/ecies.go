package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// EncryptedBundle is the per-chunk ECIES payload sent alongside a WebRTC
// FileChunk: an ephemeral X25519 public key, a random AES-GCM nonce, and
// the ciphertext. The recipient derives the same symmetric key from its
// static X25519 private key plus the ephemeral public key.
type EncryptedBundle struct {
	EphemeralPublicKey []byte
	Nonce              []byte
	Ciphertext         []byte
}

// GenerateX25519Keypair creates an ephemeral or static X25519 keypair for
// WebRTC data-channel encryption (distinct from the node's Ed25519
// signing identity: X25519 is for key agreement, Ed25519 for signatures).
func GenerateX25519Keypair() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate x25519 keypair: %w", err)
	}
	return priv, nil
}

// EncryptChunk encrypts plaintext for recipientPublicKey using ECIES:
// ephemeral X25519 ECDH, HKDF-SHA256 key derivation, AES-256-GCM seal.
func EncryptChunk(plaintext []byte, recipientPublicKey *ecdh.PublicKey) (*EncryptedBundle, error) {
	ephemeralPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}

	shared, err := ephemeralPriv.ECDH(recipientPublicKey)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	key, err := deriveKey(shared, ephemeralPriv.PublicKey().Bytes(), recipientPublicKey.Bytes())
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return &EncryptedBundle{
		EphemeralPublicKey: ephemeralPriv.PublicKey().Bytes(),
		Nonce:              nonce,
		Ciphertext:         ciphertext,
	}, nil
}

// DecryptChunk reverses EncryptChunk using the recipient's static X25519
// private key.
func DecryptChunk(bundle *EncryptedBundle, recipientPrivateKey *ecdh.PrivateKey) ([]byte, error) {
	ephemeralPub, err := ecdh.X25519().NewPublicKey(bundle.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse ephemeral public key: %w", err)
	}

	shared, err := recipientPrivateKey.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("ecdh: %w", err)
	}

	key, err := deriveKey(shared, bundle.EphemeralPublicKey, recipientPrivateKey.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	if len(bundle.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size %d", len(bundle.Nonce))
	}

	plaintext, err := gcm.Open(nil, bundle.Nonce, bundle.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// deriveKey runs HKDF-SHA256 over the ECDH shared secret, salted with
// both public keys so each chunk's ephemeral exchange derives a distinct
// key even when decrypting multiple chunks for the same recipient.
func deriveKey(shared, ephemeralPub, recipientPub []byte) ([]byte, error) {
	salt := append(append([]byte{}, ephemeralPub...), recipientPub...)
	reader := hkdf.New(sha256.New, shared, salt, []byte("transferd-webrtc-chunk"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}
