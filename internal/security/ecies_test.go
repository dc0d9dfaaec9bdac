package security

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptChunk_RoundTrip(t *testing.T) {
	recipientPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)

	plaintext := []byte("a chunk of file data flowing over a webrtc data channel")
	bundle, err := EncryptChunk(plaintext, recipientPriv.PublicKey())
	require.NoError(t, err)
	require.NotEmpty(t, bundle.Ciphertext)
	require.NotEqual(t, plaintext, bundle.Ciphertext)

	decrypted, err := DecryptChunk(bundle, recipientPriv)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptChunk_WrongRecipientFails(t *testing.T) {
	recipientPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)
	otherPriv, err := GenerateX25519Keypair()
	require.NoError(t, err)

	bundle, err := EncryptChunk([]byte("secret"), recipientPriv.PublicKey())
	require.NoError(t, err)

	_, err = DecryptChunk(bundle, otherPriv)
	require.Error(t, err)
}

func TestEncryptChunk_DistinctNoncePerCall(t *testing.T) {
	priv, err := GenerateX25519Keypair()
	require.NoError(t, err)

	b1, err := EncryptChunk([]byte("same plaintext"), priv.PublicKey())
	require.NoError(t, err)
	b2, err := EncryptChunk([]byte("same plaintext"), priv.PublicKey())
	require.NoError(t, err)

	require.NotEqual(t, b1.Nonce, b2.Nonce)
	require.NotEqual(t, b1.Ciphertext, b2.Ciphertext)
}
