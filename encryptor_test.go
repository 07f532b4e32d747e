package acksp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECIESEncryptor_RoundTrip(t *testing.T) {
	enc := NewECIESEncryptor(newTestSigner(t).key)
	ctx := context.Background()

	ct, err := enc.EncryptSelf(ctx, []byte("private key bytes"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("private key bytes"), ct)

	pt, err := enc.DecryptSelf(ctx, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("private key bytes"), pt)
}

func TestECIESEncryptor_OtherKeyCannotDecrypt(t *testing.T) {
	ctx := context.Background()
	ct, err := NewECIESEncryptor(newTestSigner(t).key).EncryptSelf(ctx, []byte("secret"))
	require.NoError(t, err)

	_, err = NewECIESEncryptor(newTestSigner(t).key).DecryptSelf(ctx, ct)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestECIESEncryptor_RejectsTamperedAndEmpty(t *testing.T) {
	enc := NewECIESEncryptor(newTestSigner(t).key)
	ctx := context.Background()

	ct, err := enc.EncryptSelf(ctx, []byte("secret"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xff

	_, err = enc.DecryptSelf(ctx, ct)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = enc.DecryptSelf(ctx, nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestPassphraseEncryptor_RoundTrip(t *testing.T) {
	enc := NewPassphraseEncryptor("correct horse battery staple")
	ctx := context.Background()

	a, err := enc.EncryptSelf(ctx, []byte("secret"))
	require.NoError(t, err)
	b, err := enc.EncryptSelf(ctx, []byte("secret"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "salt and nonce must be fresh")

	pt, err := enc.DecryptSelf(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), pt)
}

func TestPassphraseEncryptor_Failures(t *testing.T) {
	ctx := context.Background()
	ct, err := NewPassphraseEncryptor("right").EncryptSelf(ctx, []byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name string
		enc  *PassphraseEncryptor
		ct   []byte
	}{
		{"wrong passphrase", NewPassphraseEncryptor("wrong"), ct},
		{"tampered", NewPassphraseEncryptor("right"), append(append([]byte{}, ct[:len(ct)-1]...), ct[len(ct)-1]^0x01)},
		{"too short", NewPassphraseEncryptor("right"), ct[:saltLength+nonceLength]},
		{"empty", NewPassphraseEncryptor("right"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.enc.DecryptSelf(ctx, tt.ct)
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestBaoTransitEncryptor_RoundTrip(t *testing.T) {
	client, _ := setupTestBao(t)
	enc := NewBaoTransitEncryptor(client, "escrow")
	ctx := context.Background()

	ct, err := enc.EncryptSelf(ctx, []byte("secret"))
	require.NoError(t, err)
	pt, err := enc.DecryptSelf(ctx, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), pt)

	_, err = enc.DecryptSelf(ctx, nil)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}
