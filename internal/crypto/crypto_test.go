package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	v, err := New(key)
	require.NoError(t, err)

	ct, err := v.EncryptToString("gym-password-123")
	require.NoError(t, err)
	assert.NotEqual(t, "gym-password-123", ct)

	pt, err := v.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "gym-password-123", pt)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	key := make([]byte, 32)
	v, err := New(key)
	require.NoError(t, err)

	a, err := v.EncryptToString("same")
	require.NoError(t, err)
	b, err := v.EncryptToString("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 32)
	v, err := New(key)
	require.NoError(t, err)

	ct, err := v.EncryptToString("secret")
	require.NoError(t, err)

	tampered := []byte(ct)
	tampered[len(tampered)-1] ^= 'x'
	_, err = v.DecryptString(string(tampered))
	assert.Error(t, err)

	_, err = v.DecryptString("too-short")
	assert.Error(t, err)
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey("passphrase", "vault-salt")
	require.NoError(t, err)
	assert.Len(t, k1, 32)

	k2, err := DeriveKey("passphrase", "vault-salt")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("other", "vault-salt")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey("", "vault-salt")
	assert.Error(t, err)
	_, err = DeriveKey("passphrase", "short")
	assert.Error(t, err)
}
