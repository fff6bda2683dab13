package vault

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/cross-messenger/internal/errs"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestVault_RoundTrip(t *testing.T) {
	v, err := New(testKey(1))
	require.NoError(t, err)

	plain := []byte("1234567890:AAFexample-bot-token")
	ct, err := v.Encrypt(plain)
	require.NoError(t, err)
	require.NotEqual(t, plain, ct)

	got, err := v.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestVault_Encrypt_NonDeterministic(t *testing.T) {
	v, err := New(testKey(1))
	require.NoError(t, err)

	a, err := v.Encrypt([]byte("x"))
	require.NoError(t, err)
	b, err := v.Encrypt([]byte("x"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVault_Decrypt_Tampered(t *testing.T) {
	v, err := New(testKey(1))
	require.NoError(t, err)

	ct, err := v.Encrypt([]byte("session"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xff

	_, err = v.Decrypt(ct)
	require.ErrorIs(t, err, errs.ErrDecryption)
}

func TestVault_Decrypt_WrongKey(t *testing.T) {
	v1, err := New(testKey(1))
	require.NoError(t, err)
	v2, err := New(testKey(2))
	require.NoError(t, err)

	ct, err := v1.Encrypt([]byte("session"))
	require.NoError(t, err)

	_, err = v2.Decrypt(ct)
	require.ErrorIs(t, err, errs.ErrDecryption)
}

func TestVault_Decrypt_TooShort(t *testing.T) {
	v, err := New(testKey(1))
	require.NoError(t, err)

	_, err = v.Decrypt([]byte{1, 2, 3})
	require.ErrorIs(t, err, errs.ErrDecryption)
}

func TestNew_BadKeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)
}
