package encryption

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testHexKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestEncryptor(t *testing.T, key string) *FieldEncryptor {
	t.Helper()
	enc, err := NewFieldEncryptor(FieldConfig{Key: key}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return enc
}

func TestRedact_PasswordRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t, testHexKey)

	out, err := enc.Redact(map[string]interface{}{
		"password": "hunter2",
		"username": "alice",
	})
	require.NoError(t, err)

	token, ok := out["password"].(string)
	require.True(t, ok)
	assert.NotEqual(t, "hunter2", token)
	assert.True(t, IsToken(token))
	assert.Equal(t, "alice", out["username"])

	// a second encryptor with the same key material decrypts independently
	other := newTestEncryptor(t, testHexKey)
	plain, err := other.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plain))
}

func TestRedact_CaseInsensitiveExactMatch(t *testing.T) {
	enc := newTestEncryptor(t, "correct horse battery staple")

	out, err := enc.Redact(map[string]interface{}{
		"PassWord":   "a",
		"CREDITCARD": "4111111111111111",
		"apiKey":     "not matched",
		"keys":       "not matched",
		"SSN":        123456789,
	})
	require.NoError(t, err)

	assert.True(t, IsToken(out["PassWord"].(string)))
	assert.True(t, IsToken(out["CREDITCARD"].(string)))
	assert.Equal(t, "not matched", out["apiKey"])
	assert.Equal(t, "not matched", out["keys"])

	ssn, err := enc.DecryptValue(out["SSN"].(string))
	require.NoError(t, err)
	assert.EqualValues(t, 123456789, ssn)
}

func TestRedact_NestedAndIdempotent(t *testing.T) {
	enc := newTestEncryptor(t, testHexKey)

	in := map[string]interface{}{
		"request": map[string]interface{}{"token": "abc"},
		"secret":  map[string]interface{}{"inner": 1},
	}
	once, err := enc.Redact(in)
	require.NoError(t, err)
	twice, err := enc.Redact(once)
	require.NoError(t, err)

	nested := once["request"].(map[string]interface{})
	assert.True(t, IsToken(nested["token"].(string)))
	assert.Equal(t, nested["token"], twice["request"].(map[string]interface{})["token"])
	assert.Equal(t, once["secret"], twice["secret"])
	assert.Equal(t, "abc", in["request"].(map[string]interface{})["token"])

	secret, err := enc.DecryptValue(once["secret"].(string))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"inner": float64(1)}, secret)
}

func TestRedact_PrefixedPlaintextIsEncrypted(t *testing.T) {
	enc := newTestEncryptor(t, testHexKey)

	foreign, err := newTestEncryptor(t, strings.Repeat("ff", 32)).Encrypt([]byte("hunter2"))
	require.NoError(t, err)

	out, err := enc.Redact(map[string]interface{}{
		"password": tokenPrefix + "hunter2",
		"token":    foreign,
	})
	require.NoError(t, err)

	password := out["password"].(string)
	assert.NotEqual(t, tokenPrefix+"hunter2", password)
	plain, err := enc.Decrypt(password)
	require.NoError(t, err)
	assert.Equal(t, tokenPrefix+"hunter2", string(plain))

	token := out["token"].(string)
	assert.NotEqual(t, foreign, token)
	plain, err = enc.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, foreign, string(plain))
}

func TestEncrypt_FreshNoncePerValue(t *testing.T) {
	enc := newTestEncryptor(t, testHexKey)
	a, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := enc.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_WrongKeyAndGarbage(t *testing.T) {
	enc := newTestEncryptor(t, testHexKey)
	token, err := enc.Encrypt([]byte("payload"))
	require.NoError(t, err)

	other := newTestEncryptor(t, strings.Repeat("ff", 32))
	_, err = other.Decrypt(token)
	assert.Error(t, err)

	_, err = enc.Decrypt("plaintext")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = enc.Decrypt(tokenPrefix + "s:zz:00")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewFieldEncryptor_Ephemeral(t *testing.T) {
	enc := newTestEncryptor(t, "")
	assert.True(t, enc.Ephemeral())
	assert.False(t, newTestEncryptor(t, testHexKey).Ephemeral())
}
