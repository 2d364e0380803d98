package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"
)

const (
	tokenPrefix  = "enc:v1:"
	kindString   = "s"
	kindJSON     = "j"
	keySize      = 32
	defaultSalt  = "isectech-siem-logging"
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// SensitiveFields are detail keys whose values are encrypted before a record
// is written. Matching is case-insensitive and exact.
var SensitiveFields = []string{"password", "token", "secret", "key", "ssn", "creditCard"}

var sensitiveLookup = func() map[string]struct{} {
	m := make(map[string]struct{}, len(SensitiveFields))
	for _, f := range SensitiveFields {
		m[strings.ToLower(f)] = struct{}{}
	}
	return m
}()

// ErrInvalidToken is returned when a value is not an encrypted token
var ErrInvalidToken = errors.New("value is not an encrypted token")

// FieldConfig configures the process-wide field key
type FieldConfig struct {
	// Key is either 64 hex characters (raw AES-256 key) or a passphrase
	// that is stretched with argon2id using Salt.
	Key  string `json:"-" yaml:"key" mapstructure:"key"`
	Salt string `json:"-" yaml:"salt" mapstructure:"salt"`
}

// FieldEncryptor encrypts individual values with AES-256-GCM. The key is
// read-only after construction so the encryptor is safe for concurrent use.
type FieldEncryptor struct {
	aead      cipher.AEAD
	ephemeral bool
}

// NewFieldEncryptor builds an encryptor from configuration. Without key
// material a random key is generated; such data cannot be decrypted after a
// restart and Ephemeral reports true.
func NewFieldEncryptor(config FieldConfig, logger *zap.Logger) (*FieldEncryptor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	key, ephemeral, err := resolveKey(config)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if ephemeral {
		logger.Warn("No encryption key configured, generated ephemeral key; encrypted fields will be unrecoverable after restart")
	}

	return &FieldEncryptor{aead: aead, ephemeral: ephemeral}, nil
}

func resolveKey(config FieldConfig) ([]byte, bool, error) {
	material := strings.TrimSpace(config.Key)
	if material == "" {
		key := make([]byte, keySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, false, fmt.Errorf("failed to generate key: %w", err)
		}
		return key, true, nil
	}

	if len(material) == keySize*2 {
		if key, err := hex.DecodeString(material); err == nil {
			return key, false, nil
		}
	}

	salt := config.Salt
	if salt == "" {
		salt = defaultSalt
	}
	return argon2.IDKey([]byte(material), []byte(salt), argonTime, argonMemory, argonThreads, keySize), false, nil
}

// Ephemeral reports whether the key was generated at startup
func (e *FieldEncryptor) Ephemeral() bool {
	return e.ephemeral
}

// Encrypt seals plaintext under a fresh nonce. The nonce travels in the token
// so every value is independently decryptable.
func (e *FieldEncryptor) Encrypt(plaintext []byte) (string, error) {
	return e.seal(kindString, plaintext)
}

// Decrypt opens a token produced by Encrypt or EncryptValue
func (e *FieldEncryptor) Decrypt(token string) ([]byte, error) {
	_, plaintext, err := e.open(token)
	return plaintext, err
}

// EncryptValue encrypts strings as-is and everything else as JSON
func (e *FieldEncryptor) EncryptValue(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return e.seal(kindString, []byte(s))
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return e.seal(kindJSON, data)
}

// DecryptValue reverses EncryptValue
func (e *FieldEncryptor) DecryptValue(token string) (interface{}, error) {
	kind, plaintext, err := e.open(token)
	if err != nil {
		return nil, err
	}
	if kind == kindString {
		return string(plaintext), nil
	}

	var v interface{}
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return v, nil
}

// Redact returns a copy of details with every sensitive value replaced by an
// encrypted token. Nested maps are walked. Only values that decrypt under
// this key are left untouched; anything else carrying the token prefix is
// encrypted like any other plaintext.
func (e *FieldEncryptor) Redact(details map[string]interface{}) (map[string]interface{}, error) {
	if details == nil {
		return map[string]interface{}{}, nil
	}

	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if nested, ok := v.(map[string]interface{}); ok {
			redacted, err := e.Redact(nested)
			if err != nil {
				return nil, err
			}
			if !IsSensitiveField(k) {
				out[k] = redacted
				continue
			}
		}

		if !IsSensitiveField(k) || v == nil {
			out[k] = v
			continue
		}
		if s, ok := v.(string); ok && e.sealedByKey(s) {
			out[k] = s
			continue
		}

		token, err := e.EncryptValue(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt field %q: %w", k, err)
		}
		out[k] = token
	}
	return out, nil
}

// IsSensitiveField reports whether a detail key must be encrypted
func IsSensitiveField(name string) bool {
	_, ok := sensitiveLookup[strings.ToLower(name)]
	return ok
}

func (e *FieldEncryptor) sealedByKey(s string) bool {
	if !IsToken(s) {
		return false
	}
	_, _, err := e.open(s)
	return err == nil
}

// IsToken reports whether s looks like an encrypted token
func IsToken(s string) bool {
	return strings.HasPrefix(s, tokenPrefix)
}

func (e *FieldEncryptor) seal(kind string, plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nil, nonce, plaintext, []byte(kind))
	return tokenPrefix + kind + ":" + hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext), nil
}

func (e *FieldEncryptor) open(token string) (string, []byte, error) {
	if !IsToken(token) {
		return "", nil, ErrInvalidToken
	}

	parts := strings.Split(strings.TrimPrefix(token, tokenPrefix), ":")
	if len(parts) != 3 || (parts[0] != kindString && parts[0] != kindJSON) {
		return "", nil, ErrInvalidToken
	}

	nonce, err := hex.DecodeString(parts[1])
	if err != nil || len(nonce) != e.aead.NonceSize() {
		return "", nil, ErrInvalidToken
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", nil, ErrInvalidToken
	}

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, []byte(parts[0]))
	if err != nil {
		return "", nil, fmt.Errorf("failed to decrypt value: %w", err)
	}
	return parts[0], plaintext, nil
}
