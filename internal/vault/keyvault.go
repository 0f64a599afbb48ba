package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// userKeySize is the size, in bytes, of a freshly generated per-user
// symmetric key.
const userKeySize = 32

// nonceSize is the GCM nonce size.
const nonceSize = 12

// KeyVault holds the process-wide MasterKey and issues per-user Ciphers.
// It is created once at startup from configuration and is immutable
// thereafter; no other mutable shared state exists in this package.
type KeyVault struct {
	masterKey []byte
}

// NewKeyVault resolves keyRef (see Vault.ResolveKeyRef) to a 32-byte master
// key and constructs a KeyVault. It fails fast: an absent, malformed, or
// wrong-length key is an error here rather than a deferred runtime failure.
func NewKeyVault(keyRef string) (*KeyVault, error) {
	v := New()
	secret, err := v.ResolveKeyRef(keyRef)
	if err != nil {
		return nil, fmt.Errorf("vault: resolving master key: %w", err)
	}
	key, err := decodeKey(secret)
	if err != nil {
		return nil, fmt.Errorf("vault: master key: %w", err)
	}
	return &KeyVault{masterKey: key}, nil
}

// NewKeyVaultFromBytes constructs a KeyVault directly from a 32-byte key,
// bypassing secret resolution. Used by tests and by callers that already
// hold the raw key material.
func NewKeyVaultFromBytes(key []byte) (*KeyVault, error) {
	if len(key) != userKeySize {
		return nil, fmt.Errorf("vault: master key must be %d bytes, got %d", userKeySize, len(key))
	}
	cp := make([]byte, userKeySize)
	copy(cp, key)
	return &KeyVault{masterKey: cp}, nil
}

// decodeKey accepts either a raw 32-byte string or a base64 (standard or
// URL-safe) encoding of 32 bytes.
func decodeKey(secret string) ([]byte, error) {
	if len(secret) == userKeySize {
		return []byte(secret), nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(secret); err == nil && len(decoded) == userKeySize {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("expected %d raw bytes or a base64 encoding of %d bytes, got %d-byte string", userKeySize, userKeySize, len(secret))
}

// MasterCipher returns the Cipher backed directly by the master key. Used
// to produce/consume the "master-encrypted" half of a provenance stamp.
func (kv *KeyVault) MasterCipher() *Cipher {
	return &Cipher{key: kv.masterKey}
}

// GenerateUserKey produces a fresh 32-byte symmetric key for a new user and
// returns it encrypted under the master key (the EncryptedUserKey persisted
// in users.security_key). The raw key itself is never returned or
// persisted in cleartext.
func (kv *KeyVault) GenerateUserKey() (encryptedUserKey string, err error) {
	raw := make([]byte, userKeySize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("vault: generating user key: %w", err)
	}
	defer zero(raw)
	return kv.MasterCipher().Encrypt(string(raw))
}

// UserCipher decrypts an EncryptedUserKey under the master key and returns
// an authenticated-encryption handle scoped to that user. A malformed or
// tampered EncryptedUserKey is a Fatal error (§7) — unlike token decrypt,
// this is not a "⊥ is a normal signal" path, since EncryptedUserKey is our
// own persisted data, not attacker-supplied input.
func (kv *KeyVault) UserCipher(encryptedUserKey string) (*Cipher, error) {
	raw, ok := kv.MasterCipher().Decrypt(encryptedUserKey)
	if !ok {
		return nil, fmt.Errorf("vault: stored user key is invalid or corrupted")
	}
	if len(raw) != userKeySize {
		return nil, fmt.Errorf("vault: stored user key has wrong length %d", len(raw))
	}
	return &Cipher{key: []byte(raw)}, nil
}

// Cipher is an authenticated-encryption handle over a single 32-byte key
// (either the master key or a decrypted per-user key).
type Cipher struct {
	key []byte
}

// Encrypt authenticated-encrypts plaintext and returns a URL-safe base64
// token. The token always ends in exactly one '=' padding character: the
// pre-encoding byte string (nonce ‖ 1-byte pad-count ‖ plaintext ‖
// zero-padding ‖ GCM tag) is length-adjusted so its length in bytes is
// always ≡ 2 (mod 3), which is the case whose base64url encoding ends in
// exactly one trailing '='. MetaStamp relies on this as a
// split marker (see package metastamp).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("vault: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	raw := []byte(plaintext)
	padCount := paddingFor(nonceSize + gcm.Overhead() + 1 + len(raw))
	payload := make([]byte, 0, 1+len(raw)+padCount)
	payload = append(payload, byte(padCount))
	payload = append(payload, raw...)
	payload = append(payload, make([]byte, padCount)...)

	sealed := gcm.Seal(nonce, nonce, payload, nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// paddingFor returns the smallest padCount in [0,2] such that
// (baseLen+padCount) mod 3 == 2, guaranteeing a single trailing '=' once
// base64url-encoded with padding.
func paddingFor(baseLen int) int {
	for pad := 0; pad < 3; pad++ {
		if (baseLen+pad)%3 == 2 {
			return pad
		}
	}
	return 0 // unreachable
}

// Decrypt reverses Encrypt. It returns (plaintext, true) on success, or
// ("", false) if the token is malformed, truncated, or fails authentication
// — per §4.1, this is a normal signal ("⊥"), not an error.
func (c *Cipher) Decrypt(token string) (string, bool) {
	sealed, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	if len(sealed) < nonceSize {
		return "", false
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", false
	}
	if len(sealed) < nonceSize+gcm.Overhead() {
		return "", false
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	payload, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", false
	}
	if len(payload) < 1 {
		return "", false
	}
	padCount := int(payload[0])
	if padCount > len(payload)-1 {
		return "", false
	}
	plain := payload[1 : len(payload)-padCount]
	return string(plain), true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
