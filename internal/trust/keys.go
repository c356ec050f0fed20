package trust

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Fingerprint is a stable hash of a 32-byte Ed25519 public key, per §4.6
// ("Fingerprint ≡ a stable hash of the 32-byte public key").
func Fingerprint(publicKey [32]byte) string {
	sum := sha256.Sum256(publicKey[:])
	return hex.EncodeToString(sum[:])
}

// deriveAESKey stretches an operator-supplied master key into a 32-byte
// AES-256 key via HKDF-SHA256, grounded on the AES-256-GCM envelope pattern
// in the example pack's security.EncryptFile/DecryptFile but replacing its
// bare sha256.Sum256(password) with HKDF so the same master key can be
// reused across many signing keys without key-reuse concerns.
func deriveAESKey(masterKey []byte, fingerprint string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, masterKey, []byte(fingerprint), []byte("fluxion-signing-key"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// GenerateEd25519KeyPair creates a fresh Ed25519 keypair for a new signing key.
func GenerateEd25519KeyPair() (publicKey [32]byte, privateKey ed25519.PrivateKey, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return publicKey, nil, err
	}
	copy(publicKey[:], pub)
	return publicKey, priv, nil
}

// EncryptPrivateKey seals priv under masterKey with AES-256-GCM, keyed by
// a per-key derivation over the key's fingerprint so two signing keys never
// share a derived AES key even under the same master key.
func EncryptPrivateKey(priv ed25519.PrivateKey, masterKey []byte, fingerprint string) ([]byte, error) {
	key, err := deriveAESKey(masterKey, fingerprint)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, priv, nil), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey. Any failure (wrong master
// key, truncated ciphertext, corrupted data) surfaces as KindDecryption per
// §4.6's "any decryption error surfaces as KeyError::Decryption".
func DecryptPrivateKey(sealed []byte, masterKey []byte, fingerprint string) (ed25519.PrivateKey, error) {
	key, err := deriveAESKey(masterKey, fingerprint)
	if err != nil {
		return nil, errDecryption("derive key: " + err.Error())
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errDecryption(err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errDecryption(err.Error())
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, errDecryption("ciphertext shorter than nonce")
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errDecryption(err.Error())
	}
	return ed25519.PrivateKey(plain), nil
}
