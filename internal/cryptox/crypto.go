// Package cryptox seals face templates at rest.
//
// Each template gets its own random salt; the AES-256 key is derived from
// the server master key with PBKDF2-HMAC-SHA512 and used once with a random
// 12-byte GCM nonce. The face vector is JSON encoded before sealing.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/facegate/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize         = 32
	KeySize          = 32
	NonceSize        = 12
	TagSize          = 16
	PBKDF2Iterations = 100_000
)

var ErrEmptyMasterKey = errors.New("empty master key")

// Sealed is an encrypted face vector together with the values needed to
// open it again.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	AuthTag    []byte
	Salt       []byte
}

// DeriveTemplateKey stretches masterKey with the per-template salt.
func DeriveTemplateKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, PBKDF2Iterations, KeySize, sha512.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

// EncryptTemplate seals vector under a key derived from masterKey.
// A fresh salt and nonce are drawn for every call, so encrypting the same
// vector twice yields unrelated outputs.
func EncryptTemplate(vector []float64, masterKey []byte) (*Sealed, error) {
	if len(masterKey) == 0 {
		return nil, ErrEmptyMasterKey
	}

	plaintext, err := json.Marshal(vector)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	salt := common.GenerateRandByteArray(SaltSize)
	key := DeriveTemplateKey(masterKey, salt)
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(NonceSize)
	out := aead.Seal(nil, nonce, plaintext, nil)
	split := len(out) - aead.Overhead()

	return &Sealed{
		Ciphertext: out[:split],
		AuthTag:    out[split:],
		IV:         nonce,
		Salt:       salt,
	}, nil
}

// DecryptTemplate opens s with a key derived from masterKey. Any failure,
// including a tag mismatch, is reported as common.ErrDecryptionFailed.
func DecryptTemplate(s *Sealed, masterKey []byte) ([]float64, error) {
	if s == nil || len(masterKey) == 0 {
		return nil, common.ErrDecryptionFailed
	}
	if len(s.IV) != NonceSize || len(s.AuthTag) != TagSize || len(s.Salt) == 0 {
		return nil, fmt.Errorf("%w: malformed envelope", common.ErrDecryptionFailed)
	}

	key := DeriveTemplateKey(masterKey, s.Salt)
	defer common.WipeByteArray(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailed, err)
	}

	buf := make([]byte, 0, len(s.Ciphertext)+len(s.AuthTag))
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.AuthTag...)

	plaintext, err := aead.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptionFailed, err)
	}
	defer common.WipeByteArray(plaintext)

	var vector []float64
	if err := json.Unmarshal(plaintext, &vector); err != nil {
		return nil, fmt.Errorf("%w: payload is not a vector", common.ErrDecryptionFailed)
	}
	return vector, nil
}
