// Package secret implements the credential-at-rest boundary.
//
// The envelope layout is fixed wire format shared with any other component
// that stores credentials: base64(salt[16] || nonce[12] || AES-256-GCM
// ciphertext), with the key derived from the configured passphrase via
// scrypt(N=32768, r=8, p=1).
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	saltLen  = 16
	nonceLen = 12
	keyLen   = 32

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var (
	// ErrNoPassphrase is returned when encryption is requested but no
	// passphrase was configured.
	ErrNoPassphrase = errors.New("secret: no encryption passphrase configured")

	// ErrInvalidEnvelope is returned for envelopes that are truncated,
	// not base64, or fail authentication.
	ErrInvalidEnvelope = errors.New("secret: invalid envelope")
)

// Encryptor encrypts and decrypts credential secrets.
type Encryptor struct {
	passphrase []byte
}

// NewEncryptor creates an Encryptor from a passphrase. An empty passphrase
// yields an Encryptor that refuses to encrypt or decrypt.
func NewEncryptor(passphrase string) *Encryptor {
	return &Encryptor{passphrase: []byte(passphrase)}
}

// Encrypt seals plaintext into a base64 envelope with a fresh salt and nonce.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if len(e.passphrase) == 0 {
		return "", ErrNoPassphrase
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	aead, err := e.aead(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := make([]byte, 0, saltLen+nonceLen+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64 envelope produced by Encrypt (or by any other
// component honoring the same layout).
func (e *Encryptor) Decrypt(envelope string) (string, error) {
	if len(e.passphrase) == 0 {
		return "", ErrNoPassphrase
	}

	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	if len(raw) < saltLen+nonceLen {
		return "", ErrInvalidEnvelope
	}

	salt := raw[:saltLen]
	nonce := raw[saltLen : saltLen+nonceLen]
	ciphertext := raw[saltLen+nonceLen:]

	aead, err := e.aead(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	return string(plaintext), nil
}

func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key, err := scrypt.Key(e.passphrase, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
