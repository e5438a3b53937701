// Package keycodec generates symmetric key material and bearer tokens, computes the
// content address anchored on the ledger, and seals keys for storage.
package keycodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const (
	MinSize = 16

	atRestKeySize = 32
	hkdfInfo      = "credential-key-at-rest/v1"
)

var (
	ErrSizeTooSmall      = fmt.Errorf("keycodec: size must be at least %d bytes", MinSize)
	ErrInvalidCiphertext = errors.New("keycodec: invalid ciphertext")
)

// Codec holds the derived at-rest key. It is safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives an AES-256 key from secret with HKDF-SHA256.
func New(secret []byte) (*Codec, error) {
	if len(secret) < MinSize {
		return nil, fmt.Errorf("keycodec: secret must be at least %d bytes", MinSize)
	}

	key := make([]byte, atRestKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive at-rest key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher init: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}

	return &Codec{aead: aead, rand: rand.Reader}, nil
}

// GenerateKey returns size random bytes.
func (c *Codec) GenerateKey(size int) ([]byte, error) {
	if size < MinSize {
		return nil, ErrSizeTooSmall
	}
	key := make([]byte, size)
	if _, err := io.ReadFull(c.rand, key); err != nil {
		return nil, fmt.Errorf("read random key: %w", err)
	}
	return key, nil
}

// GenerateToken returns a base64url (unpadded) encoding of size random bytes.
func (c *Codec) GenerateToken(size int) (string, error) {
	b, err := c.GenerateKey(size)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash is the 0x-prefixed keccak256 of key, the same form the registry contract
// stores as bytes32.
func Hash(key []byte) string {
	return hexutil.Encode(crypto.Keccak256(key))
}

// Encode seals key as base64(nonce || ciphertext).
func (c *Codec) Encode(key []byte) (string, error) {
	if len(key) == 0 {
		return "", errors.New("keycodec: empty key")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("nonce gen: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, key, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Codec) Decode(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(data) <= nonceSize {
		return nil, ErrInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return plain, nil
}
