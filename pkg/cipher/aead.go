package cipher

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/chacha20poly1305"
)

// XChaCha seals each packet with XChaCha20-Poly1305 under a random nonce
// carried in front of the ciphertext. It keeps no state between calls.
type XChaCha struct {
	aead cipher.AEAD
}

func NewXChaCha(key []byte) (*XChaCha, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrKeySize, KindXChaCha, chacha20poly1305.KeySize, len(key))
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &XChaCha{aead: aead}, nil
}

func (c *XChaCha) Seal(dst, plaintext []byte) ([]byte, error) {
	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("error generating nonce: %w", err)
	}

	out := append(dst, nonce[:]...)
	return c.aead.Seal(out, nonce[:], plaintext, nil), nil
}

func (c *XChaCha) Open(dst, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < c.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortInput, len(ciphertext))
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	out, err := c.aead.Open(dst, nonce, ciphertext[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return out, nil
}

func (c *XChaCha) Overhead() int {
	return chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
}

func (c *XChaCha) Name() string {
	return KindXChaCha
}

const (
	nonceLen  = 8
	gcmTagLen = 16
)

// AESGCM uses the Noise AES-GCM cipher function. Both ends of a tunnel share
// one static key, so the 64-bit nonce is drawn at random for every packet and
// carried in front of the ciphertext. Random 64-bit nonces are expected to
// collide after about 2^32 packets under one key; rotate the key well before
// that. Like XChaCha it keeps no state between calls, and it does not detect
// replayed packets.
type AESGCM struct {
	c noise.Cipher
}

func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != AEADKeySize {
		return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrKeySize, KindAESGCM, AEADKeySize, len(key))
	}

	var k [AEADKeySize]byte
	copy(k[:], key)
	return &AESGCM{c: noise.CipherAESGCM.Cipher(k)}, nil
}

func randomNonce() (uint64, error) {
	var b [nonceLen]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("error generating nonce: %w", err)
		}
		// math.MaxUint64 is reserved by noise for rekeying
		if n := binary.BigEndian.Uint64(b[:]); n != ^uint64(0) {
			return n, nil
		}
	}
}

func (a *AESGCM) Seal(dst, plaintext []byte) ([]byte, error) {
	n, err := randomNonce()
	if err != nil {
		return nil, err
	}

	out := binary.BigEndian.AppendUint64(dst, n)
	return a.c.Encrypt(out, n, nil, plaintext), nil
}

func (a *AESGCM) Open(dst, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < a.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortInput, len(ciphertext))
	}

	n := binary.BigEndian.Uint64(ciphertext[:nonceLen])
	out, err := a.c.Decrypt(dst, n, nil, ciphertext[nonceLen:])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	return out, nil
}

func (a *AESGCM) Overhead() int {
	return nonceLen + gcmTagLen
}

func (a *AESGCM) Name() string {
	return KindAESGCM
}
