// Package cipher holds the packet transforms applied between the tunnel
// interface and the transport stream.
//
// The relay calls Seal on every packet it sends and Open on every packet it
// receives. The baseline XOR transform is an involution so Seal and Open are
// the same operation; the AEAD ciphers add a nonce and tag and are not length
// preserving.
package cipher

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	KindXOR       = "xor"
	KindXChaCha   = "xchacha20poly1305"
	KindAESGCM    = "aesgcm"
	DefaultKind   = KindXOR
	AEADKeySize   = 32
	DefaultXORKey = 0x42
)

var (
	ErrUnknownKind = errors.New("unknown cipher")
	ErrKeySize     = errors.New("invalid key size")
	ErrShortInput  = errors.New("ciphertext too short")
	ErrAuth        = errors.New("message authentication failed")
)

type Cipher interface {
	// Seal appends the transformed plaintext to dst.
	Seal(dst, plaintext []byte) ([]byte, error)
	// Open appends the recovered plaintext to dst.
	Open(dst, ciphertext []byte) ([]byte, error)
	// Overhead is the number of bytes Seal adds to a packet.
	Overhead() int
	Name() string
}

// New returns the cipher called kind keyed with key.
func New(kind string, key []byte) (Cipher, error) {
	switch strings.ToLower(kind) {
	case "", KindXOR:
		return NewXOR(key)
	case KindXChaCha:
		return NewXChaCha(key)
	case KindAESGCM:
		return NewAESGCM(key)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Kinds lists the names accepted by New.
func Kinds() []string {
	return []string{KindXOR, KindXChaCha, KindAESGCM}
}

// DecodeKey parses key material written either as hex with a 0x prefix
// ("0x42") or as standard base64.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrKeySize)
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		h := s[2:]
		if len(h)%2 == 1 {
			h = "0" + h
		}
		key, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("error decoding hex key: %w", err)
		}
		return key, nil
	}

	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 key: %w", err)
	}
	return key, nil
}

// EncodeKey is the inverse of DecodeKey for base64 output.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

func grow(dst []byte, n int) ([]byte, []byte) {
	total := len(dst) + n
	if cap(dst) < total {
		out := make([]byte, total)
		copy(out, dst)
		return out, out[len(dst):]
	}
	out := dst[:total]
	return out, out[len(dst):]
}
