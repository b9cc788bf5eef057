package cipher

import "fmt"

// XOR is the baseline transform. It is not encryption in any meaningful
// sense; it only hides payload bytes from casual inspection.
type XOR struct {
	key []byte
}

func NewXOR(key []byte) (*XOR, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: xor key must not be empty", ErrKeySize)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &XOR{key: k}, nil
}

// Apply XORs src with the repeating key and appends the result to dst.
// dst may be src[:0] to transform in place.
func (x *XOR) Apply(dst, src []byte) []byte {
	out, tail := grow(dst, len(src))
	klen := len(x.key)
	for i := range src {
		tail[i] = src[i] ^ x.key[i%klen]
	}
	return out
}

func (x *XOR) Seal(dst, plaintext []byte) ([]byte, error) {
	return x.Apply(dst, plaintext), nil
}

func (x *XOR) Open(dst, ciphertext []byte) ([]byte, error) {
	return x.Apply(dst, ciphertext), nil
}

func (x *XOR) Overhead() int {
	return 0
}

func (x *XOR) Name() string {
	return KindXOR
}
