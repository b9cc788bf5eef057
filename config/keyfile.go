package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/caldog20/tunrelay/pkg/cipher"
)

type KeyFile struct {
	Cipher string `yaml:"Cipher"`
	Key    string `yaml:"Key"`
}

func DefaultKeyFilePath() string {
	return os.ExpandEnv("$HOME/tunrelay.key")
}

// GenerateKey returns fresh random key material for kind.
func GenerateKey(kind string) (KeyFile, error) {
	kind = strings.ToLower(kind)
	if kind == "" {
		kind = cipher.DefaultKind
	}

	key := make([]byte, cipher.AEADKeySize)
	if _, err := rand.Read(key); err != nil {
		return KeyFile{}, err
	}

	// validates kind and key length together
	if _, err := cipher.New(kind, key); err != nil {
		return KeyFile{}, err
	}

	return KeyFile{Cipher: kind, Key: cipher.EncodeKey(key)}, nil
}

func LoadKeyFile(path string) (KeyFile, error) {
	var kf KeyFile

	f, err := os.Open(path)
	if err != nil {
		return kf, fmt.Errorf("error opening key file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&kf); err != nil {
		return kf, fmt.Errorf("error decoding key file %s: %w", path, err)
	}
	if kf.Key == "" {
		return kf, errors.New("key file has no key")
	}
	return kf, nil
}

// StoreKeyFile writes kf readable by the owner only. An existing file is
// left alone unless overwrite is set.
func StoreKeyFile(path string, kf KeyFile, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(f)
	if err := enc.Encode(kf); err != nil {
		f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
