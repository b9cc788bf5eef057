// Package config holds the process configuration shared by the server and
// client roles. Values come from defaults, then an optional YAML file, then
// command line flags.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/caldog20/tunrelay/node/conn"
	"github.com/caldog20/tunrelay/node/tun"
	"github.com/caldog20/tunrelay/pkg/cipher"
	"github.com/caldog20/tunrelay/pkg/frame"
	"github.com/caldog20/tunrelay/relay"
)

const DefaultDialTimeout = 10 * time.Second

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Listen string `yaml:"Listen"`
	Port   uint16 `yaml:"Port"`

	Cipher  string `yaml:"Cipher"`
	Key     string `yaml:"Key"`
	KeyFile string `yaml:"KeyFile"`

	TunName string `yaml:"TunName"`
	TunAddr string `yaml:"TunAddr"`
	MTU     int    `yaml:"MTU"`

	// MaxFrame is the largest frame accepted from the peer. Zero derives it
	// from the MTU and the cipher overhead.
	MaxFrame int `yaml:"MaxFrame"`

	Mode        string        `yaml:"Mode"`
	IdleTimeout time.Duration `yaml:"IdleTimeout"`
	DialTimeout time.Duration `yaml:"DialTimeout"`
	Persist     bool          `yaml:"Persist"`

	Debug bool `yaml:"Debug"`
}

func Default() Config {
	return Config{
		Port:        conn.DefaultPort,
		TunName:     tun.DefaultName,
		MTU:         tun.DefaultMTU,
		Mode:        string(relay.ModeConcurrent),
		DialTimeout: DefaultDialTimeout,
	}
}

// Load reads path over the defaults. Unknown keys are rejected so a typo in
// the file does not silently fall back to a default.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("error decoding config file %s: %w", path, err)
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port == 0 {
		return fmt.Errorf("%w: port must not be 0", ErrInvalid)
	}
	if c.Cipher != "" && !slices.Contains(cipher.Kinds(), strings.ToLower(c.Cipher)) {
		return fmt.Errorf("%w: cipher %q, expected one of %s", ErrInvalid, c.Cipher, strings.Join(cipher.Kinds(), ", "))
	}
	switch relay.Mode(c.Mode) {
	case "", relay.ModeConcurrent, relay.ModeMultiplexed:
	default:
		return fmt.Errorf("%w: mode %q", ErrInvalid, c.Mode)
	}
	if c.MTU != 0 && (c.MTU < tun.MinMTU || c.MTU > tun.MaxMTU) {
		return fmt.Errorf("%w: mtu %d not in [%d, %d]", ErrInvalid, c.MTU, tun.MinMTU, tun.MaxMTU)
	}
	if c.MaxFrame < 0 || c.MaxFrame > frame.MaxPacketSize {
		return fmt.Errorf("%w: max frame %d not in [0, %d]", ErrInvalid, c.MaxFrame, frame.MaxPacketSize)
	}
	if c.IdleTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalid)
	}
	if c.Key != "" && c.KeyFile != "" {
		return fmt.Errorf("%w: key and key file are mutually exclusive", ErrInvalid)
	}
	if _, err := c.tunPrefix(); err != nil {
		return err
	}
	return nil
}

func (c Config) ListenAddr() string {
	return conn.ListenAddr(c.Listen, c.Port)
}

func (c Config) tunPrefix() (netip.Prefix, error) {
	if c.TunAddr == "" {
		return netip.Prefix{}, nil
	}
	p, err := netip.ParsePrefix(c.TunAddr)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: tun address: %w", ErrInvalid, err)
	}
	return p, nil
}

func (c Config) TunOptions() (tun.Options, error) {
	prefix, err := c.tunPrefix()
	if err != nil {
		return tun.Options{}, err
	}
	return tun.Options{Name: c.TunName, MTU: c.MTU, Address: prefix}, nil
}

// NewCipher resolves the key material and builds the packet cipher. An
// inline key wins over a key file; with neither, the xor cipher falls back to
// the built in single byte key and the AEAD ciphers refuse to start.
func (c Config) NewCipher() (cipher.Cipher, error) {
	kind := c.Cipher
	keyText := c.Key

	if c.KeyFile != "" {
		kf, err := LoadKeyFile(c.KeyFile)
		if err != nil {
			return nil, err
		}
		if kind != "" && kf.Cipher != "" && !strings.EqualFold(kind, kf.Cipher) {
			return nil, fmt.Errorf("%w: cipher %s does not match key file cipher %s", ErrInvalid, kind, kf.Cipher)
		}
		if kind == "" {
			kind = kf.Cipher
		}
		keyText = kf.Key
	}

	if kind == "" {
		kind = cipher.DefaultKind
	}

	var key []byte
	switch {
	case keyText != "":
		k, err := cipher.DecodeKey(keyText)
		if err != nil {
			return nil, err
		}
		key = k
	case strings.EqualFold(kind, cipher.KindXOR):
		key = []byte{cipher.DefaultXORKey}
	default:
		return nil, fmt.Errorf("%w: cipher %s needs a key, generate one with keygen", ErrInvalid, kind)
	}

	return cipher.New(kind, key)
}

// SessionOptions builds the relay options for both roles.
func (c Config) SessionOptions(log *logrus.Entry) (relay.Options, error) {
	ciph, err := c.NewCipher()
	if err != nil {
		return relay.Options{}, err
	}
	return relay.Options{
		Cipher:      ciph,
		Mode:        relay.Mode(c.Mode),
		IdleTimeout: c.IdleTimeout,
		MaxFrame:    c.maxFrame(ciph),
		Logger:      log,
	}, nil
}

// maxFrame bounds inbound frames to what a peer with the same MTU and cipher
// can produce, so a corrupted length prefix is caught as a desync.
func (c Config) maxFrame(ciph cipher.Cipher) int {
	if c.MaxFrame > 0 {
		return c.MaxFrame
	}
	mtu := c.MTU
	if mtu == 0 {
		mtu = tun.DefaultMTU
	}
	return min(mtu+ciph.Overhead(), frame.MaxPacketSize)
}
