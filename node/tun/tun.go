// Package tun provides the virtual point-to-point interface the relay reads
// packets from and injects packets into.
package tun

import (
	"errors"
	"fmt"
	"net/netip"
)

const (
	DefaultMTU  = 1500
	MinMTU      = 576
	MaxMTU      = 65535
	DefaultName = "tun0"
)

var ErrInvalidMTU = errors.New("invalid mtu")

// Device is an open tunnel interface. Every Read returns exactly one packet
// and every Write injects exactly one packet.
type Device interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)

	Name() string
	Close() error
	MTU() int
}

// Provider opens tunnel devices. Each Open returns a fresh handle that is
// owned by the caller.
type Provider interface {
	Open() (Device, error)
}

type Options struct {
	// Name is a hint; not every platform honours it.
	Name string
	MTU  int
	// Address is assigned to the interface when valid. Otherwise the
	// interface is left for the operator to configure.
	Address netip.Prefix
}

func (o Options) withDefaults() (Options, error) {
	if o.Name == "" {
		o.Name = DefaultName
	}
	if o.MTU == 0 {
		o.MTU = DefaultMTU
	}
	if o.MTU < MinMTU || o.MTU > MaxMTU {
		return o, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidMTU, o.MTU, MinMTU, MaxMTU)
	}
	return o, nil
}

type provider struct {
	opts Options
}

func NewProvider(opts Options) (Provider, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	return &provider{opts: opts}, nil
}

func (p *provider) Open() (Device, error) {
	dev, err := newDevice(p.opts)
	if err != nil {
		return nil, fmt.Errorf("error creating tun device: %w", err)
	}

	if p.opts.Address.IsValid() {
		if err := configureAddress(dev.Name(), p.opts.MTU, p.opts.Address); err != nil {
			dev.Close()
			return nil, fmt.Errorf("error configuring %s: %w", dev.Name(), err)
		}
	}

	return dev, nil
}
