//go:build windows

// Ring handling follows wireguard-go's wintun tunnel implementation
// https://github.com/WireGuard/wireguard-go/blob/master/tun/tun_windows.go
// which has the license
// /* SPDX-License-Identifier: MIT
//  *
//  * Copyright (C) 2017-2023 WireGuard LLC. All Rights Reserved.
//  */

package tun

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"
	"golang.zx2c4.com/wintun"
	"golang.zx2c4.com/wireguard/windows/tunnel/winipcfg"
)

const (
	wintunTunnelType = "TunRelay"
	ringCapacity     = 0x800000 // 8MiB
)

var (
	adaptersMu sync.Mutex
	adapters   = map[string]*wintun.Adapter{}
)

type WinTun struct {
	name     string
	mtu      int
	adapter  *wintun.Adapter
	session  wintun.Session
	readWait windows.Handle

	closed    atomic.Bool
	closeOnce sync.Once
	inflight  sync.WaitGroup
}

func newDevice(opts Options) (Device, error) {
	adapter, err := wintun.CreateAdapter(opts.Name, wintunTunnelType, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating wintun adapter: %w", err)
	}

	session, err := adapter.StartSession(ringCapacity)
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("error starting wintun session: %w", err)
	}

	adaptersMu.Lock()
	adapters[opts.Name] = adapter
	adaptersMu.Unlock()

	return &WinTun{
		name:     opts.Name,
		mtu:      opts.MTU,
		adapter:  adapter,
		session:  session,
		readWait: session.ReadWaitEvent(),
	}, nil
}

func (t *WinTun) Name() string {
	return t.name
}

func (t *WinTun) MTU() int {
	return t.mtu
}

func (t *WinTun) Read(b []byte) (int, error) {
	t.inflight.Add(1)
	defer t.inflight.Done()

	for {
		if t.closed.Load() {
			return 0, os.ErrClosed
		}

		packet, err := t.session.ReceivePacket()
		switch err {
		case nil:
			n := copy(b, packet)
			t.session.ReleaseReceivePacket(packet)
			return n, nil
		case windows.ERROR_NO_MORE_ITEMS:
			windows.WaitForSingleObject(t.readWait, windows.INFINITE)
		case windows.ERROR_HANDLE_EOF:
			return 0, os.ErrClosed
		case windows.ERROR_INVALID_DATA:
			return 0, errors.New("wintun ring corrupted")
		default:
			return 0, fmt.Errorf("wintun read failed: %w", err)
		}
	}
}

// Write is only called by the single relay writer so no lock is taken.
func (t *WinTun) Write(b []byte) (int, error) {
	t.inflight.Add(1)
	defer t.inflight.Done()

	if t.closed.Load() {
		return 0, os.ErrClosed
	}

	packet, err := t.session.AllocateSendPacket(len(b))
	switch err {
	case nil:
		copy(packet, b)
		t.session.SendPacket(packet)
		return len(b), nil
	case windows.ERROR_HANDLE_EOF:
		return 0, os.ErrClosed
	case windows.ERROR_BUFFER_OVERFLOW:
		return 0, errors.New("wintun send ring full")
	default:
		return 0, fmt.Errorf("wintun write failed: %w", err)
	}
}

func (t *WinTun) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		windows.SetEvent(t.readWait)
		t.inflight.Wait()
		t.session.End()

		adaptersMu.Lock()
		delete(adapters, t.name)
		adaptersMu.Unlock()
		err = t.adapter.Close()
	})
	return err
}

func configureAddress(name string, _ int, addr netip.Prefix) error {
	adaptersMu.Lock()
	adapter, ok := adapters[name]
	adaptersMu.Unlock()
	if !ok {
		return fmt.Errorf("no wintun adapter named %s", name)
	}

	luid := winipcfg.LUID(adapter.LUID())
	return luid.AddIPAddress(addr)
}

func SetupHint(name string, mtu int) []string {
	return []string{
		fmt.Sprintf(`netsh interface ipv4 set subinterface "%s" mtu=%d`, name, mtu),
		fmt.Sprintf(`netsh interface ipv4 set address "%s" static <local> <mask>`, name),
	}
}

func ForwardingHint() string {
	return `netsh interface ipv4 set global forwarding=enabled`
}

func RouteHint(name string) string {
	return fmt.Sprintf(`netsh interface ipv4 add route <destination>/32 "%s"`, name)
}
