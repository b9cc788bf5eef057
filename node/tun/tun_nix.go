//go:build darwin || linux || freebsd || netbsd

package tun

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/songgao/water"
)

// NixTun is the water backed device used on Linux, macOS and the BSDs.
type NixTun struct {
	ifce *water.Interface
	mtu  int
}

func newDevice(opts Options) (Device, error) {
	ifce, err := water.New(waterConfig(opts))
	if err != nil {
		return nil, err
	}

	return &NixTun{ifce: ifce, mtu: opts.MTU}, nil
}

func (n *NixTun) Read(b []byte) (int, error) {
	return n.ifce.Read(b)
}

func (n *NixTun) Write(b []byte) (int, error) {
	return n.ifce.Write(b)
}

func (n *NixTun) Name() string {
	return n.ifce.Name()
}

func (n *NixTun) Close() error {
	return n.ifce.Close()
}

func (n *NixTun) MTU() int {
	return n.mtu
}

func runCmd(name string, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed (stderr: %s): %w", name, stderr.String(), err)
	}
	return nil
}
