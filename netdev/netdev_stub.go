//go:build !linux
// +build !linux

package netdev

import "errors"

// SystemResolver lists interfaces over netlink (Stub).
type SystemResolver struct{}

func (SystemResolver) Interfaces() ([]string, error) {
	return nil, errors.New("netdev: interface listing requires linux")
}
