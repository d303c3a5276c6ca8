//go:build linux

// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import "golang.org/x/sys/unix"

// newSocketFD creates a socket with the non-blocking and close-on-exec
// flags set atomically at creation.
func newSocketFD(family, sockType int) (int, error) {
	return unix.Socket(family, sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

// acceptFD accepts one pending connection with the child flags set
// atomically by accept4.
func acceptFD(fd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}
