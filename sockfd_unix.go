//go:build unix && !linux

// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

import "golang.org/x/sys/unix"

// newSocketFD creates a socket and sets the non-blocking and
// close-on-exec flags with separate fcntl calls, for platforms without
// SOCK_NONBLOCK and SOCK_CLOEXEC.
func newSocketFD(family, sockType int) (int, error) {
	fd, err := unix.Socket(family, sockType, 0)
	if err != nil {
		return 0, err
	}
	if err := setNonblockCloexec(fd); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

// acceptFD accepts one pending connection and applies the child flags
// after the fact.
func acceptFD(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return 0, nil, err
	}
	if err := setNonblockCloexec(nfd); err != nil {
		unix.Close(nfd)
		return 0, nil, err
	}
	return nfd, sa, nil
}

// setNonblockCloexec applies both descriptor flags.
func setNonblockCloexec(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	unix.CloseOnExec(fd)
	return nil
}
