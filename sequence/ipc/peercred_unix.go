//go:build unix && !linux

package ipc

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerUID falls back to the owner of the socket file where SO_PEERCRED is
// unavailable.
func peerUID(_ net.Conn, path string) (int, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return -1, err
	}
	return int(st.Uid), nil
}
