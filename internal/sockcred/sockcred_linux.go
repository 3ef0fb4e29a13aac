//go:build linux

// Package sockcred reads the peer credentials off an accepted Unix-domain
// connection, for diagnostic logging only — the spec's transport is
// "filesystem-permission scoped", not peer-credential scoped, so this is
// never used as an authorization check (spec §1 non-goals: no
// authentication). Platform split mirrors the teacher's own
// core/poller/epoll.go vs kqueue.go vs stub convention.
package sockcred

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Peer describes the process on the other end of a Unix-domain socket.
type Peer struct {
	UID int
	PID int
	GID int
}

func (p Peer) String() string {
	return fmt.Sprintf("uid=%d pid=%d gid=%d", p.UID, p.PID, p.GID)
}

// Lookup reads SO_PEERCRED from conn. ok is false if conn isn't a
// *net.UnixConn or the syscall fails.
func Lookup(conn net.Conn) (Peer, bool) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return Peer{}, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return Peer{}, false
	}

	var cred *unix.Ucred
	var sysErr error
	if ctrlErr := raw.Control(func(fd uintptr) {
		cred, sysErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); ctrlErr != nil {
		return Peer{}, false
	}
	if sysErr != nil || cred == nil {
		return Peer{}, false
	}
	return Peer{UID: int(cred.Uid), PID: int(cred.Pid), GID: int(cred.Gid)}, true
}
