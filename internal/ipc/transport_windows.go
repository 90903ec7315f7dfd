//go:build windows

package ipc

import (
	"net"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// listenControl opens the daemon's loopback TCP control socket. Unix
// socket support on Windows is too uneven across builds to rely on, so
// the daemon binds a loopback port instead; addr is "host:port".
func listenControl(addr string, _ os.FileMode) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// dialControl connects to the daemon's loopback control socket.
func dialControl(addr string, timeout time.Duration) (net.Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		if oe, ok := err.(*net.OpError); ok {
			if se, ok := oe.Err.(*os.SyscallError); ok {
				if errno, ok := se.Err.(syscall.Errno); ok && errno == windows.WSAECONNREFUSED {
					return nil, ErrDaemonNotRunning
				}
			}
		}
		return nil, err
	}
	return conn, nil
}

// cleanupListener is a no-op; TCP listeners leave nothing behind.
func cleanupListener(string) {}

// IsSocketListening checks if a daemon is already listening
func IsSocketListening(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// verifyPeer accepts only connections that originate from the local
// loopback interface.
func verifyPeer(conn net.Conn) (bool, error) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return false, nil
	}
	return addr.IP.IsLoopback(), nil
}
