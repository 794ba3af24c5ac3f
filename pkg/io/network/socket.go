// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package network

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"syscall"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"golang.org/x/sys/unix"
)

// DialTCP connects to host:port and returns a non-blocking socket owned by
// the caller, together with the remote address.
func DialTCP(ctx context.Context, host string, port uint16) (int, string, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return -1, "", cerrors.ErrConnectTimeout.Wrap(err).GenWithStackByArgs(addr)
		}
		return -1, "", cerrors.ErrConnectFailed.Wrap(err).GenWithStackByArgs(addr)
	}
	defer conn.Close()
	tcp := conn.(*net.TCPConn)
	if err := tcp.SetNoDelay(true); err != nil {
		return -1, "", cerrors.ErrConnectFailed.Wrap(err).GenWithStackByArgs(addr)
	}
	fd, err := dupSocket(tcp)
	if err != nil {
		return -1, "", cerrors.ErrConnectFailed.Wrap(err).GenWithStackByArgs(addr)
	}
	return fd, conn.RemoteAddr().String(), nil
}

// ListenTCP opens a listening socket on host:port and returns it in
// non-blocking mode together with the actual port. Port zero picks a free
// port. reuse enables SO_REUSEPORT.
func ListenTCP(host string, port uint16, reuse bool) (int, uint16, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			if !reuse {
				return nil
			}
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		if stderrors.Is(err, unix.EADDRINUSE) {
			return -1, 0, cerrors.ErrPortInUse.Wrap(err).GenWithStackByArgs(addr)
		}
		return -1, 0, cerrors.WrapError(cerrors.ErrSocketIO, err, "listen "+addr)
	}
	defer ln.Close()
	tl := ln.(*net.TCPListener)
	fd, err := dupSocket(tl)
	if err != nil {
		return -1, 0, cerrors.WrapError(cerrors.ErrSocketIO, err, "listen "+addr)
	}
	return fd, uint16(tl.Addr().(*net.TCPAddr).Port), nil
}

// CloseSocket closes a socket returned by DialTCP or ListenTCP that was
// never handed to a multiplexer.
func CloseSocket(fd int) error {
	return errors.Trace(unix.Close(fd))
}

// dupSocket duplicates the descriptor behind c so that it survives c.Close.
func dupSocket(c syscall.Conn) (int, error) {
	rc, err := c.SyscallConn()
	if err != nil {
		return -1, errors.Trace(err)
	}
	fd := -1
	var derr error
	if err := rc.Control(func(s uintptr) {
		syscall.ForkLock.RLock()
		fd, derr = unix.Dup(int(s))
		if derr == nil {
			unix.CloseOnExec(fd)
		}
		syscall.ForkLock.RUnlock()
	}); err != nil {
		return -1, errors.Trace(err)
	}
	if derr != nil {
		return -1, errors.Trace(derr)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, errors.Trace(err)
	}
	return fd, nil
}

func setNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return "unknown"
	}
}
