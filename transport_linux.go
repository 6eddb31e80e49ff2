//go:build linux
// +build linux

package ferrule

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"grimm.is/ferrule/xt"
)

// x_tables socket option numbers, base 64 for both families.
const (
	soSetReplace = 64 // IPT_SO_SET_REPLACE / IP6T_SO_SET_REPLACE
	soGetInfo    = 64 // IPT_SO_GET_INFO
	soGetEntries = 65 // IPT_SO_GET_ENTRIES
)

// kernelTransport talks to the kernel through raw sockets, one per family,
// using the legacy get/setsockopt interface. Requires CAP_NET_ADMIN.
type kernelTransport struct {
	mu sync.Mutex
	fd map[Family]int
}

// newKernelTransport opens the raw sockets. With a network namespace given
// (a name under /run/netns, or a path containing a slash), the sockets are
// opened inside it and keep operating on it afterwards.
func newKernelTransport(netnsRef string) (Transport, error) {
	t := &kernelTransport{fd: map[Family]int{xt.IPv4: -1, xt.IPv6: -1}}
	open := func() error {
		fd4, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_RAW)
		if err != nil {
			return fmt.Errorf("ipv4 raw socket: %w", err)
		}
		fd6, err := unix.Socket(unix.AF_INET6, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_RAW)
		if err != nil {
			unix.Close(fd4)
			return fmt.Errorf("ipv6 raw socket: %w", err)
		}
		t.fd[xt.IPv4] = fd4
		t.fd[xt.IPv6] = fd6
		return nil
	}

	if netnsRef == "" {
		if err := open(); err != nil {
			return nil, err
		}
		return t, nil
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	orig, err := netns.Get()
	if err != nil {
		return nil, fmt.Errorf("current netns: %w", err)
	}
	defer orig.Close()
	var target netns.NsHandle
	if strings.Contains(netnsRef, "/") {
		target, err = netns.GetFromPath(netnsRef)
	} else {
		target, err = netns.GetFromName(netnsRef)
	}
	if err != nil {
		return nil, fmt.Errorf("netns %q: %w", netnsRef, err)
	}
	defer target.Close()
	if err := netns.Set(target); err != nil {
		return nil, fmt.Errorf("enter netns %q: %w", netnsRef, err)
	}
	defer netns.Set(orig)
	if err := open(); err != nil {
		return nil, err
	}
	return t, nil
}

func sockoptLevel(f Family) int {
	if f == xt.IPv6 {
		return unix.SOL_IPV6
	}
	return unix.SOL_IP
}

// getsockopt is the raw in/out variant: the request is passed in buf and
// overwritten with the response.
func getsockopt(fd, level, opt int, buf []byte) error {
	l := uint32(len(buf))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(opt),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&l)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (t *kernelTransport) socket(f Family) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.fd[f]
	if fd < 0 {
		return -1, fmt.Errorf("transport closed")
	}
	return fd, nil
}

func (t *kernelTransport) GetInfo(ctx context.Context, f Family, table string) (*xt.GetInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fd, err := t.socket(f)
	if err != nil {
		return nil, err
	}
	req := xt.GetInfo{Name: table}
	buf := req.Marshal()
	if err := getsockopt(fd, sockoptLevel(f), soGetInfo, buf); err != nil {
		return nil, fmt.Errorf("get info %s/%s: %w", f, table, err)
	}
	return xt.UnmarshalGetInfo(buf)
}

func (t *kernelTransport) GetEntries(ctx context.Context, f Family, table string, size uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fd, err := t.socket(f)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, xt.SizeOfGetEntries+int(size))
	copy(buf[0:xt.TableMaxNameLen], table)
	xt.NativeEndian.PutUint32(buf[xt.TableMaxNameLen:], size)
	if err := getsockopt(fd, sockoptLevel(f), soGetEntries, buf); err != nil {
		return nil, fmt.Errorf("get entries %s/%s: %w", f, table, err)
	}
	return buf[xt.SizeOfGetEntries:], nil
}

func (t *kernelTransport) Replace(ctx context.Context, f Family, rep *xt.Replace, entries []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fd, err := t.socket(f)
	if err != nil {
		return err
	}
	hdr := rep.Marshal()
	// The kernel copies the outgoing counters of the replaced table into a
	// user buffer of NumCounters entries, pointed to by the header.
	var old []byte
	if rep.NumCounters > 0 {
		old = make([]byte, int(rep.NumCounters)*xt.SizeOfCounters)
		ptr := uint64(uintptr(unsafe.Pointer(&old[0])))
		xt.NativeEndian.PutUint64(hdr[88:], ptr)
	}
	buf := append(hdr, entries...)
	err = unix.SetsockoptString(fd, sockoptLevel(f), soSetReplace, string(buf))
	runtime.KeepAlive(old)
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", f, rep.Name, err)
	}
	return nil
}

func (t *kernelTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for f, fd := range t.fd {
		if fd >= 0 {
			if err := unix.Close(fd); err != nil && first == nil {
				first = err
			}
			t.fd[f] = -1
		}
	}
	return first
}
