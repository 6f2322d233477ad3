//go:build linux

package device

import (
	"bytes"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// epollTimeoutMs bounds each epoll_wait so the loop can observe stop.
const epollTimeoutMs = 250

// readLoop reads from all sources on a single goroutine using epoll.
// The kernel wakes us only when a node has data.
func readLoop(srcs []source, events chan<- taggedEvent, readErr chan<- error, stop <-chan struct{}) {
	fail := func(err error) {
		select {
		case readErr <- err:
		case <-stop:
		}
	}

	if len(srcs) == 0 {
		fail(ErrNoDevices)
		return
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		fail(fmt.Errorf("epoll_create1: %w", err))
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors back to sources for later identification
	byFd := make(map[int]source, len(srcs))

	for _, src := range srcs {
		fd := int(src.f.Fd())
		byFd[fd] = src

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			fail(fmt.Errorf("epoll_ctl_add %s: %w", src.path, err))
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	buf := make([]byte, eventSize)
	reader := bytes.NewReader(buf)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollTimeoutMs)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			fail(fmt.Errorf("epoll_wait: %w", err))
			return
		}

		for i := 0; i < n; i++ {
			src := byFd[int(epollEvents[i].Fd)]

			// Unplugging a device shows up as hangup; the poller reopens it.
			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				fail(&deviceError{path: src.path, err: syscall.ENODEV})
				return
			}

			if _, err := src.f.Read(buf); err != nil {
				fail(&deviceError{path: src.path, err: err})
				return
			}

			ev, err := decodeEvent(reader, buf)
			if err != nil {
				// Skip malformed events
				continue
			}

			select {
			case events <- taggedEvent{index: src.index, ev: ev}:
			case <-stop:
				return
			}
		}
	}
}
