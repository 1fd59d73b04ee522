//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// epollPollMS bounds each epoll_wait so the reader notices done.
const epollPollMS = 250

// readInputDevices reads from all input devices in one goroutine using epoll.
// The kernel wakes us only when a device has data.
func readInputDevices(files []*os.File, events chan<- inputEvent, readErr chan<- error, done <-chan struct{}) {
	if len(files) == 0 {
		readErr <- errors.New("no input devices provided")
		return
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		readErr <- fmt.Errorf("epoll_create1: %w", err)
		return
	}
	defer unix.Close(epfd)

	fdToFile := make(map[int]*os.File, len(files))
	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			readErr <- fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err)
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	// evdev hands out whole events; read a batch per wakeup.
	buf := make([]byte, inputEventSize*64)

	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollPollMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			readErr <- fmt.Errorf("epoll_wait: %w", err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				// A vanished device is fatal; the service manager restarts us.
				readErr <- fmt.Errorf("device error/hangup: %s", f.Name())
				return
			}

			m, err := f.Read(buf)
			if err != nil {
				readErr <- fmt.Errorf("read from %s: %w", f.Name(), err)
				return
			}
			decodeInputEvents(buf[:m], func(ev inputEvent) {
				select {
				case events <- ev:
				case <-done:
				}
			})
		}
	}
}
