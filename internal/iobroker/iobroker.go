// Package iobroker adapts epoll into the worker's event loop.
//
// Each registered descriptor carries an opaque tag. Poll dispatches
// readiness for every ready descriptor to a single dispatcher function
// supplied at construction; the dispatcher switches on the tag's type
// rather than on stored function pointers, which keeps ownership of
// the callback logic in one place.
package iobroker

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const maxEvents = 64

// Dispatcher receives readiness notifications. It runs on the polling
// goroutine and must not block.
type Dispatcher func(fd int, tag any)

// Broker is a level-triggered readiness multiplexer over epoll.
type Broker struct {
	epfd     int
	tags     map[int]any
	dispatch Dispatcher
	events   [maxEvents]unix.EpollEvent
}

// New creates a Broker with the given dispatcher.
func New(dispatch Dispatcher) (*Broker, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("iobroker: epoll_create1: %w", err)
	}
	return &Broker{
		epfd:     epfd,
		tags:     make(map[int]any),
		dispatch: dispatch,
	}, nil
}

// Register adds fd with its tag to the readiness set.
func (b *Broker) Register(fd int, tag any) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("iobroker: register fd %d: %w", fd, err)
	}
	b.tags[fd] = tag
	return nil
}

// Unregister removes fd from the readiness set without closing it.
func (b *Broker) Unregister(fd int) error {
	if _, ok := b.tags[fd]; !ok {
		return nil
	}
	delete(b.tags, fd)
	if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("iobroker: unregister fd %d: %w", fd, err)
	}
	return nil
}

// Close unregisters and closes fd.
func (b *Broker) Close(fd int) error {
	err := b.Unregister(fd)
	if cerr := unix.Close(fd); cerr != nil && err == nil {
		err = fmt.Errorf("iobroker: close fd %d: %w", fd, cerr)
	}
	return err
}

// NumFDs returns the number of registered descriptors.
func (b *Broker) NumFDs() int {
	return len(b.tags)
}

// Poll waits up to timeoutMs milliseconds (-1 blocks until an event)
// and dispatches every ready descriptor. It returns the number of
// descriptors dispatched. EINTR is reported as zero events, not as an
// error, so a signal simply re-enters the loop.
func (b *Broker) Poll(timeoutMs int) (int, error) {
	n, err := unix.EpollWait(b.epfd, b.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("iobroker: epoll_wait: %w", err)
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(b.events[i].Fd)
		// A handler earlier in this batch may have closed this fd.
		tag, ok := b.tags[fd]
		if !ok {
			continue
		}
		dispatched++
		b.dispatch(fd, tag)
	}
	return dispatched, nil
}

// Destroy closes the epoll descriptor itself. Registered descriptors
// are left open; callers own their lifecycles.
func (b *Broker) Destroy() error {
	if b.epfd < 0 {
		return nil
	}
	err := unix.Close(b.epfd)
	b.epfd = -1
	return err
}
