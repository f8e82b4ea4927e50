package thread

import (
	"github.com/pkg/errors"
)

var (
	// ErrHasChildren is returned when removing a thread whose children are still attached.
	ErrHasChildren = errors.New("thread: children still attached")
	// ErrAlreadyRunning is returned by Start on a running thread.
	ErrAlreadyRunning = errors.New("thread: already running")
	// ErrStopped is returned by waits interrupted by Stop and by Start on a stopped thread.
	ErrStopped = errors.New("thread: stopped")
	// ErrNotChild is returned when removing a thread from a parent it does not belong to.
	ErrNotChild = errors.New("thread: not a child")

	errTimelock = errors.New("thread: timelock expired")
)
