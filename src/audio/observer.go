package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ----- Notification ----- //

// NotificationKind ...
type NotificationKind int

const (
	NotifyNoteOn NotificationKind = iota
	NotifyNoteOff
	NotifyControlChanged
	NotifyTopologyChanged
	NotifyTimelockSkip
	NotifyRecallDone
	NotifyPlaybackDone
)

var notificationKindNames = [...]string{"note-on", "note-off", "control-changed", "topology-changed", "timelock-skip", "recall-done", "playback-done"}

func (k NotificationKind) String() string {
	if k < 0 || int(k) >= len(notificationKindNames) {
		return fmt.Sprintf("notification(%d)", int(k))
	}
	return notificationKindNames[k]
}

// Notification ...
type Notification struct {
	Kind    NotificationKind
	Channel string
	Recall  string
	Port    string
	Key     int
	Value   float64
	Frame   uint64
}

// ----- Observer ----- //

// Observer receives notifications on the goroutine that produced them. It
// must not block.
type Observer interface {
	Notify(n Notification)
}

// ObserverFunc ...
type ObserverFunc func(n Notification)

// Notify ...
func (f ObserverFunc) Notify(n Notification) {
	f(n)
}

// ChanObserver forwards notifications to a buffered channel and drops them
// when the channel is full.
type ChanObserver struct {
	C       chan Notification
	dropped atomic.Uint64
}

// NewChanObserver ...
func NewChanObserver(size int) *ChanObserver {
	return &ChanObserver{C: make(chan Notification, size)}
}

// Notify ...
func (o *ChanObserver) Notify(n Notification) {
	select {
	case o.C <- n:
	default:
		o.dropped.Add(1)
	}
}

// Dropped ...
func (o *ChanObserver) Dropped() uint64 {
	return o.dropped.Load()
}

type observers struct {
	mu   sync.RWMutex
	seq  int
	list map[int]Observer
}

func newObservers() *observers {
	return &observers{list: make(map[int]Observer)}
}

func (o *observers) add(observer Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	id := o.seq
	o.list[id] = observer
	return func() {
		o.mu.Lock()
		delete(o.list, id)
		o.mu.Unlock()
	}
}

func (o *observers) notify(n Notification) {
	if o == nil {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, observer := range o.list {
		observer.Notify(n)
	}
}
