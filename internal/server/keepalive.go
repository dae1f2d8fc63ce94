package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// Liveness receives activity notifications from a session. Any inbound
// frame, data or control, counts as activity.
type Liveness interface {
	Activity()
}

// keepAlive pings an idle peer and expires the session when a second
// interval passes without any activity. A nil *keepAlive is disabled.
type keepAlive struct {
	interval time.Duration
	last     atomic.Int64
	pinged   atomic.Bool
	ping     func() error
	expire   func()

	stopOnce sync.Once
	stop     chan struct{}
}

func newKeepAlive(interval time.Duration, ping func() error, expire func()) *keepAlive {
	if interval <= 0 {
		return nil
	}
	k := &keepAlive{
		interval: interval,
		ping:     ping,
		expire:   expire,
		stop:     make(chan struct{}),
	}
	k.Activity()
	return k
}

// Activity marks the peer as alive.
func (k *keepAlive) Activity() {
	if k == nil {
		return
	}
	k.last.Store(time.Now().UnixNano())
	k.pinged.Store(false)
}

func (k *keepAlive) idle() time.Duration {
	return time.Since(time.Unix(0, k.last.Load()))
}

// run blocks until Stop or expiry.
func (k *keepAlive) run() {
	if k == nil {
		return
	}
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			if k.idle() < k.interval {
				continue
			}
			if !k.pinged.Load() {
				k.pinged.Store(true)
				if err := k.ping(); err != nil {
					k.expire()
					return
				}
				continue
			}
			k.expire()
			return
		}
	}
}

// Stop ends run. Safe to call more than once.
func (k *keepAlive) Stop() {
	if k == nil {
		return
	}
	k.stopOnce.Do(func() { close(k.stop) })
}
