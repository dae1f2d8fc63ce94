package server

import "sync"

// lifetime keeps a session alive while any operation still references it.
//
// The owner holds one reference from creation until close. Every
// asynchronous operation (read loop, write burst, control reply, keepalive
// timer) acquires its own reference and releases it on completion. The
// final func runs exactly once, after close has been called and the last
// reference is gone.
type lifetime struct {
	mu      sync.Mutex
	refs    int
	closing bool
	final   func()
	done    chan struct{}
}

func newLifetime(final func()) *lifetime {
	return &lifetime{refs: 1, final: final, done: make(chan struct{})}
}

// acquire takes a reference. It fails once the owner has closed.
func (l *lifetime) acquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing || l.refs == 0 {
		return false
	}
	l.refs++
	return true
}

// release drops a reference taken by acquire.
func (l *lifetime) release() {
	l.mu.Lock()
	l.refs--
	last := l.refs == 0
	l.mu.Unlock()
	if last {
		l.finish()
	}
}

// close drops the owner's reference. Later calls do nothing.
func (l *lifetime) close() {
	l.mu.Lock()
	if l.closing {
		l.mu.Unlock()
		return
	}
	l.closing = true
	l.mu.Unlock()
	l.release()
}

func (l *lifetime) finish() {
	if l.final != nil {
		l.final()
	}
	close(l.done)
}

// Done is closed after the final func has run.
func (l *lifetime) Done() <-chan struct{} { return l.done }

func (l *lifetime) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}
