package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("queue: notifier waiter is required")

// Waiter blocks until a task becomes available on the named queue key, or
// until ctx is done. RedisWaiter implements this over a Redis pub/sub
// channel; RedisQueue.Get does not use it and blocks with BLPOP instead.
type Waiter interface {
	WaitForNotification(ctx context.Context, key string) error
}

// Notifier fans a single Waiter out to any number of local subscribers so
// they share one upstream subscription per key. No Queue implementation in
// this package subscribes to it.
type Notifier interface {
	Subscribe(key string) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration
	Backoff    time.Duration
}

// DefaultNotifier is the default implementation of Notifier.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[string]map[chan struct{}]struct{}
	listeners map[string]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	notifier := &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[string]map[chan struct{}]struct{}),
		listeners:  make(map[string]context.CancelFunc),
	}
	return notifier, nil
}

// Subscribe registers interest in task arrivals on key, starting the
// upstream listener goroutine on first subscriber. The returned func
// unsubscribes and closes the channel.
func (n *DefaultNotifier) Subscribe(key string) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[key]; !ok {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[key] = cancel
		go n.listenLoop(ctx, key)
	}

	ch := make(chan struct{}, 1)
	if n.subs[key] == nil {
		n.subs[key] = make(map[chan struct{}]struct{})
	}
	n.subs[key][ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subscribers := n.subs[key]
		if subscribers == nil {
			return
		}

		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			n.stopListener(key)
			delete(n.subs, key)
		}
	}

	return unsub, ch
}

// StopAll cancels every listener and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for key, cancel := range n.listeners {
		cancel()
		delete(n.listeners, key)
	}
	for key, subscribers := range n.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(n.subs, key)
	}
}

func (n *DefaultNotifier) stopListener(key string) {
	cancel, ok := n.listeners[key]
	if !ok {
		return
	}
	cancel()
	delete(n.listeners, key)
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, key string) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, key)
		cancel()

		n.broadcast(key)

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subscribers := n.subs[key]
	for ch := range subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notifications before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
