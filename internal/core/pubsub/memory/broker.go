package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

// subscription is one Subscribe call. Sends and the final close are
// serialised by mu.
type subscription struct {
	msgCh  chan pubsub.Message
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// deliver blocks until msg is queued, the subscription ends or ctx is done.
func (s *subscription) deliver(ctx context.Context, msg pubsub.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.msgCh <- msg:
	case <-s.ctx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// offer queues msg if there is room. It reports whether msg was queued.
func (s *subscription) offer(msg pubsub.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.msgCh <- msg:
		return true
	default:
		return false
	}
}

func (s *subscription) shutdown() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.msgCh)
	}
}

// group is a named consumer. Every message matching its pattern is
// delivered to exactly one member, round robin.
type group struct {
	name    string
	pattern string
	members []*subscription
	next    int
}

// broker routes messages between publishers and consumer groups.
type broker struct {
	mu      sync.Mutex
	groups  map[string]*group
	closed  atomic.Bool
	anonSeq atomic.Uint64
}

func newBroker() *broker {
	return &broker{groups: make(map[string]*group)}
}

// publish delivers data to one member of every matching group.
func (b *broker) publish(ctx context.Context, subject string, data []byte) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}

	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.groups))
	for _, g := range b.groups {
		if len(g.members) == 0 || !matchSubject(g.pattern, subject) {
			continue
		}
		targets = append(targets, g.members[g.next%len(g.members)])
		g.next++
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if err := sub.deliver(ctx, newDelivery(sub, subject, data)); err != nil {
			return err
		}
	}
	return nil
}

// subscribe joins the consumer group name, creating it if needed. An empty
// name creates a private group.
func (b *broker) subscribe(ctx context.Context, name, pattern string, bufSize int) (<-chan pubsub.Message, error) {
	if b.closed.Load() {
		return nil, ErrEngineClosed
	}
	if name == "" {
		name = fmt.Sprintf("_anon.%d", b.anonSeq.Add(1))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[name]
	if !ok {
		g = &group{name: name, pattern: pattern}
		b.groups[name] = g
	} else if g.pattern != pattern {
		return nil, fmt.Errorf("%w: %s listens on %q", ErrPatternMismatch, name, g.pattern)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		msgCh:  make(chan pubsub.Message, bufSize),
		ctx:    subCtx,
		cancel: cancel,
	}
	g.members = append(g.members, sub)

	go func() {
		<-subCtx.Done()
		b.leave(g, sub)
	}()
	return sub.msgCh, nil
}

// leave removes sub from its group and closes its channel.
func (b *broker) leave(g *group, sub *subscription) {
	b.mu.Lock()
	for i, m := range g.members {
		if m == sub {
			g.members = append(g.members[:i], g.members[i+1:]...)
			break
		}
	}
	if len(g.members) == 0 && b.groups[g.name] == g {
		delete(b.groups, g.name)
	}
	b.mu.Unlock()

	sub.shutdown()
}

// close shuts down the broker and all subscriptions.
func (b *broker) close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	var subs []*subscription
	for name, g := range b.groups {
		subs = append(subs, g.members...)
		g.members = nil
		delete(b.groups, name)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.shutdown()
	}
	return nil
}
