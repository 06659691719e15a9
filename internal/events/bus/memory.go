package bus

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agor-sh/agor/internal/common/logger"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// subscriberQueueSize bounds the per-subscription delivery queue. A
// subscriber that falls this far behind is cut off rather than allowed to
// stall publishers; it must re-sync from the store after reconnecting.
const subscriberQueueSize = 256

// MemoryEventBus is the default single-process EventBus. Every
// subscription gets its own delivery goroutine fed by a bounded FIFO, so
// events published on one subject reach each subscriber in publish order
// and a slow handler never blocks Publish.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   []*memorySub
	groups map[string]*rrGroup
	logger *logger.Logger
	closed bool
}

// memorySub is one live subscription.
type memorySub struct {
	bus     *MemoryEventBus
	subject string
	pattern *regexp.Regexp // nil for literal subjects
	group   string         // empty for plain subscriptions
	handler EventHandler

	queue chan *Event
	done  chan struct{} // closed exactly once, under closeOnce
	once  sync.Once
}

// rrGroup round-robins deliveries among queue-group members.
type rrGroup struct {
	mu      sync.Mutex
	members []*memorySub
	next    int
}

// NewMemoryEventBus creates an in-memory event bus.
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		groups: make(map[string]*rrGroup),
		logger: log.WithFields(zap.String("component", "event-bus")),
	}
}

// Subscribe registers a handler for a subject pattern. NATS-style
// wildcards are supported: "*" matches one dot-separated token, ">"
// matches the rest of the subject.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, "", handler)
}

// QueueSubscribe registers a handler in a named queue group; each event
// matching the subject is delivered to exactly one group member.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	return b.subscribe(subject, queue, handler)
}

func (b *MemoryEventBus) subscribe(subject, queue string, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySub{
		bus:     b,
		subject: subject,
		pattern: compilePattern(subject),
		group:   queue,
		handler: handler,
		queue:   make(chan *Event, subscriberQueueSize),
		done:    make(chan struct{}),
	}
	b.subs = append(b.subs, sub)

	if queue != "" {
		key := queue + "|" + subject
		group, ok := b.groups[key]
		if !ok {
			group = &rrGroup{}
			b.groups[key] = group
		}
		group.mu.Lock()
		group.members = append(group.members, sub)
		group.mu.Unlock()
	}

	go sub.deliverLoop()

	b.logger.Debug("subscription added",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return sub, nil
}

// Publish stamps the subject onto the event and enqueues it for every
// matching subscriber. Queue groups receive one copy, delivered to the
// next member in rotation.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	event.Subject = subject

	seenGroups := make(map[string]bool)
	for _, sub := range b.subs {
		if !sub.matches(subject) {
			continue
		}
		if sub.group == "" {
			sub.enqueue(event)
			continue
		}
		key := sub.group + "|" + sub.subject
		if seenGroups[key] {
			continue
		}
		seenGroups[key] = true
		if group, ok := b.groups[key]; ok {
			if member := group.pick(); member != nil {
				member.enqueue(event)
			}
		}
	}
	return nil
}

// Request publishes the event with a private reply inbox attached under
// the "_reply" key of its data map, then waits for the first event on
// that inbox.
func (b *MemoryEventBus) Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error) {
	inbox := "_INBOX." + event.ID
	replies := make(chan *Event, 1)

	sub, err := b.Subscribe(inbox, func(ctx context.Context, e *Event) error {
		select {
		case replies <- e:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe() //nolint:errcheck

	event.Data = withReplySubject(event.Data, inbox)
	if err := b.Publish(ctx, subject, event); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, errors.New("request timed out on " + subject)
	}
}

// withReplySubject folds the inbox subject into the event data, keeping
// an existing map payload intact.
func withReplySubject(data any, inbox string) any {
	switch d := data.(type) {
	case map[string]any:
		if d == nil {
			d = make(map[string]any)
		}
		d["_reply"] = inbox
		return d
	case nil:
		return map[string]any{"_reply": inbox}
	default:
		return map[string]any{"data": d, "_reply": inbox}
	}
}

// Close stops every subscription. In-flight queued events are dropped.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.groups = make(map[string]*rrGroup)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	b.logger.Info("memory event bus closed")
}

// IsConnected reports whether the bus accepts publishes.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// pick returns the next live member in rotation, or nil when the group
// is empty.
func (g *rrGroup) pick() *memorySub {
	g.mu.Lock()
	defer g.mu.Unlock()

	for range g.members {
		if len(g.members) == 0 {
			return nil
		}
		member := g.members[g.next%len(g.members)]
		g.next = (g.next + 1) % len(g.members)
		if member.IsValid() {
			return member
		}
	}
	return nil
}

func (g *rrGroup) drop(sub *memorySub) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, member := range g.members {
		if member == sub {
			g.members = append(g.members[:i], g.members[i+1:]...)
			if g.next > i {
				g.next--
			}
			return
		}
	}
}

func (s *memorySub) matches(subject string) bool {
	if s.pattern == nil {
		return s.subject == subject
	}
	return s.pattern.MatchString(subject)
}

// enqueue hands the event to the delivery goroutine. A full queue means
// the subscriber cannot keep up; it is disconnected rather than allowed
// to block or to observe events out of order.
func (s *memorySub) enqueue(event *Event) {
	select {
	case <-s.done:
	case s.queue <- event:
	default:
		s.bus.logger.Warn("subscriber overflow, disconnecting",
			zap.String("subject", s.subject),
			zap.String("event_subject", event.Subject))
		s.stop()
	}
}

// deliverLoop runs the handler sequentially, preserving enqueue order.
func (s *memorySub) deliverLoop() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.queue:
			if err := s.handler(context.Background(), event); err != nil {
				s.bus.logger.Error("event handler failed",
					zap.String("subject", event.Subject),
					zap.String("type", event.Type),
					zap.Error(err))
			}
		}
	}
}

// Unsubscribe implements Subscription.
func (s *memorySub) Unsubscribe() error {
	s.stop()

	s.bus.mu.Lock()
	for i, sub := range s.bus.subs {
		if sub == s {
			s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
			break
		}
	}
	var group *rrGroup
	if s.group != "" {
		group = s.bus.groups[s.group+"|"+s.subject]
	}
	s.bus.mu.Unlock()

	if group != nil {
		group.drop(s)
	}
	return nil
}

// IsValid implements Subscription.
func (s *memorySub) IsValid() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// compilePattern translates a NATS-style subject pattern into a regexp.
// Literal subjects return nil and are compared with plain equality.
func compilePattern(pattern string) *regexp.Regexp {
	if !strings.ContainsAny(pattern, "*>") {
		return nil
	}
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `[^.]+`)
	quoted = strings.ReplaceAll(quoted, `>`, `.+`)
	re, err := regexp.Compile("^" + quoted + "$")
	if err != nil {
		return nil
	}
	return re
}
