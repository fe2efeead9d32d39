package eventbridge

import (
	"strings"
	"sync"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 1024
)

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// AllKinds subscribes to every hook kind.
const AllKinds = "*"

// Router fans editor hooks out to subscribers keyed by hook kind, with
// buffering, deduplication, and bounded channel semantics.
type Router struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      []Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription represents an active hook subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RouterWithLogger injects a logger for drop/diagnostic messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for hooks of one kind, or every kind with AllKinds.
// Hooks buffered before anyone listened are replayed in arrival order.
func (r *Router) Subscribe(kind string) Subscription {
	key := normalizeKind(kind)
	if key == "" {
		key = AllKinds
	}
	sub := newSubscriber(r.channelSize, r.logger)
	var replay []Event
	r.mu.Lock()
	if r.subscribers[key] == nil {
		r.subscribers[key] = map[*subscriber]struct{}{}
	}
	r.subscribers[key][sub] = struct{}{}
	kept := r.backlog[:0]
	for _, event := range r.backlog {
		if key == AllKinds || event.Type == key {
			replay = append(replay, event)
			continue
		}
		kept = append(kept, event)
	}
	r.backlog = kept
	r.mu.Unlock()
	for _, event := range replay {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(key, sub)
		},
	}
}

// HandleEvent satisfies the EventProcessor interface.
func (r *Router) HandleEvent(event Event) error {
	r.Route(event)
	return nil
}

// Route delivers the event to subscribers or buffers it when no subscriber exists.
func (r *Router) Route(event Event) {
	if event.EventID != "" && r.isDuplicate(event.EventID) {
		return
	}
	kind := normalizeKind(event.Type)
	if kind == "" {
		return
	}
	r.mu.RLock()
	subs := r.snapshotSubscribers(kind)
	r.mu.RUnlock()
	if len(subs) == 0 {
		r.bufferEvent(event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// Pending reports how many hooks wait for a subscriber.
func (r *Router) Pending() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backlog)
}

func (r *Router) snapshotSubscribers(kind string) []*subscriber {
	items := make([]*subscriber, 0, len(r.subscribers[kind])+len(r.subscribers[AllKinds]))
	for sub := range r.subscribers[kind] {
		items = append(items, sub)
	}
	for sub := range r.subscribers[AllKinds] {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(kind string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[kind]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, kind)
		}
	}
	sub.close()
}

func (r *Router) bufferEvent(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.backlog) >= r.backlogLimit {
		dropped := r.backlog[0]
		r.backlog = r.backlog[1:]
		if r.logger != nil {
			r.logger.Printf("eventbridge: backlog drop %s %s (limit %d)", dropped.Type, dropped.Path, r.backlogLimit)
		}
	}
	r.backlog = append(r.backlog, event)
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}

type subscriber struct {
	ch      chan Event
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

func (s *subscriber) deliver(event Event) {
	if s.isClosed() {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
		oldest := <-s.ch
		if shouldDropOldest(oldest, event) {
			s.logDrop(oldest, "queue overflow")
			s.ch <- event
		} else {
			s.ch <- oldest
			s.logDrop(event, "queue overflow:incoming")
		}
	}
}

func (s *subscriber) logDrop(event Event, reason string) {
	if s.logger == nil {
		return
	}
	s.logger.Printf("eventbridge: dropped %s %s (%s)", event.Type, event.Path, reason)
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.closeMu.Unlock()
}

func (s *subscriber) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

func shouldDropOldest(oldest, incoming Event) bool {
	oldestCritical := isCriticalEvent(oldest.Type)
	incomingCritical := isCriticalEvent(incoming.Type)
	switch {
	case oldestCritical && !incomingCritical:
		return false
	case !oldestCritical && incomingCritical:
		return true
	}
	oldestPreferred := isPreferredDrop(oldest.Type)
	incomingPreferred := isPreferredDrop(incoming.Type)
	if oldestPreferred && !incomingPreferred {
		return true
	}
	if !oldestPreferred && incomingPreferred {
		return false
	}
	return true
}

// Saves trigger checks, so they outlive everything else in a full queue.
func isCriticalEvent(kind string) bool {
	return normalizeKind(kind) == TypeDocumentSaved
}

func isPreferredDrop(kind string) bool {
	return normalizeKind(kind) == TypeEditorFocused
}
