package runtime

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// subscription is one live listener: a ping channel plus the table set
// whose mutation should wake it.
type subscription struct {
	id     uuid.UUID
	key    string
	tables map[string]bool
	ch     chan struct{}
}

// Subscriptions tracks live-query listeners grouped by query identity
// and parameter fingerprint. A ping tells the listener its result may
// have changed; the listener re-runs its query to find out.
type Subscriptions struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*subscription
	// refs counts listeners per query key, for dedup-aware tooling.
	refs map[string]int
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		byID: make(map[uuid.UUID]*subscription),
		refs: make(map[string]int),
	}
}

// Subscribe registers a listener for a query key over the given table
// set and returns its identity and ping channel. The channel has a
// one-slot buffer: pings coalesce, they never queue.
func (s *Subscriptions) Subscribe(key string, tables []string) (uuid.UUID, <-chan struct{}) {
	sub := &subscription{
		id:     uuid.New(),
		key:    key,
		tables: make(map[string]bool, len(tables)),
		ch:     make(chan struct{}, 1),
	}
	for _, t := range tables {
		sub.tables[t] = true
	}

	s.mu.Lock()
	s.byID[sub.id] = sub
	s.refs[key]++
	s.mu.Unlock()
	return sub.id, sub.ch
}

// Unsubscribe removes a listener and closes its channel.
func (s *Subscriptions) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	sub, ok := s.byID[id]
	if ok {
		delete(s.byID, id)
		if s.refs[sub.key]--; s.refs[sub.key] <= 0 {
			delete(s.refs, sub.key)
		}
	}
	s.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Refs reports how many listeners share a query key.
func (s *Subscriptions) Refs(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refs[key]
}

// Count reports the total number of live listeners.
func (s *Subscriptions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Invalidate pings every listener whose table set intersects the
// mutated tables. Non-blocking: a full channel means a ping is already
// pending and the listener will re-query anyway.
func (s *Subscriptions) Invalidate(tables []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.byID {
		hit := false
		for _, t := range tables {
			if sub.tables[t] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

// subscriptionKey builds the identity of a listenable query: query name
// plus a canonical fingerprint of its arguments.
func subscriptionKey(namespace, name string, args map[string]any) string {
	if len(args) == 0 {
		return namespace + "/" + name
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(namespace)
	b.WriteByte('/')
	b.WriteString(name)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%v", k, args[k])
	}
	return b.String()
}
