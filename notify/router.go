package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"

	wizard "github.com/goliatone/go-wizard"
)

// Handler receives a decoded change and the subject it arrived on.
type Handler func(subject string, change wizard.StateChange)

// Router fans published wizard changes out to handlers registered by subject
// pattern. Patterns use NATS wildcards: "*" matches one token and a trailing
// ">" matches one or more.
type Router struct {
	mu       sync.RWMutex
	seq      uint64
	patterns []string
	handlers map[string][]*route
	logger   wizard.Logger
}

type route struct {
	router  *Router
	id      uint64
	pattern string
	fn      Handler
	once    sync.Once
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (r *route) Unsubscribe() {
	r.once.Do(func() {
		m := r.router
		m.mu.Lock()
		defer m.mu.Unlock()

		old := m.handlers[r.pattern]
		kept := make([]*route, 0, len(old))
		for _, x := range old {
			if x.id != r.id {
				kept = append(kept, x)
			}
		}
		if len(kept) == 0 {
			delete(m.handlers, r.pattern)
			m.sortPatternsLocked()
			return
		}
		m.handlers[r.pattern] = kept
	})
}

// NewRouter returns an empty router. A nil logger falls back to stdout.
func NewRouter(logger wizard.Logger) *Router {
	if logger == nil {
		logger = wizard.NewFmtLogger(nil)
	}
	return &Router{
		handlers: make(map[string][]*route),
		logger:   logger,
	}
}

// Handle registers fn for every subject matching pattern.
func (m *Router) Handle(pattern string, fn Handler) (wizard.Subscription, error) {
	pattern = strings.TrimSpace(pattern)
	if err := validatePattern(pattern); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("handler for %s is nil", pattern)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r := &route{router: m, id: m.seq, pattern: pattern, fn: fn}
	if _, exists := m.handlers[pattern]; !exists {
		m.handlers[pattern] = nil
		m.sortPatternsLocked()
	}
	m.handlers[pattern] = append(m.handlers[pattern], r)
	return r, nil
}

// Dispatch delivers change to every handler whose pattern matches subject,
// in pattern order. It returns the number of handlers called.
func (m *Router) Dispatch(subject string, change wizard.StateChange) int {
	matched := m.match(subject)
	for _, r := range matched {
		m.deliver(r, subject, change)
	}
	return len(matched)
}

// Listen subscribes to subject on nc and dispatches every decodable message.
func (m *Router) Listen(nc *nats.Conn, subject string) (*nats.Subscription, error) {
	if nc == nil {
		return nil, fmt.Errorf("router listen requires a connection")
	}
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		change, err := Decode(msg.Data)
		if err != nil {
			m.logger.Warn("dropping message subject=%s: %v", msg.Subject, err)
			return
		}
		m.Dispatch(msg.Subject, change)
	})
}

func (m *Router) match(subject string) []*route {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*route
	for _, p := range m.patterns {
		if MatchSubject(p, subject) {
			out = append(out, m.handlers[p]...)
		}
	}
	return out
}

func (m *Router) deliver(r *route, subject string, change wizard.StateChange) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("route handler panic pattern=%s subject=%s: %v", r.pattern, subject, rec)
		}
	}()
	r.fn(subject, change)
}

func (m *Router) sortPatternsLocked() {
	keys := make([]string, 0, len(m.handlers))
	for k := range m.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	m.patterns = keys
}

// MatchSubject reports whether subject matches pattern using NATS wildcard
// rules.
func MatchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pParts := strings.Split(pattern, ".")
	sParts := strings.Split(subject, ".")

	for i, p := range pParts {
		if p == ">" {
			// must be last and consume at least one token
			return i == len(pParts)-1 && len(sParts) > i
		}
		if i >= len(sParts) {
			return false
		}
		if p != "*" && p != sParts[i] {
			return false
		}
	}
	return len(pParts) == len(sParts)
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("subject pattern is required")
	}
	parts := strings.Split(pattern, ".")
	for i, p := range parts {
		switch {
		case p == "":
			return fmt.Errorf("subject pattern %q has an empty token", pattern)
		case p == ">" && i != len(parts)-1:
			return fmt.Errorf("subject pattern %q: > must be the last token", pattern)
		case p != ">" && p != "*" && strings.ContainsAny(p, "*> \t"):
			return fmt.Errorf("subject pattern %q has an invalid token %q", pattern, p)
		}
	}
	return nil
}
