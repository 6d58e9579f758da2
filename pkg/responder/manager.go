// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package responder

import (
	"log/slog"
	"sync"

	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/handler"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/absmach/coapgw/pkg/metrics"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Matcher resolves a resource path to the handler that serves it.
type Matcher interface {
	Match(path string) (handler.Handler, error)
}

// Config holds the Manager configuration.
type Config struct {
	// MailboxSize is the number of events each responder queues.
	// If 0, uses DefaultMailboxSize.
	MailboxSize int

	// Logger for responder events
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Manager owns the live responders, keyed by resource path and remote
// endpoint. At most one live responder exists per key.
type Manager struct {
	config     Config
	matcher    Matcher
	responders map[Key]*Responder
	mu         sync.RWMutex
	wg         sync.WaitGroup
}

// NewManager creates a manager that resolves handlers through matcher.
func NewManager(cfg Config, matcher Matcher) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	return &Manager{
		config:     cfg,
		matcher:    matcher,
		responders: make(map[Key]*Responder),
	}
}

// GetOrCreate returns the live responder for key, starting one bound to
// conn if none exists. Concurrent calls for the same key converge on a
// single responder. It fails with errors.ErrNotFound when no handler
// matches key.Path.
func (m *Manager) GetOrCreate(conn Conn, key Key) (*Responder, error) {
	// Try to get existing responder (read lock)
	m.mu.RLock()
	if r, ok := m.responders[key]; ok && r.alive() {
		m.mu.RUnlock()
		m.config.Metrics.ResponderStarted("existing")
		return r, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check in case another goroutine created it
	if r, ok := m.responders[key]; ok && r.alive() {
		m.config.Metrics.ResponderStarted("existing")
		return r, nil
	}

	h, err := m.matcher.Match(key.Path)
	if err != nil {
		m.config.Metrics.ResponderStarted("not_found")
		return nil, errors.New("create", key.Path, key.Endpoint, err)
	}

	r := newResponder(key, conn, h, m.config.MailboxSize, m.config.Logger, m.config.Metrics)
	m.responders[key] = r
	m.config.Metrics.ResponderStarted("created")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.run(func() { m.remove(key, r) })
	}()

	m.config.Logger.Debug("responder created",
		slog.String("path", key.Path),
		slog.String("client", key.Endpoint),
		slog.String("session", conn.ID()))

	return r, nil
}

// Get returns the responder registered for key, if it is still live.
func (m *Manager) Get(key Key) (*Responder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.responders[key]
	if !ok || !r.alive() {
		return nil, false
	}
	return r, true
}

// Dispatch delivers req to the responder for its path on conn, creating
// the responder if needed. Codes that are not request methods are answered
// with Method Not Allowed and requests for unmounted paths with Not Found,
// both directly on conn.
func (m *Manager) Dispatch(conn Conn, req *message.Request) error {
	if !message.IsMethod(req.Method) {
		conn.Send(message.Reply(req, codes.MethodNotAllowed))
		return nil
	}

	key := Key{Path: req.Path(), Endpoint: conn.RemoteAddr()}

	r, err := m.GetOrCreate(conn, key)
	if err != nil {
		conn.Send(message.Reply(req, errors.Code(err)))
		return err
	}
	return r.Deliver(req)
}

// Notify delivers an asynchronous event to the responder for key.
// It returns false when no live responder accepted the event.
func (m *Manager) Notify(key Key, topic string, payload []byte) bool {
	r, ok := m.Get(key)
	if !ok {
		m.config.Metrics.Dropped("info", "no_responder")
		return false
	}
	return r.Notify(topic, payload)
}

// Count returns the number of registered responders.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.responders)
}

// Wait blocks until every responder goroutine has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// remove unregisters r if it is still the responder registered for key.
func (m *Manager) remove(key Key, r *Responder) {
	m.mu.Lock()
	if cur, ok := m.responders[key]; ok && cur == r {
		delete(m.responders, key)
	}
	m.mu.Unlock()

	m.config.Metrics.ResponderStopped()
	m.config.Logger.Debug("responder stopped",
		slog.String("path", key.Path),
		slog.String("client", key.Endpoint))
}
