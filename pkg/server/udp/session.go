// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/coapgw/pkg/codec"
	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/absmach/coapgw/pkg/metrics"
	"github.com/absmach/coapgw/pkg/responder"
	"github.com/google/uuid"
	coapmsg "github.com/plgd-dev/go-coap/v3/message"
)

// ExchangeLifetime is how long a Confirmable message ID is remembered for
// duplicate detection (RFC 7252, section 4.8.2).
const ExchangeLifetime = 247 * time.Second

// Session close reasons.
const (
	closeTimeout  = "timeout"
	closeShutdown = "shutdown"
)

// exchange is a Confirmable request seen from the client. reply is nil
// until the responder has answered it.
type exchange struct {
	seen  time.Time
	reply []byte
}

// Session represents a virtual UDP "connection" for a specific client.
// Since UDP is connectionless, we maintain session state per client address.
// It implements responder.Conn: every responder created for the client is
// bound to the session and stops when the session closes.
type Session struct {
	// id is a unique identifier for this session
	id string

	// Remote is the client's UDP address
	Remote *net.UDPAddr

	// LastActivity tracks the last time a packet was received/sent
	LastActivity time.Time

	// Created is when the session was opened
	Created time.Time

	listener *net.UDPConn
	codec    codec.Codec
	logger   *slog.Logger
	metrics  *metrics.Metrics
	nextMID  atomic.Uint32

	// ctx and cancel are used to terminate the session
	ctx    context.Context
	cancel context.CancelFunc

	// mu protects LastActivity and exchanges
	mu        sync.Mutex
	exchanges map[int32]*exchange
}

var _ responder.Conn = (*Session)(nil)

func newSession(ctx context.Context, remote *net.UDPAddr, listener *net.UDPConn, c codec.Codec, logger *slog.Logger, m *metrics.Metrics) *Session {
	id := uuid.New().String()
	sessCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	s := &Session{
		id:           id,
		Remote:       remote,
		LastActivity: now,
		Created:      now,
		listener:     listener,
		codec:        c,
		logger:       logger.With(slog.String("session", id), slog.String("client", remote.String())),
		metrics:      m,
		ctx:          sessCtx,
		cancel:       cancel,
		exchanges:    make(map[int32]*exchange),
	}
	s.nextMID.Store(rand.Uint32N(0x10000))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the client address as host:port.
func (s *Session) RemoteAddr() string {
	return s.Remote.String()
}

// Context is cancelled when the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Send encodes resp and writes it to the client.
//
// Messages without an ID get the next ID of the session. A reply to a
// Confirmable request is sent as a piggybacked Acknowledgement and kept
// for duplicate detection.
func (s *Session) Send(resp *message.Response) {
	if s.ctx.Err() != nil {
		s.metrics.Datagram(codec.Outbound.String(), "closed")
		return
	}

	out := *resp
	piggyback := false
	switch {
	case out.MessageID == message.UnassignedID:
		out.MessageID = s.allocateMID()
	case out.Type == coapmsg.Confirmable:
		out.Type = coapmsg.Acknowledgement
		piggyback = true
	}

	data, err := s.codec.Encode(s.ctx, &out)
	if err != nil {
		s.metrics.Datagram(codec.Outbound.String(), "encode_error")
		s.logger.Error("failed to encode message", slog.String("error", err.Error()))
		return
	}

	if piggyback {
		s.mu.Lock()
		if ex, ok := s.exchanges[out.MessageID]; ok {
			ex.reply = data
		}
		s.mu.Unlock()
	}

	s.write(data)
}

func (s *Session) write(data []byte) {
	if _, err := s.listener.WriteToUDP(data, s.Remote); err != nil {
		s.metrics.Datagram(codec.Outbound.String(), "write_error")
		s.logger.Debug("failed to write datagram", slog.String("error", err.Error()))
		return
	}
	s.metrics.Datagram(codec.Outbound.String(), "ok")
	s.UpdateActivity()
}

// Dedupe records an inbound Confirmable message ID. It returns false when
// the ID was seen within ExchangeLifetime; a stored reply is then resent.
func (s *Session) Dedupe(mid int32) bool {
	s.mu.Lock()
	ex, ok := s.exchanges[mid]
	if !ok || time.Since(ex.seen) > ExchangeLifetime {
		s.exchanges[mid] = &exchange{seen: time.Now()}
		s.mu.Unlock()
		return true
	}
	reply := ex.reply
	s.mu.Unlock()

	if reply != nil {
		s.write(reply)
	}
	return false
}

// pruneExchanges forgets message IDs older than ExchangeLifetime.
func (s *Session) pruneExchanges(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for mid, ex := range s.exchanges {
		if now.Sub(ex.seen) > ExchangeLifetime {
			delete(s.exchanges, mid)
		}
	}
}

func (s *Session) allocateMID() int32 {
	return int32(uint16(s.nextMID.Add(1)))
}

// UpdateActivity updates the last activity timestamp for this session.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// GetLastActivity returns the last activity timestamp.
func (s *Session) GetLastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LastActivity
}

// Close terminates the session and every responder bound to it.
func (s *Session) Close() {
	s.cancel()
}

// SessionManager manages multiple UDP sessions keyed by client address.
type SessionManager struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxSessions int
}

// NewSessionManager creates a new session manager.
func NewSessionManager(logger *slog.Logger, m *metrics.Metrics, maxSessions int) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		logger:      logger,
		metrics:     m,
		maxSessions: maxSessions,
	}
}

// GetOrCreate gets an existing session or creates a new one for the given client address.
func (sm *SessionManager) GetOrCreate(ctx context.Context, clientAddr *net.UDPAddr, listener *net.UDPConn, c codec.Codec) (*Session, bool, error) {
	key := clientAddr.String()

	// Try to get existing session (read lock)
	sm.mu.RLock()
	if sess, ok := sm.sessions[key]; ok {
		sm.mu.RUnlock()
		sess.UpdateActivity()
		return sess, false, nil
	}
	sm.mu.RUnlock()

	// Create new session (write lock)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// Double-check in case another goroutine created it
	if sess, ok := sm.sessions[key]; ok {
		sess.UpdateActivity()
		return sess, false, nil
	}

	// Check session limit
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return nil, false, errors.ErrSessionLimit
	}

	sess := newSession(ctx, clientAddr, listener, c, sm.logger, sm.metrics)
	sm.sessions[key] = sess
	sm.metrics.SessionOpened()

	sm.logger.Debug("new UDP session created",
		slog.String("session", sess.id),
		slog.String("client", key))

	return sess, true, nil
}

// Get returns an existing session for the given client address.
func (sm *SessionManager) Get(clientAddr *net.UDPAddr) (*Session, bool) {
	key := clientAddr.String()
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	sess, ok := sm.sessions[key]
	return sess, ok
}

// Remove closes and removes the session for the given client address.
func (sm *SessionManager) Remove(clientAddr *net.UDPAddr, reason string) {
	key := clientAddr.String()
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sess, ok := sm.sessions[key]; ok {
		sm.closeLocked(key, sess, reason)
	}
}

// Cleanup removes expired sessions based on the timeout.
// Should be called periodically in a background goroutine.
func (sm *SessionManager) Cleanup(ctx context.Context, timeout time.Duration) {
	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.cleanupExpired(timeout)
		}
	}
}

// cleanupExpired removes sessions that haven't been active within the
// timeout and prunes the exchange history of the rest.
func (sm *SessionManager) cleanupExpired(timeout time.Duration) {
	now := time.Now()
	var toRemove []string

	sm.mu.RLock()
	for key, sess := range sm.sessions {
		if now.Sub(sess.GetLastActivity()) > timeout {
			toRemove = append(toRemove, key)
			continue
		}
		sess.pruneExchanges(now)
	}
	sm.mu.RUnlock()

	if len(toRemove) == 0 {
		return
	}

	sm.mu.Lock()
	for _, key := range toRemove {
		if sess, ok := sm.sessions[key]; ok {
			sm.logger.Debug("session timeout",
				slog.String("session", sess.id),
				slog.String("client", key))
			sm.closeLocked(key, sess, closeTimeout)
		}
	}
	sm.mu.Unlock()

	sm.logger.Debug("cleaned up expired sessions", slog.Int("count", len(toRemove)))
}

// Waiter is implemented by components whose goroutines stop once their
// sessions close.
type Waiter interface {
	Wait()
}

// DrainAll closes every session and waits for w to finish, up to timeout.
func (sm *SessionManager) DrainAll(timeout time.Duration, w Waiter) error {
	sm.logger.Info("draining all UDP sessions", slog.Int("sessions", sm.Count()))
	sm.ForceCloseAll()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
		sm.logger.Info("all sessions drained")
		return nil
	case <-time.After(timeout):
		sm.logger.Warn("drain timeout exceeded")
		return ErrShutdownTimeout
	}
}

// ForceCloseAll closes all sessions.
func (sm *SessionManager) ForceCloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for key, sess := range sm.sessions {
		sm.logger.Debug("closing session", slog.String("session", sess.id))
		sm.closeLocked(key, sess, closeShutdown)
	}
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *SessionManager) closeLocked(key string, sess *Session, reason string) {
	sess.Close()
	delete(sm.sessions, key)
	sm.metrics.SessionClosed(reason, time.Since(sess.Created))
}
