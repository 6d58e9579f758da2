// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/absmach/coapgw/pkg/codec/coap"
	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/absmach/coapgw/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	coapmsg "github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// socketPair returns a listener standing in for the server socket and a
// client socket bound to a real address.
func socketPair(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	laddr, _ := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	listener, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	client, err := net.ListenUDP("udp", laddr)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() {
		listener.Close()
		client.Close()
	})
	return listener, client
}

func clientAddr(c *net.UDPConn) *net.UDPAddr {
	return c.LocalAddr().(*net.UDPAddr)
}

type waiterFunc func()

func (f waiterFunc) Wait() { f() }

func TestSessionManager_GetOrCreate(t *testing.T) {
	sm := NewSessionManager(discardLogger(), nil, 0)
	listener, client := socketPair(t)

	sess, isNew, err := sm.GetOrCreate(context.Background(), clientAddr(client), listener, &coap.Codec{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if !isNew {
		t.Error("Expected new session")
	}
	if sess.RemoteAddr() != clientAddr(client).String() {
		t.Errorf("Expected remote addr %s, got %s", clientAddr(client), sess.RemoteAddr())
	}

	sess2, isNew2, err := sm.GetOrCreate(context.Background(), clientAddr(client), listener, &coap.Codec{})
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}
	if isNew2 {
		t.Error("Expected existing session, not new")
	}
	if sess2.ID() != sess.ID() {
		t.Error("Expected same session ID")
	}

	sm.Remove(clientAddr(client), "test")
	if sess.Context().Err() == nil {
		t.Error("Expected removed session to be closed")
	}
}

func TestSessionManager_Limit(t *testing.T) {
	sm := NewSessionManager(discardLogger(), nil, 1)
	listener, client := socketPair(t)
	other := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}

	if _, _, err := sm.GetOrCreate(context.Background(), clientAddr(client), listener, &coap.Codec{}); err != nil {
		t.Fatal(err)
	}
	_, _, err := sm.GetOrCreate(context.Background(), other, listener, &coap.Codec{})
	if !errors.Is(err, errors.ErrSessionLimit) {
		t.Errorf("Expected ErrSessionLimit, got %v", err)
	}
}

func TestSessionManager_Cleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New("test", reg)
	sm := NewSessionManager(discardLogger(), m, 0)
	listener, client := socketPair(t)

	sess, _, err := sm.GetOrCreate(context.Background(), clientAddr(client), listener, &coap.Codec{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Manually expire the session
	sess.mu.Lock()
	sess.LastActivity = time.Now().Add(-2 * time.Minute)
	sess.mu.Unlock()

	sm.cleanupExpired(1 * time.Minute)

	if sm.Count() != 0 {
		t.Errorf("Expected 0 sessions after cleanup, got %d", sm.Count())
	}
	if sess.Context().Err() == nil {
		t.Error("Expected session context to be cancelled")
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues(closeTimeout)); got != 1 {
		t.Errorf("sessions closed by timeout = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("active sessions = %v, want 0", got)
	}
}

func TestSessionManager_DrainAll(t *testing.T) {
	sm := NewSessionManager(discardLogger(), nil, 0)
	listener, client := socketPair(t)

	sess, _, err := sm.GetOrCreate(context.Background(), clientAddr(client), listener, &coap.Codec{})
	if err != nil {
		t.Fatal(err)
	}

	err = sm.DrainAll(time.Second, waiterFunc(func() { <-sess.Context().Done() }))
	if err != nil {
		t.Errorf("DrainAll() error = %v", err)
	}
	if sm.Count() != 0 {
		t.Errorf("Expected 0 sessions, got %d", sm.Count())
	}
}

func TestSessionManager_DrainTimeout(t *testing.T) {
	sm := NewSessionManager(discardLogger(), nil, 0)
	block := make(chan struct{})
	defer close(block)

	err := sm.DrainAll(50*time.Millisecond, waiterFunc(func() { <-block }))
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Expected ErrShutdownTimeout, got %v", err)
	}
}

func TestSession_Send(t *testing.T) {
	listener, client := socketPair(t)
	sess := newSession(context.Background(), clientAddr(client), listener, &coap.Codec{}, discardLogger(), nil)
	defer sess.Close()

	read := func() *message.Request {
		t.Helper()
		buf := make([]byte, MaxDatagramSize)
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := client.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		msg, err := (&coap.Codec{}).Decode(context.Background(), buf[:n])
		if err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		return msg
	}

	// Reply to a Confirmable request becomes a piggybacked ACK.
	req := &message.Request{Method: codes.GET, Type: coapmsg.Confirmable, MessageID: 12, Token: []byte{7}}
	if !sess.Dedupe(req.MessageID) {
		t.Fatal("Expected first sighting of message ID")
	}
	sess.Send(message.Reply(req, codes.Content))
	ack := read()
	if ack.Type != coapmsg.Acknowledgement || ack.MessageID != 12 {
		t.Errorf("Unexpected ACK %v %d", ack.Type, ack.MessageID)
	}

	// Duplicate resends the stored reply.
	if sess.Dedupe(req.MessageID) {
		t.Error("Expected duplicate to be detected")
	}
	if dup := read(); dup.MessageID != 12 || dup.Method != codes.Content {
		t.Errorf("Unexpected resend %+v", dup)
	}

	// Notifications get consecutive session message IDs.
	note := &message.Response{Type: coapmsg.Confirmable, MessageID: message.UnassignedID, Code: codes.Content, Token: []byte{7}}
	sess.Send(note)
	sess.Send(note)
	a, b := read(), read()
	if a.Type != coapmsg.Confirmable {
		t.Errorf("Type = %v, want Confirmable", a.Type)
	}
	if uint16(b.MessageID) != uint16(a.MessageID)+1 {
		t.Errorf("Expected consecutive message IDs, got %d and %d", a.MessageID, b.MessageID)
	}
	if note.MessageID != message.UnassignedID {
		t.Error("Expected caller's message to be left untouched")
	}
}

func TestSession_SendAfterClose(t *testing.T) {
	listener, client := socketPair(t)
	sess := newSession(context.Background(), clientAddr(client), listener, &coap.Codec{}, discardLogger(), nil)
	sess.Close()

	sess.Send(&message.Response{Type: coapmsg.NonConfirmable, MessageID: 1, Code: codes.Content})

	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := client.ReadFromUDP(buf); err == nil {
		t.Error("Expected nothing to be sent on a closed session")
	}
}

func TestSession_UpdateActivity(t *testing.T) {
	sess := &Session{
		LastActivity: time.Now().Add(-1 * time.Hour),
	}

	oldTime := sess.GetLastActivity()
	time.Sleep(10 * time.Millisecond)
	sess.UpdateActivity()
	newTime := sess.GetLastActivity()

	if !newTime.After(oldTime) {
		t.Error("Expected LastActivity to be updated")
	}
}

func TestSession_PruneExchanges(t *testing.T) {
	sess := &Session{exchanges: map[int32]*exchange{
		1: {seen: time.Now().Add(-2 * ExchangeLifetime)},
		2: {seen: time.Now()},
	}}

	sess.pruneExchanges(time.Now())
	if _, ok := sess.exchanges[1]; ok {
		t.Error("Expected expired exchange to be pruned")
	}
	if _, ok := sess.exchanges[2]; !ok {
		t.Error("Expected recent exchange to be kept")
	}
}
