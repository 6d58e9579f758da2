// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package responder

import (
	"context"
	"log/slog"
	"time"

	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/handler"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/absmach/coapgw/pkg/metrics"
)

// DefaultMailboxSize is the default number of events a responder queues.
const DefaultMailboxSize = 64

// Conn is the owning connection of a responder.
type Conn interface {
	// ID identifies the connection in logs.
	ID() string

	// RemoteAddr is the remote endpoint the connection talks to.
	RemoteAddr() string

	// Send transmits a message. It must not block on the network.
	Send(resp *message.Response)

	// Context is cancelled when the connection terminates.
	Context() context.Context
}

// Key identifies a responder: one resource path on one remote endpoint.
type Key struct {
	Path     string
	Endpoint string
}

func (k Key) String() string {
	return k.Endpoint + k.Path
}

type requestEvent struct {
	req      *message.Request
	received time.Time
}

type infoEvent struct {
	topic   string
	payload []byte
}

// observation is the observe state of a responder.
// token is non-nil if and only if active is true.
type observation struct {
	active bool
	seq    uint32
	token  []byte
}

// Responder serialises every request and event for a single Key.
// All state is owned by the goroutine started in run; other goroutines
// interact with it only through its mailbox.
type Responder struct {
	key     Key
	conn    Conn
	handler handler.Handler
	hctx    *handler.Context
	mailbox chan any
	done    chan struct{}
	logger  *slog.Logger
	metrics *metrics.Metrics

	obs observation
}

var _ handler.Observer = (*Responder)(nil)

func newResponder(key Key, conn Conn, h handler.Handler, mailboxSize int, logger *slog.Logger, m *metrics.Metrics) *Responder {
	r := &Responder{
		key:     key,
		conn:    conn,
		handler: h,
		mailbox: make(chan any, mailboxSize),
		done:    make(chan struct{}),
		logger:  logger.With(slog.String("path", key.Path), slog.String("client", key.Endpoint)),
		metrics: m,
	}
	r.hctx = &handler.Context{
		Path:       key.Path,
		RemoteAddr: conn.RemoteAddr(),
		SessionID:  conn.ID(),
		Observer:   r,
		Done:       r.done,
	}
	return r
}

// Key returns the responder's key.
func (r *Responder) Key() Key {
	return r.key
}

// Done is closed once the responder has terminated.
func (r *Responder) Done() <-chan struct{} {
	return r.done
}

// Deliver queues an inbound request.
func (r *Responder) Deliver(req *message.Request) error {
	return r.enqueue("request", requestEvent{req: req, received: time.Now()})
}

// Notify queues an asynchronous event. It implements handler.Observer.
func (r *Responder) Notify(topic string, payload []byte) bool {
	return r.enqueue("info", infoEvent{topic: topic, payload: payload}) == nil
}

func (r *Responder) enqueue(kind string, ev any) error {
	if !r.alive() {
		r.metrics.Dropped(kind, "closed")
		return errors.ErrResponderClosed
	}
	select {
	case r.mailbox <- ev:
		return nil
	default:
		r.metrics.Dropped(kind, "mailbox_full")
		r.logger.Warn("mailbox full, dropping event", slog.String("kind", kind))
		return errors.ErrMailboxFull
	}
}

// alive reports whether the responder still accepts events.
func (r *Responder) alive() bool {
	select {
	case <-r.done:
		return false
	default:
	}
	return r.conn.Context().Err() == nil
}

// run is the responder's event loop. It exits when the owning connection
// terminates; onExit is called before Done is closed.
func (r *Responder) run(onExit func()) {
	defer close(r.done)
	defer onExit()

	ctx := r.conn.Context()
	r.logger.Debug("responder started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("connection terminated, stopping responder")
			return
		case ev := <-r.mailbox:
			r.handle(ctx, ev)
		}
	}
}

func (r *Responder) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case requestEvent:
		resp := r.dispatch(ctx, ev.req)
		r.metrics.ObserveRequest(ev.req.Method.String(), resp.Code.String(), len(ev.req.Payload), time.Since(ev.received))
		r.send(resp)
	case infoEvent:
		r.notify(ctx, ev.topic, ev.payload)
	default:
		r.logger.Warn("ignoring unknown event", slog.Any("event", ev))
	}
}

func (r *Responder) send(resp *message.Response) {
	r.metrics.ObserveResponse(len(resp.Payload))
	r.conn.Send(resp)
}
