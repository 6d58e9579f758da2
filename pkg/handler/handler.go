// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"

	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// Observer accepts asynchronous events for a responder.
// Notify enqueues the event and never blocks on the handler; it returns
// false when the event could not be queued.
type Observer interface {
	Notify(topic string, payload []byte) bool
}

// Context describes the resource instance a handler call is made for.
// One Context exists per responder and lives as long as it does.
type Context struct {
	// Path is the resource path the responder was created for
	Path string

	// RemoteAddr is the client's network address
	RemoteAddr string

	// SessionID is the identifier of the owning session
	SessionID string

	// Observer delivers asynchronous events back to the owning responder
	Observer Observer

	// Done is closed when the responder terminates
	Done <-chan struct{}
}

// Handler is the capability a responder drives on behalf of a resource.
//
// All methods are invoked sequentially from the responder's goroutine, so a
// handler instance shared between responders must be safe for concurrent
// use, while per-responder state needs no locking.
//
// Errors are reported as response codes: wrap a code with errors.Status or
// errors.WithStatus. HandleRequest may return errors.ErrNotSupported to
// answer with a Reset message. Other errors map to Internal Server Error.
type Handler interface {
	// HandleRequest serves an ordinary request (no Observe option).
	HandleRequest(ctx context.Context, hctx *Context, req *message.Request) (*message.Representation, error)

	// HandleObserve registers the client for notifications.
	// The returned representation is the current state of the resource.
	HandleObserve(ctx context.Context, hctx *Context, req *message.Request) (*message.Representation, error)

	// HandleUnobserve removes the client's registration.
	HandleUnobserve(ctx context.Context, hctx *Context, req *message.Request) (*message.Representation, error)

	// HandleInfo translates an asynchronous event into a notification.
	// Returning false suppresses the notification.
	HandleInfo(ctx context.Context, hctx *Context, topic string, payload []byte) (*message.Representation, bool)
}

// NoopHandler is a Handler that supports nothing.
// Requests are answered with a Reset, observation is refused with
// Method Not Allowed and events never produce notifications.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) HandleRequest(ctx context.Context, hctx *Context, req *message.Request) (*message.Representation, error) {
	return nil, errors.ErrNotSupported
}

func (h *NoopHandler) HandleObserve(ctx context.Context, hctx *Context, req *message.Request) (*message.Representation, error) {
	return nil, errors.Status(codes.MethodNotAllowed)
}

func (h *NoopHandler) HandleUnobserve(ctx context.Context, hctx *Context, req *message.Request) (*message.Representation, error) {
	return nil, errors.Status(codes.MethodNotAllowed)
}

func (h *NoopHandler) HandleInfo(ctx context.Context, hctx *Context, topic string, payload []byte) (*message.Representation, bool) {
	return nil, false
}
