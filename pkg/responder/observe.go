// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package responder

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/message"
	coapmsg "github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// register handles Observe=0.
// Re-registration while observing is rejected and leaves the existing
// subscription untouched.
func (r *Responder) register(ctx context.Context, req *message.Request) *message.Response {
	if r.obs.active {
		r.metrics.Transition("register", "rejected")
		r.logger.Debug("already observing, rejecting registration")
		return message.Reply(req, codes.BadRequest)
	}

	rep, err := r.handler.HandleObserve(ctx, r.hctx, req)
	if err != nil {
		r.metrics.Transition("register", "failed")
		r.logger.Debug("observe handler failed", slog.String("error", err.Error()))
		return message.Reply(req, errors.Code(err))
	}

	seq := NextSequence(r.obs.seq)
	r.obs = observation{
		active: true,
		seq:    seq,
		token:  bytes.Clone(nonNil(req.Token)),
	}
	r.metrics.Transition("register", "accepted")
	r.logger.Debug("observing", slog.Uint64("seq", uint64(seq)))

	return buildResponse(req, representation(rep), observeOption(seq))
}

// deregister handles Observe=1.
func (r *Responder) deregister(ctx context.Context, req *message.Request) *message.Response {
	if !r.obs.active {
		r.metrics.Transition("deregister", "rejected")
		r.logger.Debug("not observing, rejecting deregistration")
		return message.Reply(req, codes.BadRequest)
	}

	if _, err := r.handler.HandleUnobserve(ctx, r.hctx, req); err != nil {
		r.metrics.Transition("deregister", "failed")
		r.logger.Debug("unobserve handler failed", slog.String("error", err.Error()))
		return message.Reply(req, errors.Code(err))
	}

	seq := NextSequence(r.obs.seq)
	r.obs = observation{seq: seq}
	r.metrics.Transition("deregister", "accepted")
	r.logger.Debug("observation cancelled", slog.Uint64("seq", uint64(seq)))

	return buildResponse(req, &message.Representation{Code: codes.Content}, observeOption(seq))
}

// notify turns an asynchronous event into a notification for the
// registered observer. Events arriving while not observing are discarded.
func (r *Responder) notify(ctx context.Context, topic string, payload []byte) {
	if !r.obs.active {
		r.metrics.Notification("discarded")
		r.logger.Debug("not observing, discarding event", slog.String("topic", topic))
		return
	}

	rep, ok := r.handler.HandleInfo(ctx, r.hctx, topic, payload)
	if !ok || rep == nil {
		r.metrics.Notification("suppressed")
		return
	}

	req := &message.Request{
		Method:    codes.GET,
		Type:      coapmsg.Confirmable,
		MessageID: message.UnassignedID,
		Token:     r.obs.token,
	}
	n := *rep
	n.Code = codes.Content

	seq := NextSequence(r.obs.seq)
	r.obs.seq = seq
	r.metrics.Notification("sent")
	r.send(buildResponse(req, &n, observeOption(seq)))
}

// nonNil keeps an empty token distinguishable from "no observation".
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
