// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package responder

import (
	"context"
	"log/slog"

	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// dispatch routes a request to the observe state machine or the handler
// and returns the message to send back.
func (r *Responder) dispatch(ctx context.Context, req *message.Request) *message.Response {
	if !message.IsMethod(req.Method) {
		return message.Reply(req, codes.MethodNotAllowed)
	}

	obs, ok := req.Observe()
	if !ok {
		return r.serve(ctx, req)
	}

	switch obs {
	case message.ObserveRegister:
		return r.register(ctx, req)
	case message.ObserveDeregister:
		return r.deregister(ctx, req)
	default:
		r.logger.Debug("unsupported observe value", slog.Uint64("observe", uint64(obs)))
		return message.Reply(req, codes.BadOption)
	}
}

// serve handles a request that carries no Observe option.
func (r *Responder) serve(ctx context.Context, req *message.Request) *message.Response {
	rep, err := r.handler.HandleRequest(ctx, r.hctx, req)
	switch {
	case errors.Is(err, errors.ErrNotSupported):
		return message.ResetFor(req)
	case err != nil:
		r.logger.Debug("handler returned error",
			slog.String("method", req.Method.String()),
			slog.String("error", err.Error()))
		return message.Reply(req, errors.Code(err))
	}

	rep = representation(rep)
	if !preconditionsMet(req, rep) {
		return message.Reply(req, codes.PreconditionFailed)
	}
	return buildResponse(req, rep, nil)
}
