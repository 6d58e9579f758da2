// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the interface between responders and the resource
// implementations mounted in the registry.
//
// # Architecture Overview
//
// A responder owns one (resource path, remote endpoint) pair. It decodes the
// intent of every request (plain request, observe, unobserve) and calls the
// matching Handler method. Handlers never build wire messages: they return a
// Representation or an error carrying a response code.
//
// # Data Flow
//
//	Session → Responder → Handler.HandleRequest / HandleObserve / HandleUnobserve
//	Event source → Observer.Notify → Responder → Handler.HandleInfo → Session
//
// # Handler Methods
//
//   - HandleRequest: GET, POST, PUT and DELETE without an Observe option
//   - HandleObserve: Observe=0 while the responder is not observing
//   - HandleUnobserve: Observe=1 while the responder is observing
//   - HandleInfo: turns an asynchronous event into a notification payload
//
// # Context
//
// The Context carries the resource instance metadata:
//   - Path: the resource path
//   - RemoteAddr, SessionID: the owning session
//   - Observer: pushes events back into the responder's mailbox
//   - Done: closed when the responder terminates, so handlers can release
//     subscriptions they took out in HandleObserve
//
// # Example
//
//	type Clock struct{}
//
//	func (Clock) HandleRequest(ctx context.Context, hctx *handler.Context, req *message.Request) (*message.Representation, error) {
//		if req.Method != codes.GET {
//			return nil, errors.Status(codes.MethodNotAllowed)
//		}
//		return &message.Representation{Code: codes.Content, Payload: []byte(time.Now().String())}, nil
//	}
package handler
