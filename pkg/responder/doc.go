// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package responder implements the per-resource CoAP request/response and
// Observe (RFC 7641) state machine.
//
// # Overview
//
// A Responder exists for every (resource path, remote endpoint) pair that
// has received a request. It runs in its own goroutine and processes its
// mailbox strictly in arrival order, so its state needs no locks. Different
// responders share nothing and run in parallel.
//
//	Session ──Deliver──→ ┌───────────┐ ──HandleRequest───→ ┌─────────┐
//	                     │ Responder │ ──HandleObserve───→ │ Handler │
//	Events ───Notify───→ │ (mailbox) │ ──HandleUnobserve─→ │         │
//	                     └───────────┘ ──HandleInfo──────→ └─────────┘
//	                           │
//	                           └──Send──→ Session
//
// # Dispatch
//
// Requests with a method other than GET, POST, PUT or DELETE are answered
// with Method Not Allowed. Otherwise the Observe option selects the flow:
//   - absent: HandleRequest, then If-Match/If-None-Match evaluation
//   - 0: register an observation
//   - 1: cancel the observation
//   - anything else: Bad Option
//
// # Observe State Machine
//
//	NotObserving ──Observe=0, handler ok──→ Observing
//	Observing    ──Observe=1, handler ok──→ NotObserving
//	Observing    ──Observe=0──→ Bad Request (unchanged)
//	NotObserving ──Observe=1──→ Bad Request (unchanged)
//
// Every accepted transition and every notification advances the 24-bit
// Observe sequence number (see NextSequence).
//
// # Lifecycle
//
// Responders are created lazily by Manager.GetOrCreate and bound to the
// Conn that delivered the first request. When the Conn's context is
// cancelled the responder stops and unregisters itself; this is normal
// teardown and is not reported as an error.
package responder
