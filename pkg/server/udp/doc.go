// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udp implements the CoAP over UDP transport for coapgw.
//
// # Overview
//
// The UDP server handles connectionless traffic by creating a session for
// each unique client address. A session is the owning connection of every
// responder created for that client: closing the session stops them.
//
// # Architecture
//
//	┌────────┐         ┌────────┐  Decode   ┌───────┐
//	│ Client │ ←─UDP─→ │ Server │ ────────→ │ Codec │
//	└────────┘         └────────┘           └───────┘
//	                        │
//	                        ↓
//	                  ┌──────────┐ Dispatch ┌──────────────┐
//	                  │ Session  │ ───────→ │  Dispatcher  │
//	                  │ Manager  │ ←─Send── │ (responders) │
//	                  └──────────┘          └──────────────┘
//
// # Packet Flow
//
//	1. Reader goroutine receives a datagram and queues it to the worker pool
//	2. A worker decodes it; malformed datagrams are dropped
//	3. The worker gets or creates the session for the client address
//	4. Empty Confirmable messages (pings) are answered with Reset
//	5. Duplicate Confirmable message IDs are answered from the exchange cache
//	6. Requests are passed to the Dispatcher
//
// # Message Layer
//
// Replies to Confirmable requests are sent as piggybacked Acknowledgements.
// Notifications carry no message ID when they reach the session; the session
// assigns the next ID from its counter and sends them as Confirmable.
//
// # Session Lifecycle
//
//	Create:  first valid datagram from a new client IP:Port
//	Active:  datagrams in either direction update LastActivity
//	Timeout: no traffic for SessionTimeout; the cleanup goroutine closes it
//	Close:   the session context is cancelled, which stops its responders
//
// # Graceful Shutdown
//
// When the listen context is cancelled:
//
//	1. The listener is closed and the read loop exits
//	2. The worker pool drains and stops
//	3. Every session is closed
//	4. The server waits for the Dispatcher's responders to stop
//	5. ErrShutdownTimeout is returned if that exceeds ShutdownTimeout
//
// # Example
//
//	mgr := responder.NewManager(responder.Config{Logger: logger}, registry)
//	server := udp.New(udp.Config{Address: ":5683"}, &coap.Codec{}, mgr)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package udp
