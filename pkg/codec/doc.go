// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package codec defines the interface between datagram transports and the
// message types handled by responders.
//
// The transport owns sockets and sessions; a Codec only translates bytes.
// See package coap for the RFC 7252 implementation.
package codec
