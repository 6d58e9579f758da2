// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"context"

	"github.com/absmach/coapgw/pkg/message"
)

// Direction indicates which way a datagram travels.
type Direction int

const (
	// Inbound represents datagrams received from a client.
	Inbound Direction = iota

	// Outbound represents datagrams sent to a client.
	Outbound
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// Codec converts between wire datagrams and the gateway's message types.
// Implementations must be safe for concurrent use.
//
// Decode is called once per received datagram. It returns
// errors.ErrMalformedMessage (possibly wrapped) when the datagram is not a
// valid message; the datagram is then dropped.
//
// Encode is called once per outgoing message. The message ID must already
// be assigned.
type Codec interface {
	Decode(ctx context.Context, data []byte) (*message.Request, error)
	Encode(ctx context.Context, resp *message.Response) ([]byte, error)
}
