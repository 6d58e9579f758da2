// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package responder

import "github.com/absmach/coapgw/pkg/message"

// NextSequence returns the Observe sequence number that follows current.
// Sequence numbers are 24 bits wide and wrap to zero after 0xFFFFFF.
func NextSequence(current uint32) uint32 {
	if current >= message.MaxSequence {
		return 0
	}
	return current + 1
}
