// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message defines the transport-neutral CoAP messages exchanged
// between sessions, responders and resource handlers.
//
// Option IDs, response codes and message types are the ones defined by
// github.com/plgd-dev/go-coap/v3, so the codec can translate to and from
// wire messages without a lookup table.
//
// Options is an ordered multimap: options keep their insertion order and an
// option ID may repeat (ETag, If-Match, Uri-Path, Uri-Query).
package message
