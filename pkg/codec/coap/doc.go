// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap implements codec.Codec for CoAP over UDP (RFC 7252) using
// the go-coap message pool and its UDP coder.
//
// Options are copied out of the pooled message, so decoded requests stay
// valid after the pooled message is returned. Repeated options keep their
// relative order.
package coap
