// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	coapmsg "github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// UnassignedID marks a message whose ID is chosen by the transport when
// it is sent, as for server-initiated notifications.
const UnassignedID int32 = -1

// Observe option values carried by requests.
const (
	ObserveRegister   uint32 = 0
	ObserveDeregister uint32 = 1
)

// MaxSequence is the largest Observe sequence number (24 bits).
const MaxSequence uint32 = 0xFFFFFF

// Request is an inbound CoAP request as seen by a responder.
type Request struct {
	Method    codes.Code
	Type      coapmsg.Type
	MessageID int32
	Token     []byte
	Options   Options
	Payload   []byte
}

// Path returns the request path assembled from its Uri-Path options.
func (r *Request) Path() string {
	return r.Options.Path()
}

// Observe returns the Observe option value and whether it is present.
func (r *Request) Observe() (uint32, bool) {
	if !r.Options.Has(coapmsg.Observe) {
		return 0, false
	}
	v, ok := r.Options.Uint32(coapmsg.Observe)
	if !ok {
		// Present but undecodable; report a value the dispatcher rejects.
		return MaxSequence + 1, true
	}
	return v, true
}

// ETags returns the request's ETag option values.
func (r *Request) ETags() [][]byte {
	return r.Options.All(coapmsg.ETag)
}

// Representation is a handler-produced candidate response that has not
// yet been turned into a wire response.
type Representation struct {
	Code    codes.Code
	ETag    []byte
	Payload []byte

	// ContentFormat is emitted as a Content-Format option when set.
	ContentFormat *coapmsg.MediaType

	// MaxAge in seconds is emitted as a Max-Age option when non-zero.
	MaxAge uint32
}

// Response is an outgoing CoAP message addressed to a session.
type Response struct {
	Type      coapmsg.Type
	MessageID int32
	Token     []byte
	Code      codes.Code
	Options   Options
	Payload   []byte
}

// Observe returns the Observe sequence carried by the response, if any.
func (r *Response) Observe() (uint32, bool) {
	if !r.Options.Has(coapmsg.Observe) {
		return 0, false
	}
	return r.Options.Uint32(coapmsg.Observe)
}

// ETag returns the response's ETag option, if any.
func (r *Response) ETag() ([]byte, bool) {
	return r.Options.Get(coapmsg.ETag)
}

// IsMethod reports whether c is one of the request methods a responder
// dispatches to its handler.
func IsMethod(c codes.Code) bool {
	switch c {
	case codes.GET, codes.POST, codes.PUT, codes.DELETE:
		return true
	default:
		return false
	}
}

// Reply builds a response that mirrors the request's type, ID and token.
func Reply(req *Request, code codes.Code) *Response {
	return &Response{
		Type:      req.Type,
		MessageID: req.MessageID,
		Token:     req.Token,
		Code:      code,
	}
}

// ResetFor builds a Reset message for the request. Only the message ID is
// mirrored.
func ResetFor(req *Request) *Response {
	return &Response{
		Type:      coapmsg.Reset,
		MessageID: req.MessageID,
		Code:      codes.Empty,
	}
}
