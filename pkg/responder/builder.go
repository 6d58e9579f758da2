// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package responder

import (
	"bytes"

	"github.com/absmach/coapgw/pkg/message"
	coapmsg "github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

// buildResponse assembles the outgoing message for req from rep.
// Type, message ID and token always mirror the request. When the request
// already holds the representation's ETag the payload is elided and the
// code becomes Valid. extra is appended in both cases.
func buildResponse(req *message.Request, rep *message.Representation, extra message.Options) *message.Response {
	if cached(req, rep) {
		resp := message.Reply(req, codes.Valid)
		resp.Options = resp.Options.Add(coapmsg.ETag, rep.ETag)
		resp.Options = append(resp.Options, extra...)
		return resp
	}

	resp := message.Reply(req, rep.Code)
	if rep.ETag != nil {
		resp.Options = resp.Options.Add(coapmsg.ETag, rep.ETag)
	}
	if rep.ContentFormat != nil {
		resp.Options = resp.Options.AddUint32(coapmsg.ContentFormat, uint32(*rep.ContentFormat))
	}
	if rep.MaxAge > 0 {
		resp.Options = resp.Options.AddUint32(coapmsg.MaxAge, rep.MaxAge)
	}
	resp.Options = append(resp.Options, extra...)
	resp.Payload = rep.Payload
	return resp
}

func cached(req *message.Request, rep *message.Representation) bool {
	if rep.ETag == nil {
		return false
	}
	for _, tag := range req.ETags() {
		if bytes.Equal(tag, rep.ETag) {
			return true
		}
	}
	return false
}

func observeOption(seq uint32) message.Options {
	return message.Options{}.AddUint32(coapmsg.Observe, seq)
}

// representation normalises a handler result: nil becomes an empty
// Content representation and a missing code defaults to Content.
func representation(rep *message.Representation) *message.Representation {
	if rep == nil {
		return &message.Representation{Code: codes.Content}
	}
	if rep.Code == codes.Empty {
		r := *rep
		r.Code = codes.Content
		return &r
	}
	return rep
}
