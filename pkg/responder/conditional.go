// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package responder

import (
	"bytes"

	"github.com/absmach/coapgw/pkg/message"
	coapmsg "github.com/plgd-dev/go-coap/v3/message"
)

// preconditionsMet evaluates If-Match and If-None-Match against a
// representation the handler produced for req.
func preconditionsMet(req *message.Request, rep *message.Representation) bool {
	return ifMatch(req, rep) && ifNoneMatch(req)
}

// ifMatch passes when the request carries no If-Match option or when one
// of its values equals the representation's ETag. A representation without
// an ETag only matches an empty If-Match value.
func ifMatch(req *message.Request, rep *message.Representation) bool {
	values := req.Options.All(coapmsg.IfMatch)
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if bytes.Equal(v, rep.ETag) {
			return true
		}
	}
	return false
}

// ifNoneMatch fails whenever the option is present: it is only evaluated
// once a representation exists.
func ifNoneMatch(req *message.Request) bool {
	return !req.Options.Has(coapmsg.IfNoneMatch)
}
