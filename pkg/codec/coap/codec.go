// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"bytes"
	"context"
	"fmt"

	"github.com/absmach/coapgw/pkg/codec"
	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

// Codec implements codec.Codec for CoAP over UDP.
type Codec struct{}

var _ codec.Codec = (*Codec)(nil)

// Decode parses a single CoAP datagram.
func (c *Codec) Decode(ctx context.Context, data []byte) (*message.Request, error) {
	msg := pool.NewMessage(ctx)
	defer msg.Reset()

	if _, err := msg.UnmarshalWithDecoder(coder.DefaultCoder, data); err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrMalformedMessage, err)
	}

	req := &message.Request{
		Method:    msg.Code(),
		Type:      msg.Type(),
		MessageID: msg.MessageID(),
		Token:     bytes.Clone(msg.Token()),
	}
	for _, opt := range msg.Options() {
		req.Options = req.Options.Add(opt.ID, bytes.Clone(opt.Value))
	}

	if msg.Body() != nil {
		body, err := msg.ReadBody()
		if err != nil {
			return nil, fmt.Errorf("%w: reading body: %w", errors.ErrMalformedMessage, err)
		}
		req.Payload = body
	}

	return req, nil
}

// Encode serialises resp into a CoAP datagram.
func (c *Codec) Encode(ctx context.Context, resp *message.Response) ([]byte, error) {
	if resp.MessageID < 0 {
		return nil, fmt.Errorf("encoding %s: message ID not assigned", resp.Code)
	}

	msg := pool.NewMessage(ctx)
	defer msg.Reset()

	msg.SetCode(resp.Code)
	msg.SetType(resp.Type)
	msg.SetMessageID(resp.MessageID)
	if len(resp.Token) > 0 {
		msg.SetToken(resp.Token)
	}
	for _, opt := range resp.Options {
		msg.AddOptionBytes(opt.ID, opt.Value)
	}
	if len(resp.Payload) > 0 {
		msg.SetBody(bytes.NewReader(resp.Payload))
	}

	data, err := msg.MarshalWithEncoder(coder.DefaultCoder)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal CoAP message: %w", err)
	}
	return data, nil
}
