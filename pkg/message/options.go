// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"bytes"
	"strings"

	coapmsg "github.com/plgd-dev/go-coap/v3/message"
)

// Option is a single CoAP option instance.
type Option struct {
	ID    coapmsg.OptionID
	Value []byte
}

// Options is an ordered multimap of CoAP options.
// Insertion order is preserved and an ID may appear more than once,
// since options such as ETag, If-Match and Uri-Path repeat.
type Options []Option

// Add appends an option and returns the extended list.
func (o Options) Add(id coapmsg.OptionID, value []byte) Options {
	return append(o, Option{ID: id, Value: value})
}

// AddUint32 appends an option holding the minimal big-endian encoding of v.
func (o Options) AddUint32(id coapmsg.OptionID, v uint32) Options {
	return o.Add(id, encodeUint32(v))
}

// AddString appends a string-valued option.
func (o Options) AddString(id coapmsg.OptionID, s string) Options {
	return o.Add(id, []byte(s))
}

// Has reports whether at least one option with the given ID is present.
func (o Options) Has(id coapmsg.OptionID) bool {
	for _, opt := range o {
		if opt.ID == id {
			return true
		}
	}
	return false
}

// Get returns the value of the first option with the given ID.
func (o Options) Get(id coapmsg.OptionID) ([]byte, bool) {
	for _, opt := range o {
		if opt.ID == id {
			return opt.Value, true
		}
	}
	return nil, false
}

// All returns the values of every option with the given ID in insertion order.
func (o Options) All(id coapmsg.OptionID) [][]byte {
	var values [][]byte
	for _, opt := range o {
		if opt.ID == id {
			values = append(values, opt.Value)
		}
	}
	return values
}

// Contains reports whether an option with the given ID holds exactly value.
func (o Options) Contains(id coapmsg.OptionID, value []byte) bool {
	for _, opt := range o {
		if opt.ID == id && bytes.Equal(opt.Value, value) {
			return true
		}
	}
	return false
}

// Uint32 decodes the first option with the given ID as an unsigned integer.
// The second return value is false when the option is absent or malformed.
func (o Options) Uint32(id coapmsg.OptionID) (uint32, bool) {
	v, ok := o.Get(id)
	if !ok {
		return 0, false
	}
	if len(v) == 0 {
		return 0, true
	}
	n, _, err := coapmsg.DecodeUint32(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Remove returns a copy of the options with every instance of id removed.
func (o Options) Remove(id coapmsg.OptionID) Options {
	out := make(Options, 0, len(o))
	for _, opt := range o {
		if opt.ID != id {
			out = append(out, opt)
		}
	}
	return out
}

// Path joins the Uri-Path options into a slash-prefixed path.
func (o Options) Path() string {
	segs := o.All(coapmsg.URIPath)
	if len(segs) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		b.Write(s)
	}
	return b.String()
}

// Queries returns the Uri-Query options as strings.
func (o Options) Queries() []string {
	var qs []string
	for _, v := range o.All(coapmsg.URIQuery) {
		qs = append(qs, string(v))
	}
	return qs
}

func encodeUint32(v uint32) []byte {
	buf := make([]byte, 4)
	n, err := coapmsg.EncodeUint32(buf, v)
	if err != nil {
		return nil
	}
	return buf[:n]
}
