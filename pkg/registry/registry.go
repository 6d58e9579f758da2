// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package registry maps resource path prefixes to handlers.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/handler"
)

type mount struct {
	prefix   []string
	handler  handler.Handler
	original string
}

// Registry resolves a request path to the handler mounted at the longest
// matching segment prefix. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	mounts []mount
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register mounts h at prefix. "/" mounts a catch-all handler.
// Registering the same prefix twice replaces the previous handler.
func (r *Registry) Register(prefix string, h handler.Handler) error {
	if h == nil {
		return fmt.Errorf("register %q: nil handler", prefix)
	}
	segs := split(prefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.mounts {
		if equal(m.prefix, segs) {
			r.mounts[i].handler = h
			return nil
		}
	}
	r.mounts = append(r.mounts, mount{prefix: segs, handler: h, original: prefix})
	// Longest prefix first so Match can stop at the first hit.
	sort.SliceStable(r.mounts, func(i, j int) bool {
		return len(r.mounts[i].prefix) > len(r.mounts[j].prefix)
	})
	return nil
}

// Match returns the handler for path, or errors.ErrNotFound.
func (r *Registry) Match(path string) (handler.Handler, error) {
	segs := split(path)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.mounts {
		if hasPrefix(segs, m.prefix) {
			return m.handler, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, path)
}

// Prefixes returns the mounted prefixes, longest first.
func (r *Registry) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.mounts))
	for _, m := range r.mounts {
		out = append(out, m.original)
	}
	return out
}

func split(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

func hasPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	return equal(segs[:len(prefix)], prefix)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
