// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"strings"
	"sync"
	"testing"

	coaperrors "github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/handler"
)

type namedHandler struct {
	handler.NoopHandler
	name string
}

func TestRegistry_Match(t *testing.T) {
	r := New()
	root := &namedHandler{name: "root"}
	ps := &namedHandler{name: "ps"}
	psRoom := &namedHandler{name: "ps-room"}

	for prefix, h := range map[string]handler.Handler{"/": root, "/ps": ps, "/ps/room": psRoom} {
		if err := r.Register(prefix, h); err != nil {
			t.Fatalf("Register(%q) error = %v", prefix, err)
		}
	}

	tests := []struct {
		path string
		want string
	}{
		{"/ps/room/temp", "ps-room"},
		{"/ps/room", "ps-room"},
		{"/ps/roomy", "ps"},
		{"/ps", "ps"},
		{"/sensor", "root"},
		{"/", "root"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			h, err := r.Match(tt.path)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if got := h.(*namedHandler).name; got != tt.want {
				t.Errorf("Match(%q) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestRegistry_NotFound(t *testing.T) {
	r := New()
	if err := r.Register("/ps", &namedHandler{name: "ps"}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Match("/sensor")
	if !errors.Is(err, coaperrors.ErrNotFound) {
		t.Errorf("Match() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := New()
	_ = r.Register("/a", &namedHandler{name: "first"})
	_ = r.Register("a/", &namedHandler{name: "second"})

	if n := len(r.Prefixes()); n != 1 {
		t.Fatalf("Expected 1 mount, got %d", n)
	}
	h, _ := r.Match("/a")
	if h.(*namedHandler).name != "second" {
		t.Error("Expected second registration to replace first")
	}

	if err := r.Register("/b", nil); err == nil {
		t.Error("Expected error for nil handler")
	}
}

func TestRegistry_ConcurrentMatch(t *testing.T) {
	r := New()
	_ = r.Register("/", &namedHandler{name: "root"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Match("/x/y"); err != nil {
				t.Errorf("Match() error = %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestRegistry_Load(t *testing.T) {
	doc := `
resources:
  - prefix: /ps
    handler: named
    params:
      name: pubsub
  - prefix: /
    handler: named
    params:
      name: store
`
	builders := map[string]Builder{
		"named": func(m Mount) (handler.Handler, error) {
			return &namedHandler{name: m.Params["name"]}, nil
		},
	}

	r := New()
	if err := r.Load(strings.NewReader(doc), builders); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	h, err := r.Match("/ps/a")
	if err != nil {
		t.Fatal(err)
	}
	if h.(*namedHandler).name != "pubsub" {
		t.Errorf("Expected pubsub handler, got %s", h.(*namedHandler).name)
	}
}

func TestRegistry_LoadErrors(t *testing.T) {
	builders := map[string]Builder{
		"ok": func(m Mount) (handler.Handler, error) { return &handler.NoopHandler{}, nil },
		"fail": func(m Mount) (handler.Handler, error) {
			return nil, errors.New("broker unavailable")
		},
	}

	tests := []struct {
		name string
		doc  string
	}{
		{"unknown handler", "resources:\n  - prefix: /a\n    handler: nope\n"},
		{"missing prefix", "resources:\n  - handler: ok\n"},
		{"builder error", "resources:\n  - prefix: /a\n    handler: fail\n"},
		{"unknown field", "resources:\n  - prefix: /a\n    handler: ok\n    color: red\n"},
		{"invalid yaml", "resources: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := New().Load(strings.NewReader(tt.doc), builders); err == nil {
				t.Error("Expected Load() to fail")
			}
		})
	}

	if err := New().Load(strings.NewReader(""), builders); err != nil {
		t.Errorf("Expected empty document to load, got %v", err)
	}
}
