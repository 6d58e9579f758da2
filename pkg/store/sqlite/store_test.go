// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/absmach/coapgw/examples/simple"
	"github.com/absmach/coapgw/pkg/errors"
	"github.com/absmach/coapgw/pkg/handler"
	"github.com/absmach/coapgw/pkg/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(Config{Path: path, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "nested", "coapgw.db"))
	ctx := context.Background()

	if _, _, err := s.Get(ctx, "/a"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	v1, created, err := s.Put(ctx, "/a", []byte("1"))
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("Expected first Put to create")
	}

	v2, created, err := s.Put(ctx, "/a", []byte("2"))
	if err != nil {
		t.Fatal(err)
	}
	if created || v2 <= v1 {
		t.Errorf("Put() update = %d, %v", v2, created)
	}

	value, version, err := s.Get(ctx, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != "2" || version != v2 {
		t.Errorf("Get() = %q, %d", value, version)
	}

	if err := s.Delete(ctx, "/a"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Get(ctx, "/a"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "/a"); err != nil {
		t.Errorf("Deleting a missing path: %v", err)
	}

	v3, created, _ := s.Put(ctx, "/a", []byte("3"))
	if !created || v3 <= v2 {
		t.Errorf("Expected recreated path to get a fresh version, got %d", v3)
	}
}

func TestStore_EmptyValue(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "coapgw.db"))
	ctx := context.Background()

	if _, _, err := s.Put(ctx, "/empty", nil); err != nil {
		t.Fatal(err)
	}
	value, _, err := s.Get(ctx, "/empty")
	if err != nil {
		t.Fatal(err)
	}
	if len(value) != 0 {
		t.Errorf("value = %q, want empty", value)
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coapgw.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	v1, _, err := s.Put(ctx, "/a", []byte("kept"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s = openTestStore(t, path)
	value, version, err := s.Get(ctx, "/a")
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != "kept" || version != v1 {
		t.Errorf("Get() after reopen = %q, %d", value, version)
	}
	if v2, _, _ := s.Put(ctx, "/b", nil); v2 <= v1 {
		t.Errorf("Expected versions to continue after reopen, got %d after %d", v2, v1)
	}
}

func TestStore_HealthCheck(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "coapgw.db"))
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestStore_BacksHandler(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "coapgw.db"))
	h := simple.NewWithStore(s, nil)
	hctx := &handler.Context{Path: "/sensor/temp"}
	ctx := context.Background()

	put, err := h.HandleRequest(ctx, hctx, &message.Request{Method: codes.PUT, Payload: []byte("19")})
	if err != nil {
		t.Fatal(err)
	}
	get, err := h.HandleRequest(ctx, hctx, &message.Request{Method: codes.GET})
	if err != nil {
		t.Fatal(err)
	}
	if string(get.Payload) != "19" || string(get.ETag) != string(put.ETag) {
		t.Errorf("GET = %q etag %x, want etag %x", get.Payload, get.ETag, put.ETag)
	}
}
