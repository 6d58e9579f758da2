// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/absmach/coapgw/pkg/handler"
	"gopkg.in/yaml.v3"
)

// Mount binds a path prefix to a named handler kind.
type Mount struct {
	Prefix  string            `yaml:"prefix"`
	Handler string            `yaml:"handler"`
	Params  map[string]string `yaml:"params"`
}

// MountFile is the on-disk layout of a mounts file.
//
//	resources:
//	  - prefix: /ps
//	    handler: mqtt
//	  - prefix: /sensor
//	    handler: store
//	    params:
//	      temperature: "23.5"
//	  - prefix: /config
//	    handler: sqlite
type MountFile struct {
	Resources []Mount `yaml:"resources"`
}

// Builder creates a handler for a mount.
type Builder func(m Mount) (handler.Handler, error)

// Load parses a mounts document from r and registers a handler for every
// entry using the builder named by the entry's handler field.
func (r *Registry) Load(src io.Reader, builders map[string]Builder) error {
	var mf MountFile
	dec := yaml.NewDecoder(src)
	dec.KnownFields(true)
	if err := dec.Decode(&mf); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("failed to parse mounts: %w", err)
	}

	for i, m := range mf.Resources {
		if m.Prefix == "" {
			return fmt.Errorf("mount %d: missing prefix", i)
		}
		build, ok := builders[m.Handler]
		if !ok {
			return fmt.Errorf("mount %s: unknown handler %q", m.Prefix, m.Handler)
		}
		h, err := build(m)
		if err != nil {
			return fmt.Errorf("mount %s: %w", m.Prefix, err)
		}
		if err := r.Register(m.Prefix, h); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile reads a mounts file from disk.
func (r *Registry) LoadFile(path string, builders map[string]Builder) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open mounts file %s: %w", path, err)
	}
	defer f.Close()
	return r.Load(f, builders)
}
