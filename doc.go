// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coapgw holds the gateway configuration.
//
// The gateway serves CoAP resources over UDP. Every (resource path, client
// endpoint) pair is served by one responder that runs the Observe state
// machine for it; see pkg/responder. Resources are mounted from a YAML file
// onto handler kinds: "store" (an in-memory value store) and "mqtt" (a
// bridge to MQTT topics).
package coapgw
