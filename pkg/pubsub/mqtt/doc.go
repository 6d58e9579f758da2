// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt exposes MQTT topics as observable CoAP resources.
//
// A resource path below the mount prefix names a topic: with the handler
// mounted at /ps, the path /ps/home/temp maps to the topic home/temp.
//
//	GET     last value seen on the topic
//	PUT     publish a retained value
//	POST    publish a non-retained value
//	DELETE  clear the retained value
//	Observe subscribe; each broker message becomes a notification
//
// The broker subscription for a topic is shared by every observer of that
// topic. It is made when the first observer registers and dropped when the
// last one leaves, either by deregistering or because its responder
// terminated.
//
// Client adapts github.com/eclipse/paho.mqtt.golang to the narrow Broker
// interface the handler depends on.
package mqtt
