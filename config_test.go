// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coapgw

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(env.Options{Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	if cfg.Port != "5683" {
		t.Errorf("Port = %q, want 5683", cfg.Port)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Errorf("SessionTimeout = %v, want 5m", cfg.SessionTimeout)
	}
	if cfg.MQTTURL != "" {
		t.Error("Expected MQTT bridge disabled by default")
	}
	if cfg.Address() != ":5683" {
		t.Errorf("Address() = %q, want :5683", cfg.Address())
	}
}

func TestNewConfig_Environment(t *testing.T) {
	cfg, err := NewConfig(env.Options{Environment: map[string]string{
		"COAPGW_COAP_HOST":        "127.0.0.1",
		"COAPGW_COAP_PORT":        "5684",
		"COAPGW_MAILBOX_SIZE":     "4",
		"COAPGW_MQTT_URL":         "tcp://broker:1883",
		"COAPGW_MQTT_QOS":         "2",
		"COAPGW_SHUTDOWN_TIMEOUT": "5s",
	}})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}

	if cfg.Address() != "127.0.0.1:5684" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.MailboxSize != 4 {
		t.Errorf("MailboxSize = %d, want 4", cfg.MailboxSize)
	}
	if cfg.MQTTURL != "tcp://broker:1883" || cfg.MQTTQoS != 2 {
		t.Errorf("MQTT = %q qos %d", cfg.MQTTURL, cfg.MQTTQoS)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port not a number", map[string]string{"COAPGW_COAP_PORT": "coap"}},
		{"port out of range", map[string]string{"COAPGW_COAP_PORT": "70000"}},
		{"qos too high", map[string]string{"COAPGW_MQTT_QOS": "3"}},
		{"negative mailbox", map[string]string{"COAPGW_MAILBOX_SIZE": "-1"}},
		{"bad duration", map[string]string{"COAPGW_SESSION_TIMEOUT": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConfig(env.Options{Environment: tt.env}); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestNewConfig_CustomPrefix(t *testing.T) {
	cfg, err := NewConfig(env.Options{
		Prefix:      "EDGE_",
		Environment: map[string]string{"EDGE_COAP_PORT": "6000"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "6000" {
		t.Errorf("Port = %q, want 6000", cfg.Port)
	}
}
