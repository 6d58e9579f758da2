// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coapgw

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every environment variable read by the gateway.
const EnvPrefix = "COAPGW_"

// Config holds the gateway configuration.
type Config struct {
	// CoAP listener
	Host            string        `env:"COAP_HOST"             envDefault:""`
	Port            string        `env:"COAP_PORT"             envDefault:"5683"`
	SessionTimeout  time.Duration `env:"SESSION_TIMEOUT"       envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"      envDefault:"30s"`
	MaxSessions     int           `env:"MAX_SESSIONS"          envDefault:"10000"`
	WorkerPoolSize  int           `env:"WORKER_POOL_SIZE"      envDefault:"100"`
	BufferSize      int           `env:"BUFFER_SIZE"           envDefault:"8192"`
	MailboxSize     int           `env:"MAILBOX_SIZE"          envDefault:"16"`
	MaxResponders   int           `env:"MAX_RESPONDERS"        envDefault:"0"`

	// Resources; the sqlite handler kind is available when DBPath is set
	MountsFile string `env:"MOUNTS_FILE" envDefault:""`
	DBPath     string `env:"DB_PATH"     envDefault:""`

	// MQTT bridge; disabled when MQTTURL is empty
	MQTTURL      string `env:"MQTT_URL"       envDefault:""`
	MQTTClientID string `env:"MQTT_CLIENT_ID" envDefault:"coapgw"`
	MQTTUsername string `env:"MQTT_USERNAME"  envDefault:""`
	MQTTPassword string `env:"MQTT_PASSWORD"  envDefault:""`
	MQTTQoS      byte   `env:"MQTT_QOS"       envDefault:"1"`

	// Observability
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
}

// NewConfig parses the configuration from the environment.
// The prefix in opts defaults to EnvPrefix.
func NewConfig(opts env.Options) (Config, error) {
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}
	c := Config{}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks values env cannot express constraints for.
func (c Config) Validate() error {
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return fmt.Errorf("invalid CoAP port %q: %w", c.Port, err)
	}
	if c.MQTTQoS > 2 {
		return fmt.Errorf("invalid MQTT QoS %d", c.MQTTQoS)
	}
	if c.BufferSize < 0 || c.MailboxSize < 0 || c.WorkerPoolSize < 0 {
		return fmt.Errorf("sizes must not be negative")
	}
	return nil
}

// Address returns the CoAP listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}
