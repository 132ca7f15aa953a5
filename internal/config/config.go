// Package config holds the server settings and their validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/PipeOpsHQ/pipehook/internal/hub"
	"github.com/PipeOpsHQ/pipehook/internal/store"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"

	// DefaultMaxBodyBytes caps inbound capture payloads.
	DefaultMaxBodyBytes = 10 << 20
)

type Config struct {
	Addr            string        `json:"addr" validate:"required"`
	PublicURL       string        `json:"public_url" validate:"omitempty,url"`
	StoreDriver     string        `json:"store" validate:"oneof=memory sqlite"`
	DatabasePath    string        `json:"database_path" validate:"required_if=StoreDriver sqlite"`
	TTL             time.Duration `json:"ttl" validate:"gt=0"`
	Capacity        int           `json:"capacity" validate:"gt=0"`
	ReapInterval    time.Duration `json:"reap_interval" validate:"gt=0"`
	Heartbeat       time.Duration `json:"heartbeat" validate:"gt=0,lte=30s"`
	SubscriberQueue int           `json:"subscriber_queue" validate:"gt=0"`
	MaxBodyBytes    int64         `json:"max_body_bytes" validate:"gt=0"`
	NATSURL         string        `json:"nats_url,omitempty"`
	LogLevel        string        `json:"log_level" validate:"oneof=debug info warn error"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" validate:"gt=0"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Addr:            ":8080",
		StoreDriver:     DriverMemory,
		DatabasePath:    "pipehook.db",
		TTL:             store.DefaultTTL,
		Capacity:        store.DefaultCapacity,
		ReapInterval:    time.Minute,
		Heartbeat:       hub.DefaultHeartbeat,
		SubscriberQueue: hub.DefaultBufferSize,
		MaxBodyBytes:    DefaultMaxBodyBytes,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

var validate = validator.New()

// Validate checks c and reports every offending field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// PublicBase returns the configured public URL without a trailing slash.
func (c Config) PublicBase() string {
	return strings.TrimRight(c.PublicURL, "/")
}

// LoadDotEnv loads the given env files (".env" when none are given) into the
// process environment without overriding variables that are already set.
// Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
